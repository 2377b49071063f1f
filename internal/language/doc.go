// Package language normalizes ISO 639 language tags found in media metadata.
package language
