// Package services provides shared error classification and context
// annotation used across the engine.
package services
