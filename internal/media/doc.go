// Package media holds the read-only fact types the policy engine evaluates
// against: container and track metadata, classification results, and
// language analysis.
package media
