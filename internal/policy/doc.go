// Package policy loads, validates, and evaluates versioned YAML policy
// documents. A policy declares named phases of operations plus conditional
// rules whose condition trees evaluate against immutable media facts.
package policy
