// Package logging provides slog construction and standardized structured
// attributes for the engine.
package logging
