// Package config loads and validates the TOML application configuration.
package config
