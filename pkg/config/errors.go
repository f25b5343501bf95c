package config

import "errors"

var (
	// ErrConfigNotFound indicates a requested configuration file does not
	// exist. Callers fall back to defaults rather than treating this as
	// fatal, except for group.yaml when opening an existing group.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)
