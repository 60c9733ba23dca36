// Package config defines the tracker's YAML configuration surface,
// defaults, and validation.
package config
