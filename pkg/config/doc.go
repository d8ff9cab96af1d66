// Package config loads server configuration from an optional YAML file and
// environment variables, with environment taking precedence.
package config
