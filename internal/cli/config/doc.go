// Package config loads and saves the tokvault-cli configuration file
// (~/.tokvault/cli.yaml).
package config
