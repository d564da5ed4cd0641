// Package command defines the tokvault-cli commands.
//
// Connection settings resolve in order: flags, TOKVAULT_CLI_* environment
// variables, then the saved CLI configuration file.
package command
