// Package output renders tokvault-cli results as tables, JSON or YAML.
package output
