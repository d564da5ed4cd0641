// Package main provides the entry point for tokvault-server.
//
// tokvault-server issues time- and use-limited download tokens when orders
// complete and streams the purchased files to holders of valid tokens.
package main
