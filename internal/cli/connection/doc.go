// Package connection is the tokvault-cli HTTP client for the
// tokvault-server order, admin and download APIs.
package connection
