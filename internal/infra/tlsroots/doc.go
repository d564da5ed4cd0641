// Package tlsroots manages TLS material for tokvault-server.
//
//   - roots.go: trust pools for outbound clients (webhook CA bundle)
//   - watcher.go: HTTPS key pair hot reload via fsnotify
package tlsroots
