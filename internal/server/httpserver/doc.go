// Package httpserver serves the tokvault HTTP API.
//
// It layers request IDs, panic recovery, metrics, audit logging,
// bearer-token auth and per-IP download rate limits over the routes in
// package handler, using net/http and its pattern-based ServeMux.
package httpserver
