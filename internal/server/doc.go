// Package server implements the UDP tracker server and HTTP API endpoints.
// It handles concurrent datagram processing, routing to the lobby registry,
// and provides monitoring endpoints.
package server
