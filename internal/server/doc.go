// Package server implements the HTTP API for monitoring the gateway.
// It exposes health, session and framing statistics, the active
// configuration and Prometheus metrics.
package server
