// Package server exposes projects over HTTP: the durable op log, the current
// snapshot document, the per-project realtime hub and the metrics endpoint.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /projects/{id}/snapshot
//	PUT  /projects/{id}/snapshot
//	GET  /projects/{id}/ops?after=N
//	POST /projects/{id}/ops
//	GET  /projects/{id}/ws
package server
