// Package server implements the hwlink diagnostics HTTP server.
//
// Routes:
//
//	GET /healthz           liveness, 204
//	GET /metrics           Prometheus exposition
//	GET /sessions          JSON array of board session status
//	GET /sessions/{name}   status of one board, 404 if unknown
//	GET /version           build identity of the running binary
//	GET /diag              websocket feed of diagnostic events as JSON
//
// The diagnostics feed is fed by the Hub, which is a diag.Sink. Each client
// has a bounded buffer; when it is full new events for that client are
// dropped so a slow browser can never hold up a board decoder.
//
// When a certificate and key are configured the server speaks HTTPS only,
// TLS 1.2 or newer.
package server
