// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, WebSocket endpoint, room stats and metrics.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(s.acceptor, s.origins, s.cfg.TransportOptions(), s.log))
	mux.HandleFunc("/stats", StatsHandler(s.relay, s.log))
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}
