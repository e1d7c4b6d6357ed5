// Package server exposes the relay's HTTP handlers: WebSocket upgrades,
// health checks, room statistics, and metrics.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades GET requests and admits the connection into the
// relay through the same Acceptor path as TCP clients.
func WebSocketHandler(acceptor *Acceptor, origins *OriginPolicy, opts TransportOptions, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.CheckOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
			return
		}

		acceptor.Admit(NewWebSocketTransport(conn, r.RemoteAddr, opts))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running!")
}

// StatsHandler reports registered connections per room as JSON.
func StatsHandler(relay *Relay, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(relay.Stats()); err != nil {
			logger.Warn("error writing stats response", "err", err)
		}
	}
}
