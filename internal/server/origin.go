// Package server decides which browser origins may open WebSocket relay
// sessions.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// wildcardOrigin in the configuration admits any well-formed origin.
const wildcardOrigin = "*"

// OriginPolicy decides which browser origins may open a WebSocket relay session.
// Origins are compared as lower-cased scheme://host[:port]; paths are ignored.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

// NewOriginPolicy builds a policy from configured origins. Invalid entries
// are logged and skipped.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	if logger == nil {
		logger = slog.Default()
	}

	p := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     logger,
	}
	for _, entry := range origins {
		p.add(strings.TrimSpace(entry))
	}
	return p
}

func (p *OriginPolicy) add(entry string) {
	switch entry {
	case "":
		return
	case wildcardOrigin:
		p.allowAll = true
		return
	}

	key, ok := originKey(entry)
	if !ok {
		p.log.Warn("ignoring invalid origin in configuration", "origin", entry)
		return
	}
	p.allowed[key] = struct{}{}
}

// originKey reduces an origin to the form policies compare.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// Allowed reports whether the request's Origin header is permitted. Requests
// without a well-formed Origin are refused even under the wildcard.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	key, ok := originKey(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, found := p.allowed[key]
	return found
}

// CheckOrigin matches websocket.Upgrader.CheckOrigin and logs rejections.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allowed(r) {
		return true
	}
	p.log.Warn("blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
