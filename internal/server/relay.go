// Package server coordinates room membership and message fan-out for the
// relay via the Relay type, which owns the only state shared between
// connection handlers.
package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Relay holds the Registry, the relay lock guarding it, and the process-wide
// termination flag. One Relay is shared by the Acceptor and every
// ConnectionHandler.
type Relay struct {
	mu         sync.Mutex
	registry   Registry
	terminated atomic.Bool

	log     *slog.Logger
	metrics *Metrics
}

// Stats is a point-in-time view of room occupancy.
type Stats struct {
	Connections int         `json:"connections"`
	Rooms       map[int]int `json:"rooms"`
}

// NewRelay creates an empty Relay. metrics may be nil.
func NewRelay(logger *slog.Logger, metrics *Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{log: logger, metrics: metrics}
}

// Join registers c. It refuses, and returns false, once shutdown has begun so
// the registry drains to empty.
func (r *Relay) Join(c *Connection) bool {
	r.mu.Lock()
	if r.terminated.Load() {
		r.mu.Unlock()
		return false
	}
	r.registry.Add(c)
	total := r.registry.Len()
	r.mu.Unlock()

	r.metrics.joined()
	r.log.Info("client joined", "conn", c.ID(), "addr", c.Addr(), "room", c.Room(), "clients", total)
	return true
}

// Leave unregisters c. Calling it for a connection that is not registered is
// a no-op that returns false.
func (r *Relay) Leave(c *Connection) bool {
	r.mu.Lock()
	removed := r.registry.Remove(c)
	total := r.registry.Len()
	r.mu.Unlock()

	if removed {
		r.metrics.left()
		r.log.Info("client left", "conn", c.ID(), "addr", c.Addr(), "room", c.Room(), "clients", total)
	}
	return removed
}

// Broadcast writes line to every connection registered in the sender's
// room, the sender included, and returns the number of successful writes.
//
// The relay lock is held for the snapshot and every write, so no connection
// joins or leaves mid-broadcast. A failed write is logged and skipped; the
// recipient stays registered until its own handler notices the broken stream.
func (r *Relay) Broadcast(sender *Connection, line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := sender.Room()
	recipients := r.registry.SnapshotForRoom(room)

	delivered, failed := 0, 0
	for _, c := range recipients {
		if err := c.send(line); err != nil {
			failed++
			if !isExpectedCloseError(err) {
				r.log.Warn("delivery failed", "conn", c.ID(), "addr", c.Addr(), "room", room, "err", err)
			}
			continue
		}
		delivered++
	}

	r.metrics.broadcast(delivered, failed)
	r.log.Debug("broadcast", "from", sender.ID(), "room", room, "delivered", delivered, "failed", failed)
	return delivered
}

// Terminated reports whether shutdown has begun.
func (r *Relay) Terminated() bool {
	return r.terminated.Load()
}

// terminate sets the termination flag and reports whether this call set it.
// It does not take the relay lock: a broadcast stuck on a stalled recipient
// must not delay shutdown, which unblocks it by closing transports.
func (r *Relay) terminate() bool {
	return r.terminated.CompareAndSwap(false, true)
}

// Members returns the registered connections in registry order.
func (r *Relay) Members() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.All()
}

// IsMember reports whether c is currently registered.
func (r *Relay) IsMember(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.Contains(c)
}

// Stats returns the number of registered connections per room.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Connections: r.registry.Len(),
		Rooms:       make(map[int]int),
	}
	for _, c := range r.registry.conns {
		stats.Rooms[c.Room()]++
	}
	return stats
}
