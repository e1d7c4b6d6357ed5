// Package server implements a room-based text relay.
//
// Clients connect over TCP (or a WebSocket on the HTTP surface), receive the
// number of rooms, and answer with "/<room>". Every other line they send is
// written to all connections in the same room, the sender included. "/<room>"
// switches rooms and "shutdown" leaves.
//
// The Relay type holds the only shared state: the Registry of joined
// connections, the lock that serializes registry changes with broadcasts, and
// the termination flag. The Acceptor starts one ConnectionHandler goroutine per
// client, and the ShutdownCoordinator drains them all. Files are split by
// concern: configuration, transports, registry, relay, handler, acceptor,
// shutdown, and the HTTP surface.
package server
