package server

// Registry is the ordered set of live connections.
//
// It performs no locking of its own: every call must be made while holding
// the relay lock, so that mutation and broadcast iteration share one
// mutual-exclusion domain.
type Registry struct {
	conns []*Connection
}

// Add appends a connection. Callers add each connection exactly once.
func (r *Registry) Add(c *Connection) {
	r.conns = append(r.conns, c)
}

// Remove deletes the first entry identical to c and reports whether one was
// found. Removing an absent connection is a no-op.
func (r *Registry) Remove(c *Connection) bool {
	for i, existing := range r.conns {
		if existing != c {
			continue
		}
		copy(r.conns[i:], r.conns[i+1:])
		r.conns[len(r.conns)-1] = nil
		r.conns = r.conns[:len(r.conns)-1]
		return true
	}
	return false
}

// SnapshotForRoom returns, in registry order, the connections whose room is
// room at the time of the call.
func (r *Registry) SnapshotForRoom(room int) []*Connection {
	members := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Room() == room {
			members = append(members, c)
		}
	}
	return members
}

// Contains reports whether c is registered.
func (r *Registry) Contains(c *Connection) bool {
	for _, existing := range r.conns {
		if existing == c {
			return true
		}
	}
	return false
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// All returns a copy of every registered connection in insertion order.
func (r *Registry) All() []*Connection {
	return append([]*Connection(nil), r.conns...)
}
