package server_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/server"
)

// TestRegistry_AddAndSnapshot verifies that snapshots keep insertion order
// and only include connections in the requested room.
func TestRegistry_AddAndSnapshot(t *testing.T) {
	var reg server.Registry

	a := joinedConnection(t, "/1")
	b := joinedConnection(t, "/2")
	c := joinedConnection(t, "/1")

	reg.Add(a)
	reg.Add(b)
	reg.Add(c)

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []*server.Connection{a, c}, reg.SnapshotForRoom(1))
	assert.Equal(t, []*server.Connection{b}, reg.SnapshotForRoom(2))
	assert.Empty(t, reg.SnapshotForRoom(7))
}

func TestRegistry_Remove(t *testing.T) {
	tests := []struct {
		name      string
		removals  int
		wantFirst bool
		wantLen   int
	}{
		{name: "remove once", removals: 1, wantFirst: true, wantLen: 2},
		{name: "remove twice is idempotent", removals: 2, wantFirst: true, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reg server.Registry
			a := joinedConnection(t, "/1")
			b := joinedConnection(t, "/1")
			c := joinedConnection(t, "/1")
			reg.Add(a)
			reg.Add(b)
			reg.Add(c)

			first := reg.Remove(b)
			for i := 1; i < tt.removals; i++ {
				assert.False(t, reg.Remove(b), "second removal must be a no-op")
			}

			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLen, reg.Len())
			assert.False(t, reg.Contains(b))
			assert.Equal(t, []*server.Connection{a, c}, reg.All())
		})
	}
}

func TestRegistry_RemoveAbsent(t *testing.T) {
	var reg server.Registry
	a := joinedConnection(t, "/1")

	assert.False(t, reg.Remove(a))
	assert.Equal(t, 0, reg.Len())
}

// TestRegistry_SnapshotReflectsRoomSwitch verifies that the registry reads
// each connection's room at snapshot time rather than at insertion.
func TestRegistry_SnapshotReflectsRoomSwitch(t *testing.T) {
	relay := server.NewRelay(testLogger(), nil)
	handler, transport := joinRoom(t, relay, "a", "/1")

	transport.send("/4")
	require.Eventually(t, func() bool {
		return handler.Connection().Room() == 4
	}, waitFor, tick)

	stats := relay.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, map[int]int{4: 1}, stats.Rooms)
}

// joinedConnection returns a Connection whose room was set by a real
// handshake, so registry tests don't depend on unexported setters.
func joinedConnection(t *testing.T, room string) *server.Connection {
	t.Helper()
	relay := server.NewRelay(testLogger(), nil)
	handler, _ := joinRoom(t, relay, "peer", room)
	return handler.Connection()
}
