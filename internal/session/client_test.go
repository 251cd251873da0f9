package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientTableInsertAndRemove(t *testing.T) {
	table := newClientTable()
	a, _ := net.Pipe()
	c := table.Insert(a, 4)
	assert.Equal(t, 1, table.Len())

	table.Remove(c)
	assert.Equal(t, 0, table.Len())
}

func TestClientTableAnyAttached(t *testing.T) {
	table := newClientTable()
	server, client := net.Pipe()
	defer client.Close()
	c := table.Insert(server, 4)
	assert.False(t, table.AnyAttached())

	c.setAttached(true)
	assert.True(t, table.AnyAttached())

	c.setAttached(false)
	assert.False(t, table.AnyAttached())
}

func TestClientEnqueueDeliversUntilFull(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newClient(1, server, 2)
	assert.Equal(t, 0, c.enqueue([]byte("a")))
	assert.Equal(t, 0, c.enqueue([]byte("b")))
}

func TestClientEnqueueDropsOldestWhenFull(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newClient(1, server, 1)
	require.Equal(t, 0, c.enqueue([]byte("first")))
	streak := c.enqueue([]byte("second")) // queue depth 1: first must be dropped to make room
	assert.Equal(t, 1, streak)

	chunk := <-c.out
	assert.Equal(t, "second", string(chunk), "the newest chunk should survive, not the oldest")
}

func TestClientEnqueueStreakResetsOnSuccess(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newClient(1, server, 1)
	c.enqueue([]byte("a"))
	streak := c.enqueue([]byte("b")) // full: drop+replace, streak = 1
	assert.Equal(t, 1, streak)

	<-c.out // drain so the next enqueue has room
	streak = c.enqueue([]byte("c"))
	assert.Equal(t, 0, streak, "a successful non-full send resets the streak")
}

func TestClientTableSnapshotIsIndependentOfConcurrentRemoval(t *testing.T) {
	table := newClientTable()
	server, client := net.Pipe()
	defer client.Close()
	c := table.Insert(server, 4)

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	table.Remove(c)
	assert.Len(t, snap, 1, "a previously taken snapshot is unaffected by later removal")
	assert.Equal(t, 0, table.Len())
}
