package session

import (
	"net"
	"sync"
	"sync/atomic"
)

// Client is one connected peer, per spec.md §3/§4.2: a stream socket to an
// attached-or-detached peer, an attached flag, and (here) a bounded
// outbound queue standing in for "a small inbound framing buffer" — inbound
// framing is handled by io.ReadFull against the fixed wire.Size record
// instead, since Go's blocking reads make a manual partial-read buffer
// unnecessary (see Master.clientReadLoop in master.go).
type Client struct {
	id   uint64
	conn net.Conn

	attached atomic.Bool

	// out is the bounded fan-out queue the pty reader feeds and the write
	// goroutine drains. A full queue means this client is a stalled/slow
	// peer; see SPEC_FULL.md's high-water-mark addition for the drop policy.
	out chan []byte

	mu             sync.Mutex
	consecutiveFull int

	closeOnce sync.Once
	done      chan struct{} // closed once this client is fully torn down
}

func newClient(id uint64, conn net.Conn, queueDepth int) *Client {
	return &Client{
		id:   id,
		conn: conn,
		out:  make(chan []byte, queueDepth),
		done: make(chan struct{}),
	}
}

// Attached reports the client's current attach state.
func (c *Client) Attached() bool { return c.attached.Load() }

func (c *Client) setAttached(v bool) { c.attached.Store(v) }

// enqueue delivers chunk to this client's fan-out queue. If the queue is
// full, the oldest queued chunk is dropped to make room (accepted torn-
// output policy, spec.md §4.5 fan-out sub-loop (b)); the client's
// consecutive-full streak is tracked so Master can evict chronically
// stalled peers instead of buffering forever.
func (c *Client) enqueue(chunk []byte) (droppedConsecutively int) {
	select {
	case c.out <- chunk:
		c.mu.Lock()
		c.consecutiveFull = 0
		c.mu.Unlock()
		return 0
	default:
	}

	select {
	case <-c.out:
	default:
	}
	select {
	case c.out <- chunk:
	default:
	}

	c.mu.Lock()
	c.consecutiveFull++
	n := c.consecutiveFull
	c.mu.Unlock()
	return n
}

// close closes the underlying connection and the done channel exactly
// once (the outbound queue itself is never closed); it is safe to call from multiple goroutines (reader, writer,
// eviction) racing to tear the client down.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
		close(c.done)
	})
}

// ClientTable is the unordered collection of connected client sessions
// (spec.md §4.2). Order is never observed; iterating over Snapshot's copy
// tolerates removal of the element currently being visited.
type ClientTable struct {
	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*Client
}

func newClientTable() *ClientTable {
	return &ClientTable{clients: make(map[uint64]*Client)}
}

// Insert adds conn as a new, unattached client and returns it.
func (t *ClientTable) Insert(conn net.Conn, queueDepth int) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	c := newClient(t.nextID, conn, queueDepth)
	t.clients[c.id] = c
	return c
}

// Remove deletes c by identity. Removal implies close (spec.md §3).
func (t *ClientTable) Remove(c *Client) {
	t.mu.Lock()
	delete(t.clients, c.id)
	t.mu.Unlock()
	c.close()
}

// Snapshot returns the current clients as a slice, safe to range over even
// as the table mutates concurrently.
func (t *ClientTable) Snapshot() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// AnyAttached reports whether at least one client currently has
// attached=true.
func (t *ClientTable) AnyAttached() bool {
	for _, c := range t.Snapshot() {
		if c.Attached() {
			return true
		}
	}
	return false
}

// Len returns the number of connected clients.
func (t *ClientTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}
