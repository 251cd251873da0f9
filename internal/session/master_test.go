package session

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/hitch/internal/ptyhost"
)

// newTestMaster builds a Master with a real bound Listener and ClientTable
// but no ptyhost.Host, sufficient for exercising fan-out, eviction, and the
// attach-gate/exec-bit bookkeeping that don't touch the pty.
func newTestMaster(t *testing.T, dropLimit int) *Master {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sess.sock")
	l, err := Bind(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close(); l.Unlink() })

	return &Master{
		cfg:        Config{DropLimit: dropLimit},
		table:      newClientTable(),
		listener:   l,
		attachGate: make(chan struct{}),
	}
}

func TestFanOutSkipsUnattachedClients(t *testing.T) {
	m := newTestMaster(t, 8)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := m.table.Insert(server, 4)

	m.fanOut([]byte("data"))
	select {
	case <-c.out:
		t.Fatal("an unattached client should not receive fanned-out output")
	default:
	}
}

func TestFanOutDeliversToAttachedClients(t *testing.T) {
	m := newTestMaster(t, 8)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := m.table.Insert(server, 4)
	c.setAttached(true)

	m.fanOut([]byte("data"))
	chunk := <-c.out
	assert.Equal(t, "data", string(chunk))
}

func TestFanOutEvictsClientAfterDropLimitConsecutiveFullReads(t *testing.T) {
	m := newTestMaster(t, 2)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := m.table.Insert(server, 1)
	c.setAttached(true)

	m.fanOut([]byte("a")) // fills the depth-1 queue, streak 0
	m.fanOut([]byte("b")) // full: drop+replace, streak 1
	assert.Equal(t, 1, m.table.Len())

	m.fanOut([]byte("c")) // full again: streak 2 reaches dropLimit, evicted
	assert.Equal(t, 0, m.table.Len())
}

func TestRefreshExecBitTracksAnyAttached(t *testing.T) {
	m := newTestMaster(t, 8)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := m.table.Insert(server, 4)

	m.refreshExecBit()
	st := statModeOrFatal(t, m.listener.Path())
	assert.Zero(t, st&0o100)

	c.setAttached(true)
	m.refreshExecBit()
	st = statModeOrFatal(t, m.listener.Path())
	assert.NotZero(t, st&0o100)
}

func TestOpenAttachGateClosesExactlyOnce(t *testing.T) {
	m := newTestMaster(t, 8)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.openAttachGate()
		}()
	}
	wg.Wait()

	select {
	case <-m.attachGate:
	default:
		t.Fatal("attachGate should be closed after any openAttachGate call")
	}
}

// TestTermiosAllowsCtrlLGating exercises spec.md §8 scenario 3: CTRL_L
// redraw is only sent when the session's termios is non-echoing,
// character-at-a-time (ECHO and ICANON both clear, VMIN == 1).
func TestTermiosAllowsCtrlLGating(t *testing.T) {
	raw := unix.Termios{}
	raw.Cc[unix.VMIN] = 1
	assert.True(t, termiosAllowsCtrlL(raw))

	rawWrongVMIN := raw
	rawWrongVMIN.Cc[unix.VMIN] = 0
	assert.False(t, termiosAllowsCtrlL(rawWrongVMIN))

	cooked := raw
	cooked.Lflag = unix.ECHO | unix.ICANON
	assert.False(t, termiosAllowsCtrlL(cooked))

	echoOnly := raw
	echoOnly.Lflag = unix.ECHO
	assert.False(t, termiosAllowsCtrlL(echoOnly))
}

// TestReapReturnsAfterChildExit exercises spec.md §8 scenario 5 ("graceful
// child exit") at the Master level: once the child exits, Reap (wired from
// daemonize's SIGCHLD handler) must return instead of blocking forever.
func TestReapReturnsAfterChildExit(t *testing.T) {
	h, err := ptyhost.Spawn("true", []string{"true"}, nil, nil)
	require.NoError(t, err)
	defer h.Close()

	m := &Master{host: h}

	done := make(chan struct{})
	go func() {
		m.Reap()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reap never returned after the child exited")
	}
}

func statModeOrFatal(t *testing.T, path string) uint32 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return uint32(info.Mode().Perm())
}
