// Package session implements spec.md §4.2–§4.6: the ClientTable, Listener,
// wire-protocol dispatch, and the master-side event loop that owns a pty
// session and fans its output out to every attached client.
//
// The original design (dtach's master.c) is a single-threaded,
// select(2)-driven scheduler with no locking because there is no
// concurrency. This package keeps that "HOW" — one owner per resource,
// minimal shared mutable state — but expresses it the idiomatic Go way:
// one goroutine per connection (blocking reads instead of manual readiness
// polling) feeding a shared, mutex-guarded ClientTable, with a bounded
// per-client channel standing in for the original's write-readiness
// sub-loop.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ianremillard/hitch/internal/config"
	"github.com/ianremillard/hitch/internal/ptyhost"
	"github.com/ianremillard/hitch/internal/wire"
)

const bufSize = 4096 // spec.md §4.5 BUFSIZE

// Config carries the immutable session configuration of spec.md §3 that
// Master needs at construction time.
type Config struct {
	Progname      string
	Argv          []string
	OrigTermios   *unix.Termios
	DefaultRedraw byte // one of wire.Redraw*
	WaitAttach    bool
	ClientQueue   int
	DropLimit     int
}

// FromDefaults builds a Config from loaded session defaults plus the
// per-invocation argv.
func FromDefaults(d config.Defaults, progname string, argv []string, orig *unix.Termios, waitAttach *bool) Config {
	cfg := Config{
		Progname:      progname,
		Argv:          argv,
		OrigTermios:   orig,
		DefaultRedraw: d.Redraw.Byte(),
		WaitAttach:    d.WaitAttach,
		ClientQueue:   d.ClientQueue,
		DropLimit:     d.DropLimit,
	}
	if waitAttach != nil {
		cfg.WaitAttach = *waitAttach
	}
	return cfg
}

// Master owns the PtyHost, ClientTable, and Listener for the process
// lifetime (spec.md §3 Ownership). There is exactly one Master per
// process: a session multiplexes clients, not programs.
type Master struct {
	cfg      Config
	host     *ptyhost.Host
	table    *ClientTable
	listener *Listener

	attachGate     chan struct{}
	attachGateOnce sync.Once
	attachStateMu  sync.Mutex
	lastExecBitSet bool
}

// New spawns the child under a fresh pty and takes ownership of the
// already-bound listener. statusW,
// if non-nil, receives an exec-failure diagnostic exactly once before this
// call returns an error (spec.md §4.1's status channel).
func New(cfg Config, listener *Listener, statusW io.Writer) (*Master, error) {
	host, err := ptyhost.Spawn(cfg.Progname, cfg.Argv, cfg.OrigTermios, statusW)
	if err != nil {
		return nil, err
	}

	m := &Master{
		cfg:        cfg,
		host:       host,
		table:      newClientTable(),
		listener:   listener,
		attachGate: make(chan struct{}),
	}
	if !cfg.WaitAttach {
		close(m.attachGate)
	}
	return m, nil
}

// Pid exposes the child pid, e.g. for metadata/logging at the call site.
func (m *Master) Pid() int { return m.host.Pid() }

// Reap blocks until the pty child exits and reaps it — the bookkeeping half
// of spec.md §4.6's SIGCHLD handler. internal/daemonize runs this in its own
// goroutine once the SIGCHLD signal it registered alongside SIGINT/SIGTERM
// fires, so a dead child is reaped (and, on broken-master platforms, its
// stuck master fd force-closed) independently of whatever ptyReadLoop is
// doing.
func (m *Master) Reap() {
	m.host.Wait()
}

// Run is the event loop: it accepts clients, fans out pty output, and
// blocks until the pty reports EOF or a fatal error (spec.md §7 PtyFatal).
// The return value is nil for a clean child exit and non-nil otherwise,
// matching the process exit codes of spec.md §6.
func (m *Master) Run() error {
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		m.acceptLoop()
	}()

	err := m.ptyReadLoop()

	m.host.Close()
	m.listener.Close()
	for _, c := range m.table.Snapshot() {
		m.table.Remove(c)
	}
	<-acceptDone
	return err
}

// acceptLoop implements spec.md §4.5 step 4: accept new peers into the
// ClientTable, non-blocking, and never starve them behind heavy pty
// output (each accepted client gets its own goroutines immediately).
func (m *Master) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return // listener closed: master is shutting down
		}
		c := m.table.Insert(conn, m.cfg.ClientQueue)
		m.refreshExecBit()
		go m.clientWriteLoop(c)
		go m.clientReadLoop(c)
	}
}

// clientReadLoop decodes one fixed-size wire.Packet per read and dispatches
// it (spec.md §4.5 step 5). A zero-byte read or any other error removes and
// closes the client without affecting others.
func (m *Master) clientReadLoop(c *Client) {
	buf := make([]byte, wire.Size)
	for {
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			m.table.Remove(c)
			m.refreshExecBit()
			return
		}
		pkt, err := wire.Decode(buf)
		if err != nil {
			continue // malformed record of the right length: ignore and keep reading
		}
		m.dispatch(c, pkt)
	}
}

// clientWriteLoop drains c's fan-out queue to its socket. It exits when the
// client is torn down (c.done closes) or a write fails.
func (m *Master) clientWriteLoop(c *Client) {
	for {
		select {
		case chunk, ok := <-c.out:
			if !ok {
				return
			}
			if _, err := c.conn.Write(chunk); err != nil {
				m.table.Remove(c)
				m.refreshExecBit()
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch applies one decoded packet per spec.md §4.4.
func (m *Master) dispatch(c *Client, pkt wire.Packet) {
	switch pkt.Type {
	case wire.Push:
		if int(pkt.Len) > len(pkt.Payload) {
			return // discarded per spec.md §4.4/§8
		}
		if pkt.Len == 0 {
			return // no-op, spec.md §8 idempotence law
		}
		m.host.WriteInput(pkt.PushData())

	case wire.Attach:
		c.setAttached(true)
		m.openAttachGate()
		m.refreshExecBit()

	case wire.Detach:
		c.setAttached(false)
		m.refreshExecBit()

	case wire.Winch:
		m.host.SetWinsize(pkt.Winsize())

	case wire.Redraw:
		m.host.SetWinsize(pkt.Winsize())
		m.applyRedraw(pkt.Len)

	default:
		// type > 4: ignored, spec.md §8 boundary behavior
	}
}

// applyRedraw carries out the redraw method named by raw (spec.md §4.4).
func (m *Master) applyRedraw(raw byte) {
	method := raw
	if method == wire.RedrawUnspec {
		method = m.cfg.DefaultRedraw
	}
	switch method {
	case wire.RedrawNone:
		return
	case wire.RedrawCtrlL:
		if m.termiosAllowsCtrlL() {
			m.host.WriteInput([]byte{'\f'})
		}
	case wire.RedrawWinch:
		m.host.SignalChild(unix.SIGWINCH)
	}
}

// termiosAllowsCtrlL reports whether the cached termios is in
// non-echoing, character-at-a-time mode: ECHO and ICANON both clear and
// VMIN == 1 (spec.md §4.4, §8 scenario 3).
func (m *Master) termiosAllowsCtrlL() bool {
	t, ok := m.host.Termios()
	if !ok {
		return false
	}
	return termiosAllowsCtrlL(t)
}

// termiosAllowsCtrlL is the pure predicate behind Master.termiosAllowsCtrlL,
// split out so the gating rule itself can be tested without a real pty.
func termiosAllowsCtrlL(t unix.Termios) bool {
	if t.Lflag&(unix.ECHO|unix.ICANON) != 0 {
		return false
	}
	return t.Cc[unix.VMIN] == 1
}

// openAttachGate clears the wait-for-attach gate exactly once, the first
// time any client attaches (spec.md §4.5 step 7).
func (m *Master) openAttachGate() {
	m.attachGateOnce.Do(func() { close(m.attachGate) })
}

// refreshExecBit toggles the socket's S_IXUSR bit when the aggregate
// attached-or-not state changes (spec.md §4.5 step 2, §6).
func (m *Master) refreshExecBit() {
	has := m.table.AnyAttached()
	m.attachStateMu.Lock()
	changed := has != m.lastExecBitSet
	m.lastExecBitSet = has
	m.attachStateMu.Unlock()
	if changed {
		m.listener.SetExecBit(has)
	}
}

// ptyReadLoop reads child output and fans it out to attached clients
// (spec.md §4.5 step 6 and the fan-out sub-loop). It returns nil for a
// clean pty EOF (spec.md exit code 0) and a non-nil error for any other
// termination (exit code 1).
func (m *Master) ptyReadLoop() error {
	if m.cfg.WaitAttach {
		<-m.attachGate
	}

	buf := make([]byte, bufSize)
	for {
		n, err := m.host.ReadOutput(buf)
		if n > 0 {
			m.fanOut(buf[:n])
		}
		if err != nil {
			// Linux reports EIO rather than io.EOF once the child's side
			// of the pty is closed.
			if errors.Is(err, io.EOF) || errors.Is(err, unix.EIO) {
				return nil
			}
			return fmt.Errorf("pty read: %w", err)
		}
	}
}

// fanOut delivers chunk to every currently attached client, evicting any
// client whose queue has been full for cfg.DropLimit consecutive pty reads
// (SPEC_FULL.md's bounded-queue addition to spec.md §4.5's fan-out rule).
func (m *Master) fanOut(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	for _, c := range m.table.Snapshot() {
		if !c.Attached() {
			continue
		}
		if streak := c.enqueue(cp); m.cfg.DropLimit > 0 && streak >= m.cfg.DropLimit {
			log.Printf("hitch: disconnecting stalled client (queue full for %d reads)", streak)
			m.table.Remove(c)
			m.refreshExecBit()
		}
	}
}
