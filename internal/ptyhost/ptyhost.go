// Package ptyhost owns the master side of a pty pair and the child process
// running on its slave side. It implements spec.md §4.1 (PtyHost): spawn,
// read_output, write_input, set_winsize, and signal_child.
package ptyhost

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/hitch/internal/wire"
)

// eos is the escape sequence dtach prints before an exec-failure message
// when no status channel is available, so the cursor doesn't sit mid-screen
// on the invoker's terminal. See SPEC_FULL.md "SUPPLEMENTED FEATURES".
const eos = "\033[999H"

// Host owns the pty master fd, the child pid, and a cached copy of the
// slave-side termios and window size, per spec.md §3 PtyState.
type Host struct {
	master *os.File
	slave  *os.File // nil except on broken-master platforms; see Spawn
	cmd    *exec.Cmd

	mu          sync.Mutex // guards termios/ws: ReadOutput and client goroutines touch them concurrently
	termios     unix.Termios
	haveTermios bool
	ws          wire.Winsize
}

// GetTermios queries fd's termios using the platform's tcgetattr ioctl.
// cmd/hitch uses it to snapshot the invoking terminal's settings before
// spawning a session.
func GetTermios(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, tcgets)
}

// Pid returns the child process id.
func (h *Host) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Spawn allocates a pty, forks argv[0] onto its slave side, and returns the
// Host on success. origTermios, if non-nil, seeds the slave's terminal
// attributes (the "original terminal attributes snapshot" of spec.md §3);
// if nil the pty is created with platform defaults.
//
// On exec failure Spawn writes a diagnostic to statusW (or, if statusW is
// nil, to this process's stdout prefixed by the cursor-park escape) and
// function returns a non-nil error describing the same failure — in this
// Go translation, os/exec's Start already surfaces a PATH-lookup/exec
// failure synchronously to the caller, so the statusW write and the
// returned error carry the same information for the two different
// audiences described in spec.md §4.1 (the invoker's terminal vs. the
// foreground/report-mode parent).
func Spawn(progname string, argv []string, origTermios *unix.Termios, statusW io.Writer) (*Host, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty argv")
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("openpty: %w", err)
	}

	if origTermios != nil {
		if err := unix.IoctlSetTermios(int(slave.Fd()), tcsets, origTermios); err != nil {
			// Non-fatal: fall back to whatever defaults the slave already has.
			_ = err
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = setsidAttr()

	if err := cmd.Start(); err != nil {
		slave.Close()
		master.Close()
		msg := fmt.Sprintf("%s: could not execute %s: %s\r\n", progname, argv[0], err)
		if statusW != nil {
			io.WriteString(statusW, msg)
		} else {
			io.WriteString(os.Stdout, eos+"\r\n"+msg)
		}
		return nil, fmt.Errorf("could not execute %s: %w", argv[0], err)
	}

	h := &Host{master: master, cmd: cmd}

	// Closing our copy of the slave fd here is what lets h.master.Read()
	// observe EOF once the child exits: holding a second open reference to
	// the slave in the master process means the kernel never sees the last
	// close, so ReadOutput would block forever instead of returning EOF
	// (see other_examples' pty_unix.go: "Close the TTY in the parent -
	// child has its own reference"). Some platforms can't reliably
	// tcgetattr through the master fd alone (spec.md §9's "broken master"
	// exception); only there do we keep our slave reference open as a
	// termios-read fallback, and Wait takes on the job of force-closing the
	// master fd itself when the child exits.
	if _, terr := unix.IoctlGetTermios(int(master.Fd()), tcgets); terr != nil {
		h.slave = slave
	} else {
		slave.Close()
	}

	return h, nil
}

// ReadOutput reads child output into buf. After every successful read it
// refreshes the cached termios snapshot, per spec.md §4.1; a termios query
// failure is fatal to the master.
func (h *Host) ReadOutput(buf []byte) (int, error) {
	n, err := h.master.Read(buf)
	if n > 0 {
		if terr := h.refreshTermios(); terr != nil {
			return n, fmt.Errorf("tcgetattr: %w", terr)
		}
	}
	return n, err
}

// refreshTermios queries the current termios, preferring the master fd and
// falling back to the slave fd at runtime (spec.md §9 Open Question) for
// platforms where the master-fd query is unreliable.
func (h *Host) refreshTermios() error {
	t, err := unix.IoctlGetTermios(int(h.master.Fd()), tcgets)
	if err != nil && h.slave != nil {
		t, err = unix.IoctlGetTermios(int(h.slave.Fd()), tcgets)
	}
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.termios = *t
	h.haveTermios = true
	h.mu.Unlock()
	return nil
}

// Termios returns the last-refreshed termios snapshot and whether one has
// been observed yet (none is available before the first ReadOutput call).
func (h *Host) Termios() (unix.Termios, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.termios, h.haveTermios
}

// WriteInput pushes bytes into the pty master (a PUSH packet's payload).
func (h *Host) WriteInput(b []byte) (int, error) {
	return h.master.Write(b)
}

// SetWinsize applies ws to the pty master.
func (h *Host) SetWinsize(ws wire.Winsize) error {
	h.mu.Lock()
	h.ws = ws
	h.mu.Unlock()
	return pty.Setsize(h.master, &pty.Winsize{
		Rows: ws.Rows,
		Cols: ws.Cols,
		X:    ws.XPixel,
		Y:    ws.YPixel,
	})
}

// Winsize returns the last-applied window size.
func (h *Host) Winsize() wire.Winsize {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ws
}

// SignalChild delivers sig to the child. It tries, in order: a pty-level
// signal ioctl (TIOCSIG/TIOCSIGNAL), a process-group query via the pty
// followed by kill(-pgrp, sig), then kill(-pid, sig) as a last resort —
// mirroring original_source/master.c's killpty (spec.md §4.1).
func (h *Host) SignalChild(sig unix.Signal) error {
	if signalPty(int(h.master.Fd()), sig) {
		return nil
	}
	if pgrp, err := unix.IoctlGetInt(int(h.master.Fd()), unix.TIOCGPGRP); err == nil && pgrp > 0 {
		if err := unix.Kill(-pgrp, sig); err == nil {
			return nil
		}
	}
	return unix.Kill(-h.Pid(), sig)
}

// Wait blocks until the child exits, reaping it — spec.md §4.6's SIGCHLD
// handler duty ("die-with-child-bookkeeping"), invoked by
// session.Master.Reap. On broken-master platforms (h.slave != nil) our own
// open slave reference has kept the master fd from ever seeing EOF on its
// own, so this also force-closes the master fd to unblock a pty read loop
// stuck in Read.
func (h *Host) Wait() error {
	err := h.cmd.Wait()
	if h.slave != nil {
		h.master.Close()
	}
	return err
}

// Close releases the master and, on broken-master platforms, slave fds. It
// does not kill the child; callers that need to terminate the child use
// SignalChild or rely on pty EOF after the child exits on its own.
func (h *Host) Close() error {
	if h.slave != nil {
		h.slave.Close()
	}
	return h.master.Close()
}
