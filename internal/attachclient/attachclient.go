// Package attachclient implements the attaching-peer half of spec.md §6:
// connect to an existing session's socket, switch the local terminal to raw
// mode, and shuttle bytes between the controlling terminal and the master
// until EOF, a fatal error, or the user's detach character.
//
// It is grounded on the teacher's cmdAttach (term.MakeRaw, an io.Copy
// goroutine for master->terminal output, a second goroutine reading stdin
// for the detach sentinel, and SIGWINCH plumbing via term.GetSize), adapted
// from that program's JSON+length-framed protocol to spec.md's fixed
// wire.Packet records. Suspend-key handling (VSUSP: detach, raise SIGTSTP
// on ourselves, then re-attach and request a redraw on resume) is ported
// directly from attach.c's process_kbd, a feature the distilled spec.md
// doesn't mention but original_source/attach.c implements in full.
package attachclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ianremillard/hitch/internal/wire"
)

// maxSunPath mirrors internal/session's constant; kept separate so this
// package doesn't need to import session just for one number.
const maxSunPath = 104

// Dial connects to the session socket at path, retrying through the
// chdir-shortening fallback dtach's attach_main uses when the path exceeds
// the platform's sun_path limit (spec.md §8 scenario 6 applies to clients
// too, not just the listening master).
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err == nil {
		return conn, nil
	}
	if len(path) <= maxSunPath {
		return nil, err
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		return nil, err
	}
	cwd, gerr := os.Getwd()
	if gerr != nil {
		return nil, err
	}
	if cerr := os.Chdir(strings.TrimSuffix(dir, "/")); cerr != nil {
		return nil, err
	}
	defer os.Chdir(cwd)

	return net.Dial("unix", base)
}

// Options configures one attach session (spec.md §3's per-attach knobs).
type Options struct {
	HasDetach  bool
	DetachChar byte // meaningless unless HasDetach
	NoSuspend  bool
	Quiet      bool // suppress the [detached]/[EOF]/error status lines
	RedrawByte byte // wire.Redraw*, sent with the initial attach
}

// Run performs the attach handshake and then copies bytes until detach or
// termination. orig is the terminal's settings before raw mode; its VSUSP
// character is the suspend key. It takes over the calling goroutine until
// the session ends.
func Run(conn net.Conn, orig *unix.Termios, opts Options) error {
	fd := int(os.Stdin.Fd())

	raw, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(fd, raw)
	defer fmt.Print("\033[?25h")

	if _, err := conn.Write(wire.Encode(wire.Attach, 0, nil)); err != nil {
		return fmt.Errorf("send attach: %w", err)
	}
	if err := sendWinch(conn, wire.Redraw, opts.RedrawByte); err != nil {
		return fmt.Errorf("send initial redraw: %w", err)
	}

	fmt.Print("\033[H\033[J")

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(os.Stdout, conn)
		if err != nil && !errors.Is(err, io.EOF) {
			errCh <- fmt.Errorf("read from session: %w", err)
			return
		}
		errCh <- io.EOF
	}()

	go func() {
		errCh <- copyStdin(conn, fd, raw, orig, opts)
	}()

	for {
		select {
		case <-winchCh:
			if err := sendWinch(conn, wire.Winch, 0); err != nil {
				return err
			}
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				if !opts.Quiet {
					fmt.Print("\r\n[EOF - session terminating]\r\n")
				}
				return nil
			}
			if !opts.Quiet {
				fmt.Printf("\r\n[%v]\r\n", err)
			}
			return err
		}
	}
}

// copyStdin reads keystrokes and forwards them as PUSH packets, watching for
// the suspend character and the detach character (spec.md §6 plus
// attach.c's process_kbd).
func copyStdin(conn net.Conn, fd int, raw *term.State, orig *unix.Termios, opts Options) error {
	vsusp := byte(0)
	haveSusp := false
	if !opts.NoSuspend && orig != nil {
		vsusp = orig.Cc[unix.VSUSP]
		haveSusp = vsusp != 0
	}

	buf := make([]byte, 8) // payload is capped at 8 bytes per PUSH record
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		if haveSusp && n == 1 && buf[0] == vsusp {
			if err := suspend(conn, fd, raw, opts); err != nil {
				return err
			}
			continue
		}
		if opts.HasDetach {
			if idx := indexByte(buf[:n], opts.DetachChar); idx >= 0 {
				if idx > 0 {
					if _, err := conn.Write(wire.Encode(wire.Push, byte(idx), buf[:idx])); err != nil {
						return err
					}
				}
				if !opts.Quiet {
					fmt.Print("\r\n[detached]\r\n")
				}
				return io.EOF
			}
		}
		if _, err := conn.Write(wire.Encode(wire.Push, byte(n), buf[:n])); err != nil {
			return err
		}
	}
}

// suspend implements attach.c's VSUSP handling: tell the master we're
// detaching, restore the original terminal mode, raise SIGTSTP on
// ourselves, and on resume re-attach with a fresh redraw request.
func suspend(conn net.Conn, fd int, raw *term.State, opts Options) error {
	if _, err := conn.Write(wire.Encode(wire.Detach, 0, nil)); err != nil {
		return err
	}
	term.Restore(fd, raw)
	fmt.Print("\r\n")
	unix.Kill(os.Getpid(), unix.SIGTSTP)
	term.MakeRaw(fd)

	if _, err := conn.Write(wire.Encode(wire.Attach, 0, nil)); err != nil {
		return err
	}
	return sendWinch(conn, wire.Redraw, opts.RedrawByte)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func sendWinch(conn net.Conn, typ, method byte) error {
	rows, cols, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		rows, cols = 24, 80
	}
	ws := wire.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	_, err = conn.Write(wire.EncodeWinsize(typ, method, ws))
	return err
}
