package session

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// maxSunPath is the conservative sun_path limit this package plans around;
// Linux allows 108, several BSDs allow 104. Using the smaller figure keeps
// the fallback path (below) exercised on more platforms than it strictly
// needs to be on Linux alone.
const maxSunPath = 104

// Listener binds a local-domain stream socket per spec.md §4.3/§6: mode
// 0600 (umask during bind, chmod after), non-blocking, close-on-exec — both
// of which Go's net package already guarantees for every fd it creates —
// and a chdir-based fallback when the path exceeds the platform's
// sun_path limit.
type Listener struct {
	net.Listener
	path string
}

// Bind creates and binds the listener. On success the path is recorded so
// Unlink can remove it later (the atexit-style hook of spec.md §3).
func Bind(path string) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	os.Remove(path) // drop a stale socket from a previous, uncleanly-killed run

	l, err := bindAt(path)
	if err != nil && len(path) > maxSunPath {
		// Path-shortening fallback (spec.md §4.3, §8 scenario 6): chdir into
		// the socket's directory and bind just the basename, then restore cwd.
		l, err = bindViaChdir(path)
	}
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l, path: path}, nil
}

func bindAt(path string) (net.Listener, error) {
	oldMask := syscall.Umask(0o077)
	l, err := net.Listen("unix", path)
	syscall.Umask(oldMask)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		os.Remove(path)
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return l, nil
}

func bindViaChdir(path string) (net.Listener, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		return nil, fmt.Errorf("socket path %q has no directory component to shorten into", path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}
	if err := os.Chdir(strings.TrimSuffix(dir, "/")); err != nil {
		return nil, fmt.Errorf("chdir %s: %w", dir, err)
	}
	defer os.Chdir(cwd)

	l, err := bindAt(base)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Adopt wraps an already-listening net.Listener (recovered from an
// inherited fd by a re-exec'd backgrounded child, see internal/daemonize)
// as a Listener bound to path.
func Adopt(l net.Listener, path string) *Listener {
	return &Listener{Listener: l, path: path}
}

// File returns a duplicated *os.File for the underlying socket, suitable
// for passing to exec.Cmd.ExtraFiles so a re-exec'd child can inherit the
// already-bound listener instead of racing to rebind it.
func (l *Listener) File() (*os.File, error) {
	uln, ok := l.Listener.(*net.UnixListener)
	if !ok {
		return nil, fmt.Errorf("listener is not a unix socket listener")
	}
	return uln.File()
}

// Path returns the filesystem path this listener is bound to.
func (l *Listener) Path() string { return l.path }

// Unlink removes the socket file. Safe to call more than once.
func (l *Listener) Unlink() {
	os.Remove(l.path)
}

// SetExecBit sets or clears S_IXUSR on the socket file: the sole
// inter-process "is anyone attached?" signal described in spec.md §6. It is
// best-effort, racing attach/detach transitions is accepted behavior.
func (l *Listener) SetExecBit(on bool) {
	st, err := os.Stat(l.path)
	if err != nil {
		return
	}
	mode := st.Mode().Perm()
	var next os.FileMode
	if on {
		next = mode | 0o100
	} else {
		next = mode &^ 0o100
	}
	if next != mode {
		os.Chmod(l.path, next)
	}
}
