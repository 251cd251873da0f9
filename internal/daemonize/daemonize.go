// Package daemonize implements spec.md §4.6's Lifecycle: the foreground and
// backgrounded startup sequences, the status-channel handshake that lets a
// backgrounding parent surface an exec failure before it exits, and the
// signal wiring of master_process.
//
// dtach achieves backgrounding with fork(2): the child keeps every fd the
// parent had, including the not-yet-closed listening socket. Go's runtime
// cannot fork a multi-threaded process safely, so this package gets the
// same effect the idiomatic Go way (grounded on the corpus's own
// SocketHandoff graceful-restart pattern): re-exec the binary with the
// listening socket and the status pipe passed through os/exec's
// ExtraFiles, and a Setsid SysProcAttr standing in for the child's
// setsid() call.
package daemonize

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ianremillard/hitch/internal/session"
)

// ChildEnv is the environment variable a backgrounded master's re-exec'd
// child looks for to recover the socket path (the inherited listener fd
// carries no path of its own).
const ChildEnv = "HITCH_SOCK_PATH"

// InternalChildFlag is appended to argv when re-exec'ing into the
// backgrounded child. cmd/hitch checks for it before normal flag parsing.
const InternalChildFlag = "--hitch-internal-child"

// IsChild reports whether this process is the re-exec'd backgrounded
// child, based on InternalChildFlag's presence in argv.
func IsChild(argv []string) bool {
	for _, a := range argv {
		if a == InternalChildFlag {
			return true
		}
	}
	return false
}

// StripChildFlag removes InternalChildFlag from argv so the rest of the
// CLI's flag parsing doesn't trip over it.
func StripChildFlag(argv []string) []string {
	out := argv[:0:0]
	for _, a := range argv {
		if a != InternalChildFlag {
			out = append(out, a)
		}
	}
	return out
}

// Builder constructs the Master once a listener and status writer are
// available. It exists so this package doesn't need to know session.Config
// details beyond what it's handed.
type Builder func(l *session.Listener, statusW io.Writer) (*session.Master, error)

// Run dispatches to the foreground or backgrounded startup sequence and
// returns the process exit code (spec.md §6).
func Run(listener *session.Listener, foreground bool, build Builder) int {
	if foreground {
		return runMaster(listener, os.Stderr, build, false)
	}
	return runBackgrounded(listener)
}

// RunChild is the entry point for the re-exec'd backgrounded child: it
// recovers the inherited listener (fd 3) and status pipe (fd 4) and then
// behaves exactly like runMaster.
func RunChild(build Builder) int {
	path := os.Getenv(ChildEnv)

	lf := os.NewFile(3, "hitch-listener")
	nl, err := net.FileListener(lf)
	lf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitch: recover inherited listener: %v\n", err)
		return 1
	}
	listener := session.Adopt(nl, path)

	// The inherited fd is not close-on-exec; without this the pty child
	// would hold the pipe open and the parent's read would never return.
	syscall.CloseOnExec(4)
	statusW := os.NewFile(4, "hitch-status")
	return runMaster(listener, statusW, build, true)
}

// runMaster is spec.md §4.6's master_process: setsid, atexit-style unlink,
// signal wiring, pty spawn, then the event loop. closeStatusAfterBuild is
// set only for the backgrounded child's pipe fd: closing it is what lets
// the still-foreground parent's status-pipe read return (success) instead
// of hanging until the whole session exits. In foreground mode statusW is
// os.Stderr and must stay open for the master's own lifetime.
func runMaster(listener *session.Listener, statusW io.Writer, build Builder, closeStatusAfterBuild bool) int {
	// setsid() disassociates from the controlling terminal. EPERM (already a
	// process group leader) is expected and harmless when running foreground
	// directly under a shell that made us one.
	_ = unix.Setsid()

	defer listener.Unlink()

	stop, sigchld := installSignalHandlers(listener)
	defer stop()

	m, err := build(listener, statusW)
	if closeStatusAfterBuild {
		if closer, ok := statusW.(io.Closer); ok {
			closer.Close()
		}
	}
	if err != nil {
		// build() (session.New -> ptyhost.Spawn) already wrote the
		// diagnostic to statusW; nothing more to report here.
		return 1
	}

	go func() {
		<-sigchld
		m.Reap()
	}()

	if err := m.Run(); err != nil {
		log.Printf("hitch: %v", err)
		return 1
	}
	return 0
}

// installSignalHandlers wires SIGINT/SIGTERM to a clean shutdown and
// ignores SIGPIPE/SIGXFSZ/SIGHUP/SIGTTIN/SIGTTOU, per spec.md §4.6 and §6.
// It also registers SIGCHLD (spec.md §4.6's "die-with-child-bookkeeping")
// and hands the caller the channel to wait on: registration happens here,
// before the Master/Host exist, so a child that dies in the narrow window
// before the caller starts watching this channel still has its SIGCHLD
// sitting in the (buffered, size-1) channel rather than lost. It returns a
// function that stops the handling goroutine.
func installSignalHandlers(listener *session.Listener) (stop func(), sigchld <-chan os.Signal) {
	signal.Ignore(syscall.SIGPIPE, syscall.SIGXFSZ, syscall.SIGHUP, syscall.SIGTTIN, syscall.SIGTTOU)

	chldCh := make(chan os.Signal, 1)
	signal.Notify(chldCh, syscall.SIGCHLD)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			listener.Unlink()
			os.Exit(1)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		signal.Stop(chldCh)
		close(done)
	}, chldCh
}

// runBackgrounded implements spec.md §4.6's backgrounded startup sequence:
// bind already done by the caller; here we create the status pipe, re-exec
// with the listener and pipe inherited, and wait for the handshake.
func runBackgrounded(listener *session.Listener) int {
	lf, err := listener.File()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitch: %v\n", err)
		return 1
	}
	defer lf.Close()

	statusR, statusW, err := os.Pipe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitch: pipe: %v\n", err)
		return 1
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitch: %v\n", err)
		return 1
	}

	args := append(append([]string{}, os.Args[1:]...), InternalChildFlag)
	cmd := exec.Command(exe, args...)
	cmd.ExtraFiles = []*os.File{lf, statusW}
	cmd.Env = append(os.Environ(), ChildEnv+"="+listener.Path())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		statusW.Close()
		fmt.Fprintf(os.Stderr, "hitch: fork: %v\n", err)
		listener.Unlink()
		return 1
	}
	statusW.Close()

	data, _ := io.ReadAll(statusR)
	if len(data) > 0 {
		os.Stderr.Write(data)
		cmd.Process.Signal(syscall.SIGTERM)
		return 1
	}
	return 0
}
