// Command hitch is a pty session multiplexer: it runs a program under a
// pty owned by a small background master, and lets any number of terminals
// attach to and detach from that program's input/output over a unix
// socket, all without the program itself ever knowing (spec.md §1-§2).
//
// Usage mirrors the program this was distilled from:
//
//	hitch -n <socket> <options> <command...>   create, detached
//	hitch -N <socket> <options> <command...>   create, detached, master stays foreground
//	hitch -c <socket> <options> <command...>   create and attach
//	hitch -a <socket> <options>                attach
//	hitch -A <socket> <options> <command...>   attach, or create if missing
//	hitch -p <socket>                          push stdin to the session, unattached
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ianremillard/hitch/internal/attachclient"
	"github.com/ianremillard/hitch/internal/config"
	"github.com/ianremillard/hitch/internal/daemonize"
	"github.com/ianremillard/hitch/internal/ptyhost"
	"github.com/ianremillard/hitch/internal/pushclient"
	"github.com/ianremillard/hitch/internal/session"
)

// origTermiosEnv carries the invoking terminal's settings across
// internal/daemonize's re-exec, see ptyhost.EncodeTermios.
const origTermiosEnv = "HITCH_ORIG_TERMIOS"

var progname = "hitch"

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	if daemonize.IsChild(argv) {
		stripped := daemonize.StripChildFlag(argv)
		// stripped is [progPath, mode, sockPath, options..., command...];
		// runChild only needs what's left after mode and socket (the same
		// slice runCreate derived cmdArgv from via parseOptions).
		if len(stripped) < 3 {
			fmt.Fprintln(os.Stderr, "hitch: malformed internal child invocation")
			return 1
		}
		return runChild(stripped[3:])
	}

	progname = argv[0]
	args := argv[1:]

	if len(args) >= 1 && len(args[0]) > 0 && args[0][0] == '-' {
		switch args[0] {
		case "--help", "-h":
			usage()
			return 0
		case "--version":
			fmt.Println("hitch - a dtach-shaped pty session multiplexer")
			return 0
		}
	}

	if len(args) < 1 {
		return usageErr("No mode was specified.")
	}
	mode := args[0]
	if len(mode) != 2 || mode[0] != '-' {
		return usageErr(fmt.Sprintf("Invalid mode %q", mode))
	}
	switch mode[1] {
	case 'a', 'A', 'c', 'n', 'N', 'p':
	default:
		return usageErr(fmt.Sprintf("Invalid mode '-%c'", mode[1]))
	}
	args = args[1:]

	if len(args) < 1 {
		return usageErr("No socket was specified.")
	}
	sockPath := args[0]
	args = args[1:]

	if mode == "-p" {
		if len(args) > 0 {
			return usageErr("Invalid number of arguments.")
		}
		return runPush(sockPath)
	}

	opts, cmdArgv, err := parseOptions(args)
	if err != nil {
		return usageErr(err.Error())
	}

	if mode != "-a" && len(cmdArgv) < 1 {
		return usageErr("No command was specified.")
	}

	orig, haveTTY := readTermios()
	if !haveTTY && mode != "-n" && mode != "-N" {
		fmt.Fprintf(os.Stderr, "%s: attaching to a session requires a terminal.\n", progname)
		return 1
	}

	switch mode {
	case "-a":
		if len(cmdArgv) > 0 {
			return usageErr("Invalid number of arguments.")
		}
		return runAttach(sockPath, orig, opts, true)

	case "-n", "-N":
		return runCreate(sockPath, cmdArgv, orig, opts, mode == "-N")

	case "-c":
		if rc := runCreate(sockPath, cmdArgv, orig, opts, false); rc != 0 {
			return rc
		}
		return runAttach(sockPath, orig, opts, true)

	case "-A":
		if conn, err := attachclient.Dial(sockPath); err == nil {
			conn.Close()
			return runAttach(sockPath, orig, opts, true)
		} else if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, unix.ENOENT) {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", progname, sockPath, err)
			return 1
		}
		os.Remove(sockPath) // stale socket from a dead master, if any
		if rc := runCreate(sockPath, cmdArgv, orig, opts, false); rc != 0 {
			return rc
		}
		return runAttach(sockPath, orig, opts, true)
	}
	return 1
}

// cliOptions mirrors the flag set main.c parses after the mode and socket
// (spec.md §3's per-invocation knobs, plus the suspend/quiet/clear-method
// extras original_source/main.c implements that the distilled spec drops).
type cliOptions struct {
	hasDetach  bool
	detachChar byte
	noSuspend  bool
	quiet      bool
	redraw     byte // wire.Redraw*, 0 (unspecified) if not given
	waitAttach *bool
}

func parseOptions(args []string) (cliOptions, []string, error) {
	opts := cliOptions{hasDetach: true, detachChar: 0x1c} // ^\\, dtach's default

	i := 0
	for i < len(args) {
		a := args[i]
		if a == "--" {
			i++
			break
		}
		if len(a) < 2 || a[0] != '-' {
			break
		}
		switch a {
		case "-E":
			opts.hasDetach = false
			i++
		case "-z":
			opts.noSuspend = true
			i++
		case "-q":
			opts.quiet = true
			i++
		case "-w":
			t := true
			opts.waitAttach = &t
			i++
		case "-e":
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("no escape character specified")
			}
			opts.hasDetach = true
			opts.detachChar = parseDetachChar(args[i+1])
			i += 2
		case "-r":
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("no redraw method specified")
			}
			m, err := parseRedraw(args[i+1])
			if err != nil {
				return opts, nil, err
			}
			opts.redraw = m
			i += 2
		default:
			return opts, nil, fmt.Errorf("invalid option %q", a)
		}
	}
	return opts, args[i:], nil
}

func parseDetachChar(s string) byte {
	if len(s) >= 2 && s[0] == '^' {
		if s[1] == '?' {
			return 0x7f
		}
		return s[1] & 0x1f
	}
	if len(s) > 0 {
		return s[0]
	}
	return 0x1c
}

func parseRedraw(s string) (byte, error) {
	switch s {
	case "none":
		return 1, nil
	case "ctrl_l":
		return 2, nil
	case "winch":
		return 3, nil
	}
	return 0, fmt.Errorf("invalid redraw method %q", s)
}

func readTermios() (*unix.Termios, bool) {
	t, err := ptyhost.GetTermios(int(os.Stdin.Fd()))
	if err != nil {
		return nil, false
	}
	return t, true
}

func runAttach(sockPath string, orig *unix.Termios, opts cliOptions, reportErrors bool) int {
	conn, err := attachclient.Dial(sockPath)
	if err != nil {
		if reportErrors {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", progname, sockPath, err)
		}
		return 1
	}
	defer conn.Close()

	redraw := opts.redraw
	if redraw == 0 {
		d, _ := config.Load()
		redraw = d.Redraw.Byte()
	}

	aopts := attachclient.Options{
		HasDetach:  opts.hasDetach,
		DetachChar: opts.detachChar,
		NoSuspend:  opts.noSuspend,
		Quiet:      opts.quiet,
		RedrawByte: redraw,
	}
	if err := attachclient.Run(conn, orig, aopts); err != nil {
		return 1
	}
	return 0
}

func runPush(sockPath string) int {
	conn, err := attachclient.Dial(sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", progname, sockPath, err)
		return 1
	}
	defer conn.Close()
	if err := pushclient.Run(conn); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", progname, sockPath, err)
		return 1
	}
	return 0
}

// runCreate binds the socket and starts the master, in the foreground or
// backgrounded per the mode (spec.md §6).
func runCreate(sockPath string, cmdArgv []string, orig *unix.Termios, opts cliOptions, foreground bool) int {
	listener, err := session.Bind(sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", progname, sockPath, err)
		return 1
	}

	if orig != nil {
		os.Setenv(origTermiosEnv, ptyhost.EncodeTermios(orig))
	}

	build := masterBuilder(cmdArgv, orig, opts)
	return daemonize.Run(listener, foreground, build)
}

// runChild is reached only via internal/daemonize's re-exec: args is the
// original create invocation's argv with the mode and socket stripped
// already (see run()), i.e. exactly the options+command runCreate saw.
func runChild(args []string) int {
	opts, cmdArgv, err := parseOptions(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		return 1
	}

	var orig *unix.Termios
	if enc := os.Getenv(origTermiosEnv); enc != "" {
		orig, _ = ptyhost.DecodeTermios(enc)
	}

	build := masterBuilder(cmdArgv, orig, opts)
	return daemonize.RunChild(build)
}

func masterBuilder(cmdArgv []string, orig *unix.Termios, opts cliOptions) daemonize.Builder {
	return func(l *session.Listener, statusW io.Writer) (*session.Master, error) {
		d, _ := config.Load()
		cfg := session.FromDefaults(d, cmdArgv[0], cmdArgv, orig, opts.waitAttach)
		if opts.redraw != 0 {
			cfg.DefaultRedraw = opts.redraw
		}
		return session.New(cfg, l, statusW)
	}
}

func usage() {
	fmt.Printf(`hitch - a pty session multiplexer
Usage: hitch -a <socket> <options>
       hitch -A <socket> <options> <command...>
       hitch -c <socket> <options> <command...>
       hitch -n <socket> <options> <command...>
       hitch -N <socket> <options> <command...>
       hitch -p <socket>
Modes:
  -a		Attach to the specified socket.
  -A		Attach to the specified socket, or create it if it
		  does not exist, running the specified command.
  -c		Create a new socket and run the specified command.
  -n		Create a new socket and run the specified command detached.
  -N		Create a new socket and run the specified command detached,
		  and have hitch run in the foreground.
  -p		Copy the contents of standard input to the specified socket.
Options:
  -e <char>	Set the detach character to <char>, defaults to ^\.
  -E		Disable the detach character.
  -r <method>	Set the redraw method: none, ctrl_l, winch.
  -w		Wait for an attach before starting the program's output.
  -z		Disable processing of the suspend key.
  -q		Disable printing of additional messages.
`)
}

func usageErr(msg string) int {
	fmt.Fprintf(os.Stderr, "%s: %s\n", progname, msg)
	fmt.Fprintf(os.Stderr, "Try '%s --help' for more information.\n", progname)
	return 1
}
