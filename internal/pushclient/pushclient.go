// Package pushclient implements dtach's "-p" mode: copy standard input to
// an existing session verbatim, without attaching, without a terminal, and
// without expecting any reply. Grounded directly on original_source/attach.c's
// push_main, which this distillation's spec.md doesn't mention at all.
package pushclient

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/ianremillard/hitch/internal/wire"
)

// Run copies os.Stdin to conn as a stream of PUSH packets until EOF.
func Run(conn net.Conn) error {
	buf := make([]byte, 8)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(wire.Encode(wire.Push, byte(n), buf[:n])); werr != nil {
				return fmt.Errorf("write: %w", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}
