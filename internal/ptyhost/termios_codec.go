package ptyhost

import (
	"encoding/base64"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EncodeTermios and DecodeTermios round-trip a unix.Termios across a
// re-exec boundary (internal/daemonize backgrounds by re-exec'ing the same
// binary, which loses the original invoking terminal's settings along with
// everything else that isn't an explicit fd or env var). Since both sides
// are always the same binary on the same platform, a raw byte copy of the
// struct is safe; this is not a wire format and must never cross processes
// built from different source trees.
func EncodeTermios(t *unix.Termios) string {
	b := (*[unsafe.Sizeof(unix.Termios{})]byte)(unsafe.Pointer(t))[:]
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeTermios(s string) (*unix.Termios, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode termios: %w", err)
	}
	if len(b) != int(unsafe.Sizeof(unix.Termios{})) {
		return nil, fmt.Errorf("decode termios: unexpected length %d", len(b))
	}
	var t unix.Termios
	copy((*[unsafe.Sizeof(unix.Termios{})]byte)(unsafe.Pointer(&t))[:], b)
	return &t, nil
}
