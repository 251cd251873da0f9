//go:build darwin

package ptyhost

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tcgets/tcsets are the termios get/set ioctl requests on Darwin (BSD
// naming: TIOCGETA/TIOCSETA rather than Linux's TCGETS/TCSETS).
const (
	tcgets = unix.TIOCGETA
	tcsets = unix.TIOCSETA
)

func setsidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// signalPty is killpty's first attempt (original_source/master.c:157-163):
// BSD's TIOCSIGNAL/TIOCSIG ioctl delivers sig to the pty's controlling
// process directly, without needing its pgrp. As on Linux, the signal
// number is the ioctl argument itself rather than a pointer to it; here it
// is passed through a raw syscall.
func signalPty(fd int, sig unix.Signal) bool {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(unix.TIOCSIG), uintptr(sig))
	return errno == 0
}
