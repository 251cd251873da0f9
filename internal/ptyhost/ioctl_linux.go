//go:build linux

package ptyhost

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tcgets/tcsets are the termios get/set ioctl requests on Linux.
const (
	tcgets = unix.TCGETS
	tcsets = unix.TCSETS
)

// setsidAttr places the child in a new session so it becomes its own
// process group leader, matching dtach's forkpty()+setsid() child path
// (original_source/master.c forkpty fallback).
func setsidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// signalPty is killpty's first attempt (original_source/master.c:157-163):
// the TIOCSIG ioctl delivers sig to the pty's controlling process directly,
// without needing its pgrp. The Linux kernel takes the signal number as the
// ioctl argument value itself, which is how IoctlSetInt passes it.
func signalPty(fd int, sig unix.Signal) bool {
	return unix.IoctlSetInt(fd, unix.TIOCSIG, int(sig)) == nil
}
