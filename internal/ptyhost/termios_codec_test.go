package ptyhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEncodeDecodeTermiosRoundTrip(t *testing.T) {
	var want unix.Termios
	want.Iflag = 0x1234
	want.Oflag = 0x5678
	want.Cflag = 0x9abc
	want.Lflag = 0xdef0
	want.Cc[unix.VMIN] = 1
	want.Cc[unix.VSUSP] = 26

	enc := EncodeTermios(&want)
	got, err := DecodeTermios(enc)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestDecodeTermiosRejectsWrongLength(t *testing.T) {
	_, err := DecodeTermios("dG9vc2hvcnQ=") // base64 of "tooshort"
	assert.Error(t, err)
}

func TestDecodeTermiosRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeTermios("not-valid-base64!!")
	assert.Error(t, err)
}
