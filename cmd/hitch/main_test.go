package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionsDefaults(t *testing.T) {
	opts, rest, err := parseOptions([]string{"bash", "-l"})
	require.NoError(t, err)
	assert.True(t, opts.hasDetach)
	assert.Equal(t, byte(0x1c), opts.detachChar)
	assert.Equal(t, []string{"bash", "-l"}, rest)
}

func TestParseOptionsDetachCharacter(t *testing.T) {
	opts, rest, err := parseOptions([]string{"-e", "^X", "bash"})
	require.NoError(t, err)
	assert.Equal(t, byte('X')&0x1f, opts.detachChar)
	assert.Equal(t, []string{"bash"}, rest)
}

func TestParseOptionsDisableDetach(t *testing.T) {
	opts, _, err := parseOptions([]string{"-E", "bash"})
	require.NoError(t, err)
	assert.False(t, opts.hasDetach)
}

func TestParseOptionsRedrawMethod(t *testing.T) {
	opts, _, err := parseOptions([]string{"-r", "winch", "bash"})
	require.NoError(t, err)
	assert.Equal(t, byte(3), opts.redraw)
}

func TestParseOptionsInvalidRedrawMethod(t *testing.T) {
	_, _, err := parseOptions([]string{"-r", "bogus", "bash"})
	assert.Error(t, err)
}

func TestParseOptionsWaitAttach(t *testing.T) {
	opts, _, err := parseOptions([]string{"-w", "bash"})
	require.NoError(t, err)
	require.NotNil(t, opts.waitAttach)
	assert.True(t, *opts.waitAttach)
}

func TestParseOptionsDoubleDashStopsParsing(t *testing.T) {
	opts, rest, err := parseOptions([]string{"--", "-e", "not-an-option"})
	require.NoError(t, err)
	assert.True(t, opts.hasDetach) // default untouched
	assert.Equal(t, []string{"-e", "not-an-option"}, rest)
}

func TestParseDetachCharSpecialCases(t *testing.T) {
	assert.Equal(t, byte(0x7f), parseDetachChar("^?"))
	assert.Equal(t, byte('a')&0x1f, parseDetachChar("^a"))
	assert.Equal(t, byte('q'), parseDetachChar("q"))
}
