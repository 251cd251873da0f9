package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("HITCH_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	d, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), d)
}

func TestLoadOverlaysOnlyPresentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redraw: winch\nclient_queue: 64\n"), 0o644))
	t.Setenv("HITCH_CONFIG", path)

	d, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RedrawWinch, d.Redraw)
	assert.Equal(t, 64, d.ClientQueue)
	assert.Equal(t, Default().DropLimit, d.DropLimit, "fields absent from the file keep their built-in default")
}

func TestRedrawMethodByte(t *testing.T) {
	assert.Equal(t, byte(1), RedrawNone.Byte())
	assert.Equal(t, byte(2), RedrawCtrlL.Byte())
	assert.Equal(t, byte(3), RedrawWinch.Byte())
}

func TestPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("HITCH_CONFIG", "/tmp/custom-hitch-config.yaml")
	assert.Equal(t, "/tmp/custom-hitch-config.yaml", Path())
}
