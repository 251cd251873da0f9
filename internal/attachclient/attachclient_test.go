package attachclient

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexByte(t *testing.T) {
	assert.Equal(t, 2, indexByte([]byte("abc"), 'c'))
	assert.Equal(t, -1, indexByte([]byte("abc"), 'z'))
}

func TestDialFallsBackToChdirForLongPath(t *testing.T) {
	dir := t.TempDir()
	name := strings.Repeat("y", 90)
	path := filepath.Join(dir, name+".sock")

	sockDir, base := filepath.Split(path)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(strings.TrimSuffix(sockDir, "/")))
	ln, err := net.Listen("unix", base)
	require.NoError(t, os.Chdir(cwd))
	require.NoError(t, err)
	defer ln.Close()

	conn, err := Dial(path)
	require.NoError(t, err)
	conn.Close()
}
