package daemonize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChildDetectsFlag(t *testing.T) {
	assert.True(t, IsChild([]string{"hitch", "-n", "/tmp/s", "cat", InternalChildFlag}))
	assert.False(t, IsChild([]string{"hitch", "-n", "/tmp/s", "cat"}))
}

func TestStripChildFlagRemovesOnlyTheFlag(t *testing.T) {
	in := []string{"hitch", "-n", "/tmp/s", InternalChildFlag, "cat"}
	out := StripChildFlag(in)
	assert.Equal(t, []string{"hitch", "-n", "/tmp/s", "cat"}, out)
}

func TestStripChildFlagNoOpWhenAbsent(t *testing.T) {
	in := []string{"hitch", "-a", "/tmp/s"}
	assert.Equal(t, in, StripChildFlag(in))
}
