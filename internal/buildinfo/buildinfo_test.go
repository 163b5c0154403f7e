package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelease(t *testing.T) {
	v, c := Version, Commit
	t.Cleanup(func() { Version, Commit = v, c })

	Version, Commit = "", ""
	assert.Equal(t, "dev", Release())

	Commit = "abc123"
	assert.Equal(t, "dev-abc123", Release())

	Version = "v1.0.0"
	assert.Equal(t, "v1.0.0", Release())
	assert.Equal(t, "v1.0.0", Fields()["version"])
}
