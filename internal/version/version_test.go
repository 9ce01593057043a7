package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	Version, Commit, BuildTime = "1.2.0", "abc123", "2026-01-01T00:00:00Z"
	t.Cleanup(func() { Version, Commit, BuildTime = "dev", "unknown", "unknown" })

	assert.Equal(t, "1.2.0 (abc123) built 2026-01-01T00:00:00Z", String())
	assert.Equal(t, Info{Version: "1.2.0", Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"}, Get())
}
