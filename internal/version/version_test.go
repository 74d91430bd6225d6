package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	saved := [3]string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = saved[0], saved[1], saved[2] }()

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2024-05-01T10:00:00Z"
	assert.Equal(t, "windcluster 1.2.0 (commit abc123, built 2024-05-01T10:00:00Z)", String())
}
