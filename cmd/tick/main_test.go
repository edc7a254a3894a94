package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeSyncsLogs(t *testing.T) {
	prev := syncLogs
	t.Cleanup(func() { syncLogs = prev })

	synced := 0
	syncLogs = func() { synced++ }

	assert.Equal(t, 1, exitCode(func() int { return 1 }))
	assert.Equal(t, 1, synced)

	assert.Equal(t, 0, exitCode(func() int {
		assert.Equal(t, 1, synced, "logs flushed after the tick returns")
		return 0
	}))
	assert.Equal(t, 2, synced)
}
