package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunWithTimeout_CompletesInTime(t *testing.T) {
	result, ok := runWithTimeout(func() int {
		return 42
	}, 100*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 42, result)
}

func TestRunWithTimeout_TimesOut(t *testing.T) {
	result, ok := runWithTimeout(func() int {
		time.Sleep(100 * time.Millisecond)
		return 42
	}, 10*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 0, result)
}
