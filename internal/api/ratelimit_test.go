package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	assert.True(t, rl.allow("alice"))
	assert.True(t, rl.allow("alice"))
	assert.True(t, rl.allow("alice"))
	assert.False(t, rl.allow("alice"))
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	assert.True(t, rl.allow("alice"))
	assert.True(t, rl.allow("bob"))
	assert.False(t, rl.allow("alice"))
}

func TestRateLimiterExpiresOldRequests(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)
	assert.True(t, rl.allow("alice"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.allow("alice"))
}
