package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickerNonLeaderWithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		ticker := NewTicker(5, 10)
		assert.GreaterOrEqual(t, ticker.leaderTimeout, 5)
		assert.LessOrEqual(t, ticker.leaderTimeout, 10)
	}
}

func TestTickerLeaderResetIsTickMinMinusOne(t *testing.T) {
	ticker := NewTicker(5, 10)
	ticker.ResetLeader()
	assert.Equal(t, 4, ticker.leaderTimeout)
}

func TestTickerLeaderResetFloorsAtOne(t *testing.T) {
	ticker := NewTicker(1, 3)
	ticker.ResetLeader()
	assert.Equal(t, 1, ticker.leaderTimeout)
}

func TestTickerExpiresAfterNTicks(t *testing.T) {
	ticker := NewTicker(3, 3)
	assert.False(t, ticker.Tick())
	assert.False(t, ticker.Tick())
	assert.True(t, ticker.Tick())
}

func TestTickerStaysExpiredUntilReset(t *testing.T) {
	ticker := NewTicker(1, 1)
	assert.True(t, ticker.Tick())
	assert.True(t, ticker.Tick())
	ticker.ResetNonLeader()
	// Fresh countdown of 1 tick: the very next Tick reaches zero.
	assert.True(t, ticker.Tick())
}
