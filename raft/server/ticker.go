package server

import (
	"math/rand"
)

// Ticker is Component G: a randomized countdown producing
// election/heartbeat events. It owns no goroutine of its own — Node
// drives it on a fixed interval and interprets Tick's result.
//
// Grounded in the teacher's getElectionTimeoutMs (150-300ms, Raft
// paper §9.3), generalized from a one-shot timer into the
// decrement-and-compare counter of §4.F's Ticker subsection so the
// same type serves both the non-leader election timeout and the
// leader's heartbeat interval.
type Ticker struct {
	rng *rand.Rand

	tickMin, tickMax int
	leaderTimeout    int
}

// NewTicker creates a Ticker whose non-leader countdown is drawn
// uniformly from [tickMin, tickMax] ticks.
func NewTicker(tickMin, tickMax int) *Ticker {
	t := &Ticker{
		rng:     rand.New(rand.NewSource(rand.Int63())),
		tickMin: tickMin,
		tickMax: tickMax,
	}
	t.ResetNonLeader()
	return t
}

// ResetNonLeader draws a new countdown uniformly from [tickMin, tickMax].
func (t *Ticker) ResetNonLeader() {
	t.leaderTimeout = t.tickMin + t.rng.Intn(t.tickMax-t.tickMin+1)
}

// ResetLeader sets the countdown to max(1, tickMin-1) ticks, so a
// leader's own heartbeat always precedes any follower's election
// timeout.
func (t *Ticker) ResetLeader() {
	t.leaderTimeout = t.tickMin - 1
	if t.leaderTimeout < 1 {
		t.leaderTimeout = 1
	}
}

// Tick decrements the countdown and reports whether it has expired
// (reached zero). It does not reset itself on expiry — the caller
// decides whether to ResetLeader or ResetNonLeader based on the role
// at the moment of expiry.
func (t *Ticker) Tick() bool {
	if t.leaderTimeout > 0 {
		t.leaderTimeout--
	}
	return t.leaderTimeout == 0
}
