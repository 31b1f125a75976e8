package core

import "time"

// Clock is the OS Adapter's time contract (spec §1/§2: "system time, seconds
// and ms" consumed by the core only through a narrow interface). Real code
// uses systemClock; tests inject a manualClock to drive expiry/retransmit
// scenarios deterministically without sleeping.
type Clock interface {
	NowSeconds() uint64
	NowMillis() uint64
}

type systemClock struct{}

func (systemClock) NowSeconds() uint64 { return uint64(time.Now().Unix()) }
func (systemClock) NowMillis() uint64  { return uint64(time.Now().UnixMilli()) }

// SystemClock is the default Clock backed by the wall clock.
var SystemClock Clock = systemClock{}

// ManualClock is a Clock a test can advance explicitly.
type ManualClock struct {
	seconds uint64
}

// NewManualClock returns a ManualClock starting at the given second.
func NewManualClock(startSeconds uint64) *ManualClock {
	return &ManualClock{seconds: startSeconds}
}

func (c *ManualClock) NowSeconds() uint64 { return c.seconds }
func (c *ManualClock) NowMillis() uint64  { return c.seconds * 1000 }

// Advance moves the clock forward by the given number of seconds.
func (c *ManualClock) Advance(seconds uint64) {
	c.seconds += seconds
}
