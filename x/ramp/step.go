package ramp

import (
	"time"

	"hvsupply/x/mathx"
)

// Step applies the new level.
type Step func(level float32)

// Tick waits for d and reports whether to continue (false => cancelled).
type Tick func(d time.Duration) bool

// Outcome tells why a ramp returned.
type Outcome uint8

const (
	Reached   Outcome = iota // within Epsilon of Limit
	Exhausted                // MaxSteps used up
	Cancelled                // Tick returned false
)

func (o Outcome) String() string {
	switch o {
	case Reached:
		return "reached"
	case Exhausted:
		return "exhausted"
	default:
		return "cancelled"
	}
}

// Bounded describes a fixed-step ramp toward Limit.
type Bounded struct {
	Step     float32       // largest move per tick
	Limit    float32       // level the ramp climbs to; never overshot
	MaxSteps int           // iteration bound
	Every    time.Duration // tick period
	Epsilon  float32       // "at limit" tolerance
}

// Run is synchronous (caller-driven): set is called once per iteration, then
// tick waits. Call it from the owning goroutine and provide Tick to handle
// timing and cancellation. The returned level is the last one passed to set.
func (b Bounded) Run(cur float32, tick Tick, set Step) (float32, Outcome) {
	for i := 0; i < b.MaxSteps; i++ {
		target := mathx.Min(cur+b.Step, b.Limit)
		cur = mathx.StepToward(cur, target, b.Step)
		set(cur)
		if !tick(b.Every) {
			return cur, Cancelled
		}
		if mathx.Near(cur, b.Limit, b.Epsilon) {
			return cur, Reached
		}
	}
	return cur, Exhausted
}
