// Package pulse generates correctly spaced step/dir pulses for one axis
// (spec.md §4.3). The engine itself is ignorant of safety and limits; it
// exposes a yield hook that callers (the safety supervisor) use to
// pre-empt motion between edges.
package pulse

import (
	"github.com/edgeflow/drillctl/internal/hal"
)

// Direction is the axis travel direction. Which physical pin level this
// maps to is controlled by the *_direction_invert system constants,
// passed to NewAxis as dirInvert and applied inside SetDirection.
type Direction int

const (
	TowardHome Direction = iota
	TowardFinal
)

// Pins names the step and dir output pins for one axis.
type Pins struct {
	Step, Dir int
}

// Signal is returned by a YieldFunc to tell StepBlocking whether to keep
// going or abandon the motion early.
type Signal int

const (
	Continue Signal = iota
	Abort
)

// YieldFunc is invoked once in the gap between edges. It is the only
// cancellation point for motion (spec.md §5): implementations poll
// safety, stop/reset edges and pending commands.
type YieldFunc func() Signal

// Axis drives one step/dir pair with half-period-timed edges.
type Axis struct {
	pins     Pins
	provider hal.Provider

	direction     Direction
	invert        bool
	enabled       bool
	edgeLevel     bool // current step-pin level
	lastEdgeAtUs  uint64
	stepEdgesEmitted uint64
}

// NewAxis creates an Axis bound to provider, with dirInvert applied to
// every SetDirection call (per-axis *_direction_invert constant).
func NewAxis(provider hal.Provider, pins Pins, dirInvert bool) *Axis {
	return &Axis{pins: pins, provider: provider, invert: dirInvert}
}

// SetDirection writes the dir pin immediately and resets edgeLevel to 0;
// the next edge will be a rising edge at least half_period_us later
// (spec.md invariant 3).
func (a *Axis) SetDirection(d Direction) {
	a.direction = d
	level := d == TowardFinal
	if a.invert {
		level = !level
	}
	a.provider.WriteDigital(a.pins.Dir, level)
	a.edgeLevel = false
}

func (a *Axis) Direction() Direction { return a.direction }

// Enable arms or disarms pulse emission. Disabling immediately drives
// both step and dir pins to 0, per spec.md §4.3.
func (a *Axis) Enable(on bool) {
	a.enabled = on
	if !on {
		a.provider.WriteDigital(a.pins.Step, false)
		a.provider.WriteDigital(a.pins.Dir, false)
		a.edgeLevel = false
	}
}

func (a *Axis) Enabled() bool { return a.enabled }

// StepEdgesEmitted is the count of rising edges emitted since the axis
// was constructed or last ResetStepCount (spec.md invariant 5: counted
// on rising edge only).
func (a *Axis) StepEdgesEmitted() uint64 { return a.stepEdgesEmitted }

// ResetStepCount zeroes the rising-edge counter, e.g. on stroke-direction
// flip or phase transition (spec.md invariant 4).
func (a *Axis) ResetStepCount() { a.stepEdgesEmitted = 0 }

// Tick performs non-blocking edge scheduling: if enough time has elapsed
// since the last edge, toggle and emit one edge. Returns true if a
// rising edge was just emitted.
func (a *Axis) Tick(nowUs uint64, halfPeriodUs uint64) bool {
	if !a.enabled {
		return false
	}
	if nowUs-a.lastEdgeAtUs < halfPeriodUs {
		return false
	}

	a.edgeLevel = !a.edgeLevel
	a.provider.WriteDigital(a.pins.Step, a.edgeLevel)
	a.lastEdgeAtUs = nowUs

	if a.edgeLevel {
		a.stepEdgesEmitted++
		return true
	}
	return false
}

// StepBlocking blocks (cooperatively, via busy-poll on the hal clock)
// until exactly n rising edges have been emitted, calling yield between
// every edge. If yield returns Abort, StepBlocking returns early with
// the count of rising edges actually reached.
func (a *Axis) StepBlocking(n int, halfPeriodUs uint64, yield YieldFunc) (reached int) {
	if !a.enabled {
		a.Enable(true)
	}

	for reached < n {
		now := a.provider.NowMicros()
		if a.Tick(now, halfPeriodUs) {
			reached++
		}

		if yield != nil && yield() == Abort {
			return reached
		}
	}
	return reached
}

// StepEdgesBlocking is like StepBlocking but counts every raw edge
// (rising and falling), used for the Cycle-2 drill burst which spec.md
// §4.5/§9 defines in terms of edge count, not step count.
func (a *Axis) StepEdgesBlocking(edges int, halfPeriodUs uint64, yield YieldFunc) (reached int) {
	if !a.enabled {
		a.Enable(true)
	}

	lastLevel := a.edgeLevel
	for reached < edges {
		now := a.provider.NowMicros()
		if now-a.lastEdgeAtUs >= halfPeriodUs {
			a.edgeLevel = !a.edgeLevel
			a.provider.WriteDigital(a.pins.Step, a.edgeLevel)
			a.lastEdgeAtUs = now
			if a.edgeLevel != lastLevel {
				reached++
				lastLevel = a.edgeLevel
				if a.edgeLevel {
					a.stepEdgesEmitted++
				}
			}
		}

		if yield != nil && yield() == Abort {
			return reached
		}
	}
	return reached
}
