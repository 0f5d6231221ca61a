// Package manual implements the joystick-driven manual controller of
// spec.md §4.6: a direct, velocity-mapped jog mode entered outside the
// automatic cycle, with its own limit-rebound and drill-toggle behavior.
package manual

import (
	"time"

	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
)

// Hooks lets the coordinator observe drill on/off transitions without
// manual depending on the coordinator package.
type Hooks struct {
	OnDrillChanged func(on bool)
	OnDisplay      func(message string)
}

// Controller drives the linear and drill axes directly from joystick and
// button state, bypassing the cycle state machine entirely.
type Controller struct {
	Linear, Drill *pulse.Axis
	Sampler       *input.Sampler
	Supervisor    *safety.Supervisor
	Thresholds    input.Thresholds
	LimitRebound  struct {
		Steps       int
		HalfPeriodUs uint64
	}
	Hooks Hooks

	nowUs func() uint64
	sleep func(time.Duration)

	drillLatched      bool
	lastDrillToggleUs uint64
	drillToggleArmed  bool
}

// drillToggleLockoutUs is spec.md §4.6's post-toggle debounce: after a
// drill-latch toggle, further button edges are ignored for 50 ms.
const drillToggleLockoutUs = 50_000

// New creates a Controller. nowUs/sleep may be nil to use the real clock.
func New(linear, drill *pulse.Axis, sampler *input.Sampler, sup *safety.Supervisor, thresholds input.Thresholds, limitReboundSteps int, limitReboundHalfPeriodUs uint64, hooks Hooks, nowUs func() uint64, sleep func(time.Duration)) *Controller {
	if sleep == nil {
		sleep = time.Sleep
	}
	c := &Controller{
		Linear: linear, Drill: drill, Sampler: sampler, Supervisor: sup,
		Thresholds: thresholds, Hooks: hooks, nowUs: nowUs, sleep: sleep,
	}
	c.LimitRebound.Steps = limitReboundSteps
	c.LimitRebound.HalfPeriodUs = limitReboundHalfPeriodUs
	return c
}

func (c *Controller) clockUs() uint64 {
	if c.nowUs != nil {
		return c.nowUs()
	}
	return 0
}

// Tick runs one control step of the manual loop: read the joystick and
// drill-toggle button, drive the linear axis at the mapped velocity
// (or hold it disabled in the neutral band), and mirror the latched
// drill state. On a limit switch it rebounds the axis and returns
// Continue; on a stop or interlock verdict it disables the linear axis
// and returns that verdict (PauseStop/PauseInterlock); on a reset it
// disables both axes and returns Abort, at which point the caller (the
// coordinator) is responsible for returning control to select_mode/Idle.
func (c *Controller) Tick(frame input.Frame) safety.Verdict {
	now := c.clockUs()
	if frame.RisingEdge(input.ButtonDrill) && (!c.drillToggleArmed || now-c.lastDrillToggleUs >= drillToggleLockoutUs) {
		c.drillLatched = !c.drillLatched
		c.Drill.Enable(c.drillLatched)
		c.lastDrillToggleUs = now
		c.drillToggleArmed = true
		if c.Hooks.OnDrillChanged != nil {
			c.Hooks.OnDrillChanged(c.drillLatched)
		}
	}

	band := input.JoystickBand(frame.JoystickRaw, c.Thresholds)
	if band == input.JoystickNeutral {
		c.Linear.Enable(false)
		return safety.Continue
	}

	dir := pulse.TowardHome
	if band == input.JoystickTowardFinal {
		dir = pulse.TowardFinal
	}

	if !c.Linear.Enabled() || c.Linear.Direction() != dir {
		c.Linear.SetDirection(dir)
	}
	c.Linear.Enable(true)

	halfPeriod := uint64(input.JoystickHalfPeriod(frame.JoystickRaw, c.Thresholds))

	moving := dir
	v, sr := c.Supervisor.Evaluate(frame, &moving)
	switch v {
	case safety.Continue:
		c.Linear.Tick(c.clockUs(), halfPeriod)
		return safety.Continue
	case safety.Abort:
		if sr == safety.HomeReached || sr == safety.FinalReached {
			c.rebound(sr)
			return safety.Continue
		}
		c.Linear.Enable(false)
		c.Drill.Enable(false)
		return safety.Abort
	default:
		c.Linear.Enable(false)
		return v
	}
}

// rebound backs the axis off a just-triggered limit by LimitRebound.Steps
// at LimitRebound.HalfPeriodUs, per spec.md §4.6, then disables the axis
// so the operator must re-deflect the joystick to resume motion.
func (c *Controller) rebound(sr safety.SubResult) {
	away := pulse.TowardFinal
	if sr == safety.FinalReached {
		away = pulse.TowardHome
	}

	c.Linear.SetDirection(away)
	c.Linear.ResetStepCount()
	c.Linear.Enable(true)

	for c.Linear.StepEdgesEmitted() < uint64(c.LimitRebound.Steps) {
		c.Linear.Tick(c.clockUs(), c.LimitRebound.HalfPeriodUs)
		c.sleep(20 * time.Microsecond)
	}

	c.Linear.Enable(false)
}

// DrillLatched reports the current manual drill toggle state.
func (c *Controller) DrillLatched() bool { return c.drillLatched }
