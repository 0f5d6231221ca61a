// Package safety implements the pre-emption verdicts and pause/resume
// semantics of spec.md §4.4. It samples the input frame and decides
// whether motion may continue, must pause, or must abort.
package safety

import (
	"time"

	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/pulse"
)

// Verdict is the supervisor's decision for the current instant.
type Verdict int

const (
	Continue Verdict = iota
	PauseInterlock
	PauseStop
	Abort
)

// SubResult qualifies an Abort verdict raised by a limit guard rather
// than by reset/interlock, since that only ends the current motion
// segment, not the whole cycle (spec.md §4.4).
type SubResult int

const (
	NoSubResult SubResult = iota
	HomeReached
	FinalReached
)

// Supervisor evaluates verdicts from the latest sampled Frame.
type Supervisor struct {
	PauseResumeDelay time.Duration
	sleep            func(time.Duration)
}

// New creates a Supervisor. pauseResumeDelay is pause_resume_delay_ms
// from spec.md §3 (default 2000ms).
func New(pauseResumeDelay time.Duration) *Supervisor {
	return &Supervisor{PauseResumeDelay: pauseResumeDelay, sleep: time.Sleep}
}

// Evaluate applies the limit guards for cycle/homing motion (spec.md
// §4.4): moving is nil when no axis motion is in flight (e.g. idle
// waits), in which case only interlock/stop/reset are considered.
func (s *Supervisor) Evaluate(frame input.Frame, moving *pulse.Direction) (Verdict, SubResult) {
	if frame.RisingEdge(input.ButtonReset) {
		return Abort, NoSubResult
	}
	if !frame.SafetyOK {
		return PauseInterlock, NoSubResult
	}
	if frame.RisingEdge(input.ButtonStop) {
		return PauseStop, NoSubResult
	}

	if moving != nil {
		switch *moving {
		case pulse.TowardHome:
			if frame.LimitHome {
				return Abort, HomeReached
			}
		case pulse.TowardFinal:
			if frame.LimitFinal {
				return Abort, FinalReached
			}
		}
	}

	return Continue, NoSubResult
}

// ToPulseSignal maps a Continue/non-Continue verdict onto the pulse
// engine's generic yield signal; safety-specific handling (pause loops,
// abort-to-home) is the caller's responsibility once it observes the
// underlying Verdict via Evaluate.
func ToPulseSignal(v Verdict) pulse.Signal {
	if v == Continue {
		return pulse.Continue
	}
	return pulse.Abort
}

// WaitForStart blocks, repeatedly sampling via sampleFn, until a Start
// rising edge is observed. It is the resume precondition of a safety
// pause (the Waiting and Unload loops in cycle poll their own inputs):
// the interlock level is deliberately NOT re-checked here, per
// spec.md §4.4/§9 open question 3 — the operator's Start press is the
// sole resume acknowledgement.
func (s *Supervisor) WaitForStart(sampleFn func() input.Frame, pollInterval time.Duration) {
	for {
		frame := sampleFn()
		if frame.RisingEdge(input.ButtonStart) {
			return
		}
		s.sleep(pollInterval)
	}
}

// PauseResumeSettle sleeps PauseResumeDelay to allow mechanical settling
// before axes are re-enabled (spec.md §4.4 step 4).
func (s *Supervisor) PauseResumeSettle() {
	s.sleep(s.PauseResumeDelay)
}
