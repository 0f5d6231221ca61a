// Package input converts raw hal pin samples into the debounced edges
// and semantic levels the rest of the control core reacts to (spec.md
// §4.2). Buttons are active-low with pull-up; limits and the interlock
// are sampled as levels only.
package input

import (
	"sync"
	"time"

	"github.com/edgeflow/drillctl/internal/hal"
)

// Button identifies one of the four discrete operator buttons.
type Button int

const (
	ButtonReset Button = iota
	ButtonStart
	ButtonStop
	ButtonDrill
	buttonCount
)

// JoystickDirection is the coarse band a raw joystick sample falls into.
type JoystickDirection int

const (
	JoystickNeutral JoystickDirection = iota
	JoystickTowardHome
	JoystickTowardFinal
)

// Pins names the physical pin for every digital input the sampler owns.
type Pins struct {
	Reset, Start, Stop, Drill int
	Safety, LimitHome, LimitFinal int
	JoystickChannel int
}

// Thresholds are the system-wide joystick partition and velocity mapping
// constants (spec.md §3).
type Thresholds struct {
	JoystickLow, JoystickHigh   int
	ManualVelocitySlowUs        int
	ManualVelocityFastUs        int
	DebounceSamplePeriod        time.Duration // minimum gap between samples counted toward debounce
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		JoystickLow:          352,
		JoystickHigh:         652,
		ManualVelocitySlowUs: 5000,
		ManualVelocityFastUs: 800,
		DebounceSamplePeriod: 5 * time.Millisecond,
	}
}

// Frame is the latest sampled state plus one-shot edges observed since
// the last call to Sample (spec.md's InputFrame).
type Frame struct {
	SafetyOK     bool
	LimitHome    bool
	LimitFinal   bool
	JoystickRaw  int
	risingEdge   [buttonCount]bool
	fallingEdge  [buttonCount]bool
}

// RisingEdge reports and clears a one-shot rising-edge flag for btn.
func (f *Frame) RisingEdge(btn Button) bool {
	v := f.risingEdge[btn]
	f.risingEdge[btn] = false
	return v
}

// FallingEdge reports and clears a one-shot falling-edge flag for btn.
func (f *Frame) FallingEdge(btn Button) bool {
	v := f.fallingEdge[btn]
	f.fallingEdge[btn] = false
	return v
}

type debouncer struct {
	stable       bool // debounced logical state (true = pressed)
	candidate    bool
	candidateAt  time.Time
	haveCandidate bool
}

// Sampler owns the debounce state machine for all four buttons and
// exposes level reads for limits/interlock/joystick. The control task is
// its only regular caller, but virtual button commands (spec.md §4.7)
// originate from an HTTP/WS handler goroutine, so button/pending state
// is guarded by mu.
type Sampler struct {
	pins       Pins
	thresholds Thresholds
	provider   hal.Provider

	mu      sync.Mutex
	buttons [buttonCount]debouncer
	pending [buttonCount][2]bool // accumulated rising/falling since last Sample()

	lastSampleAt time.Time
}

// New creates a Sampler bound to provider for the given pin map.
func New(provider hal.Provider, pins Pins, thresholds Thresholds) *Sampler {
	return &Sampler{pins: pins, thresholds: thresholds, provider: provider}
}

// Sample reads all inputs once, advances debounce state, and returns a
// Frame capturing any edges observed. Safe to call as often as the
// control loop's yield hook permits; debounce is time-gated internally.
func (s *Sampler) Sample(now time.Time) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := Frame{}

	buttonPins := [buttonCount]int{s.pins.Reset, s.pins.Start, s.pins.Stop, s.pins.Drill}
	for b := Button(0); b < buttonCount; b++ {
		raw, _ := s.provider.ReadDigital(buttonPins[b])
		pressed := !raw // active-low with pull-up
		s.debounce(b, pressed, now)
	}

	safety, _ := s.provider.ReadDigital(s.pins.Safety)
	frame.SafetyOK = safety

	limitHome, _ := s.provider.ReadDigital(s.pins.LimitHome)
	frame.LimitHome = limitHome

	limitFinal, _ := s.provider.ReadDigital(s.pins.LimitFinal)
	frame.LimitFinal = limitFinal

	raw, _ := s.provider.ReadAnalog(s.pins.JoystickChannel)
	frame.JoystickRaw = raw

	for b := Button(0); b < buttonCount; b++ {
		if s.pending[b][0] {
			frame.risingEdge[b] = true
			s.pending[b][0] = false
		}
		if s.pending[b][1] {
			frame.fallingEdge[b] = true
			s.pending[b][1] = false
		}
	}

	return frame
}

// debounce requires the new level to be held across two consecutive
// samples at least DebounceSamplePeriod apart before it becomes stable
// (spec.md §4.2).
func (s *Sampler) debounce(b Button, level bool, now time.Time) {
	d := &s.buttons[b]

	if level == d.stable {
		d.haveCandidate = false
		return
	}

	if !d.haveCandidate || level != d.candidate {
		d.candidate = level
		d.candidateAt = now
		d.haveCandidate = true
		return
	}

	if now.Sub(d.candidateAt) < s.thresholds.DebounceSamplePeriod {
		return
	}

	// Level held across two samples >= DebounceSamplePeriod apart: commit.
	prev := d.stable
	d.stable = level
	d.haveCandidate = false

	if !prev && level {
		s.pending[b][0] = true
	} else if prev && !level {
		s.pending[b][1] = true
	}
}

// InjectRising synthesizes a rising edge for btn on the next Sample,
// bypassing debounce. It backs the coordinator's virtual button
// operations (press_start_virtual, press_stop_virtual, reset_virtual),
// which originate from an HTTP/WS command rather than a physical input.
func (s *Sampler) InjectRising(btn Button) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[btn].stable = true
	s.buttons[btn].haveCandidate = false
	s.pending[btn][0] = true
}

// InjectFalling synthesizes a falling edge for btn on the next Sample.
func (s *Sampler) InjectFalling(btn Button) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[btn].stable = false
	s.buttons[btn].haveCandidate = false
	s.pending[btn][1] = true
}

// JoystickBand classifies a raw joystick sample per spec.md §4.2.
func JoystickBand(raw int, t Thresholds) JoystickDirection {
	switch {
	case raw < t.JoystickLow:
		return JoystickTowardHome
	case raw > t.JoystickHigh:
		return JoystickTowardFinal
	default:
		return JoystickNeutral
	}
}

// JoystickHalfPeriod maps a raw sample in the outer band to a pulse
// half-period in microseconds: 0 or 1023 map to the fastest rate, the
// threshold itself maps to the slowest, linear in between (spec.md §4.2).
func JoystickHalfPeriod(raw int, t Thresholds) int {
	var distance, span int
	switch JoystickBand(raw, t) {
	case JoystickTowardHome:
		distance = t.JoystickLow - raw
		span = t.JoystickLow
	case JoystickTowardFinal:
		distance = raw - t.JoystickHigh
		span = 1023 - t.JoystickHigh
	default:
		return t.ManualVelocitySlowUs
	}

	if span <= 0 {
		return t.ManualVelocityFastUs
	}
	if distance < 0 {
		distance = 0
	}
	if distance > span {
		distance = span
	}

	// distance == 0 at the threshold -> slow; distance == span at the
	// raw extreme -> fast.
	frac := float64(distance) / float64(span)
	slow, fast := float64(t.ManualVelocitySlowUs), float64(t.ManualVelocityFastUs)
	return int(slow + frac*(fast-slow))
}
