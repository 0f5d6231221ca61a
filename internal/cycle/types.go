// Package cycle implements the drilling cycle state machine of spec.md
// §4.5: Home-find → Cycle-1 → Intermediate advance → Cycle-2 →
// Unload-wait, sequenced on top of the pulse engine and safety
// supervisor.
package cycle

import "github.com/edgeflow/drillctl/internal/pulse"

// Phase is one state of the cycle state machine.
type Phase int

const (
	Idle Phase = iota
	Homing
	Waiting
	Cycle1
	Intermediate
	Cycle2
	Unload
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Homing:
		return "Homing"
	case Waiting:
		return "Waiting"
	case Cycle1:
		return "Cycle1"
	case Intermediate:
		return "Intermediate"
	case Cycle2:
		return "Cycle2"
	case Unload:
		return "Unload"
	default:
		return "Unknown"
	}
}

// ModeParams is one named mode's immutable-per-cycle parameter record
// (spec.md §3).
type ModeParams struct {
	StepsCycle1         int
	StepsIntermediate   int
	StepsCycle2         int
	RevolutionsLevel1   int
	RevolutionsLevel2   int
	LinearHalfPeriodUs  uint64
	DrillHalfPeriodUs   uint64
}

// SystemConstants are the system-wide constants of spec.md §3.
type SystemConstants struct {
	HomeReboundSteps             int
	LimitReboundSteps            int
	LimitReboundHalfPeriodUs     uint64
	HomeHalfPeriodUs             uint64
	DrillBurstHalfPeriodUs       uint64
	DrillBurstStepEdges          int
	SpindleRevolutionsCycle2Bursts int
	PulsesPerSpindleRevolution   int
	PreCycleDrillWarmupMs        int
	PauseResumeDelayMs           int
	ManualVelocitySlowUs         int
	ManualVelocityFastUs         int
	JoystickLowThreshold         int
	JoystickHighThreshold        int
	LinearDirectionInvert        bool
	DrillDirectionInvert         bool
	CycleDirectionInvert         bool
}

// DefaultConstants mirrors the defaults named throughout spec.md §3/§8.
func DefaultConstants() SystemConstants {
	return SystemConstants{
		HomeReboundSteps:               425,
		LimitReboundSteps:              300,
		LimitReboundHalfPeriodUs:       2500,
		HomeHalfPeriodUs:               3900,
		DrillBurstHalfPeriodUs:         2640,
		DrillBurstStepEdges:            200,
		SpindleRevolutionsCycle2Bursts: 3,
		PulsesPerSpindleRevolution:     400,
		PreCycleDrillWarmupMs:          2000,
		PauseResumeDelayMs:             2000,
		ManualVelocitySlowUs:           5000,
		ManualVelocityFastUs:           800,
		JoystickLowThreshold:           352,
		JoystickHighThreshold:          652,
	}
}

// Context is the cycle state machine's owned, mutable record (spec.md
// §3 CycleContext). It is owned exclusively by the control task; all
// other observers read a published StatusSnapshot instead.
type Context struct {
	SelectedMode        int
	BoundParams         ModeParams
	Phase               Phase
	StrokeDirection     pulse.Direction
	LinearStepCount     int
	DrillStepCount      int
	SpindleRevCount     int
	TerminationPending  bool
}
