package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/permit"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
)

// Hooks lets the coordinator observe phase/counter transitions without
// the cycle machine depending on the coordinator or telemetry packages.
type Hooks struct {
	OnPhase       func(Phase)
	OnSpindleRev  func(count int)
	OnPaused      func(paused bool)
	OnDisplay     func(message string)
	OnError       func(kind string)
	OnEvent       func(name string, fields map[string]interface{})
}

// Machine sequences the drilling cycle on top of two pulse axes.
type Machine struct {
	Linear, Drill *pulse.Axis
	Sampler       *input.Sampler
	Supervisor    *safety.Supervisor
	Constants     SystemConstants
	Permit        permit.Permit
	Hooks         Hooks

	nowUs func() uint64
	sleep func(time.Duration)

	mu  sync.Mutex
	ctx Context
}

// New creates a Machine. nowUs and sleep are overridable for tests; pass
// nil to use the real clock.
func New(linear, drill *pulse.Axis, sampler *input.Sampler, sup *safety.Supervisor, consts SystemConstants, p permit.Permit, hooks Hooks, nowUs func() uint64, sleep func(time.Duration)) *Machine {
	if sleep == nil {
		sleep = time.Sleep
	}
	m := &Machine{
		Linear: linear, Drill: drill, Sampler: sampler, Supervisor: sup,
		Constants: consts, Permit: p, Hooks: hooks, nowUs: nowUs, sleep: sleep,
	}
	m.ctx.Phase = Idle
	return m
}

// Snapshot returns a copy of the current context for status publishing.
func (m *Machine) Snapshot() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

func (m *Machine) setPhase(p Phase) {
	m.mu.Lock()
	m.ctx.Phase = p
	m.mu.Unlock()
	if m.Hooks.OnPhase != nil {
		m.Hooks.OnPhase(p)
	}
}

func (m *Machine) sample() input.Frame {
	return m.Sampler.Sample(time.Now())
}

func (m *Machine) clockUs() uint64 {
	if m.nowUs != nil {
		return m.nowUs()
	}
	return 0
}

func (m *Machine) emit(name string, fields map[string]interface{}) {
	if m.Hooks.OnEvent != nil {
		m.Hooks.OnEvent(name, fields)
	}
}

// SelectMode binds params and moves Idle -> Homing -> Waiting. Returns
// false (ErrBusy handled by the coordinator) if a cycle is in flight.
func (m *Machine) SelectMode(modeNum int, params ModeParams) bool {
	m.mu.Lock()
	if m.ctx.Phase == Cycle1 || m.ctx.Phase == Cycle2 {
		m.mu.Unlock()
		return false
	}
	m.ctx.SelectedMode = modeNum
	m.ctx.BoundParams = params
	m.ctx.LinearStepCount = 0
	m.ctx.DrillStepCount = 0
	m.ctx.SpindleRevCount = 0
	m.ctx.TerminationPending = false
	m.mu.Unlock()

	m.emit("mode_selected", map[string]interface{}{"mode": modeNum})
	return true
}

// RunFromHoming drives Homing -> Waiting -> Cycle1 -> Intermediate ->
// Cycle2 -> Unload -> Idle, honoring abort/pause verdicts throughout.
// It is invoked by the coordinator as the body of the single control
// task once a mode has been selected.
func (m *Machine) RunFromHoming(execCtx context.Context) {
	if !m.runHoming(execCtx) {
		m.toIdleViaHoming(execCtx)
		return
	}

	if !m.runWaiting(execCtx) {
		m.toIdleViaHoming(execCtx)
		return
	}

	if v, _ := m.runCycle1(execCtx); v == safety.Abort {
		m.toIdleViaHoming(execCtx)
		return
	}

	if v, _ := m.runIntermediate(execCtx); v == safety.Abort {
		m.toIdleViaHoming(execCtx)
		return
	}

	if v, _ := m.runCycle2(execCtx); v == safety.Abort {
		m.toIdleViaHoming(execCtx)
		return
	}

	m.runUnload(execCtx)
	m.toIdleViaHoming(execCtx)
}

// runHoming implements spec.md §4.5 Homing. Returns false if a reset
// aborts the rebound off the home switch (a reset during the home search
// is ignored); RunFromHoming then returns to Idle via toIdleViaHoming.
func (m *Machine) runHoming(execCtx context.Context) bool {
	m.setPhase(Homing)

	m.Linear.SetDirection(pulse.TowardHome)
	moving := pulse.TowardHome
	m.Linear.Enable(true)

	for {
		now := m.clockUs()
		m.Linear.Tick(now, m.Constants.HomeHalfPeriodUs)

		frame := m.sample()
		v, sr := m.Supervisor.Evaluate(frame, &moving)
		switch v {
		case safety.Continue:
		case safety.PauseInterlock, safety.PauseStop:
			m.pause(v)
		case safety.Abort:
			if sr == safety.HomeReached {
				goto rebound
			}
			// reset during homing: already heading home, just restart search
		}
		m.sleep(20 * time.Microsecond)
	}

rebound:
	m.emit("home_reached", nil)
	m.Linear.SetDirection(pulse.TowardFinal)
	moving = pulse.TowardFinal
	m.Linear.ResetStepCount()

	for m.Linear.StepEdgesEmitted() < uint64(m.Constants.HomeReboundSteps) {
		now := m.clockUs()
		m.Linear.Tick(now, m.Constants.HomeHalfPeriodUs)

		frame := m.sample()
		v, _ := m.Supervisor.Evaluate(frame, nil)
		switch v {
		case safety.PauseInterlock, safety.PauseStop:
			m.pause(v)
		case safety.Abort:
			return false
		}
		m.sleep(20 * time.Microsecond)
	}

	m.Linear.Enable(false)
	m.emit("home_rebound_complete", map[string]interface{}{"steps": m.Constants.HomeReboundSteps})
	return true
}

// runWaiting implements spec.md §4.5 Waiting. Returns false if reset
// aborts waiting (coordinator sends back to Idle).
func (m *Machine) runWaiting(execCtx context.Context) bool {
	m.setPhase(Waiting)
	if m.Hooks.OnDisplay != nil {
		m.Hooks.OnDisplay("LOAD WORKPIECE / PRESS START")
	}

	for {
		frame := m.sample()
		if frame.RisingEdge(input.ButtonReset) {
			return false
		}
		if frame.RisingEdge(input.ButtonStart) && frame.SafetyOK {
			if m.Permit != nil && !m.Permit.Allowed(time.Now()) {
				if m.Hooks.OnError != nil {
					m.Hooks.OnError("PermitDenied")
				}
				continue
			}
			return true
		}
		m.sleep(time.Millisecond)
	}
}

// runCycle1 implements spec.md §4.5 Cycle-1.
func (m *Machine) runCycle1(execCtx context.Context) (safety.Verdict, safety.SubResult) {
	m.setPhase(Cycle1)
	params := m.Snapshot().BoundParams

	// Pre-cycle drill warmup.
	m.Drill.Enable(true)
	warmupUntil := time.Now().Add(time.Duration(m.Constants.PreCycleDrillWarmupMs) * time.Millisecond)
	for time.Now().Before(warmupUntil) {
		now := m.clockUs()
		m.Drill.Tick(now, params.DrillHalfPeriodUs)
		frame := m.sample()
		v, _ := m.Supervisor.Evaluate(frame, nil)
		switch v {
		case safety.Continue:
		case safety.PauseInterlock, safety.PauseStop:
			m.pause(v)
		case safety.Abort:
			m.Drill.Enable(false)
			return v, safety.NoSubResult
		}
		m.sleep(20 * time.Microsecond)
	}

	m.mu.Lock()
	m.ctx.StrokeDirection = pulse.TowardFinal
	target := params.RevolutionsLevel1
	m.mu.Unlock()

	for {
		m.mu.Lock()
		dir := m.ctx.StrokeDirection
		m.mu.Unlock()

		m.Linear.SetDirection(dir)
		m.Linear.ResetStepCount()

		v, sr := m.driveStrokeWithDrill(params.StepsCycle1, params.LinearHalfPeriodUs, params.DrillHalfPeriodUs, m.Constants.PulsesPerSpindleRevolution, target)
		if v == safety.Abort {
			m.Drill.Enable(false)
			m.Linear.Enable(false)
			return v, sr
		}

		m.mu.Lock()
		completedTowardFinal := m.ctx.StrokeDirection == pulse.TowardFinal
		done := m.ctx.SpindleRevCount >= target && completedTowardFinal
		if dir == pulse.TowardHome {
			m.ctx.StrokeDirection = pulse.TowardFinal
		} else {
			m.ctx.StrokeDirection = pulse.TowardHome
		}
		m.mu.Unlock()

		if done {
			break
		}
	}

	m.Drill.Enable(false)
	m.Linear.Enable(false)
	return safety.Continue, safety.NoSubResult
}

// driveStrokeWithDrill runs the linear axis for `steps` rising edges,
// concurrently ticking the drill axis and counting spindle revolutions
// every pulsesPerRev drill rising edges (spec.md §4.5 Cycle-1 body).
func (m *Machine) driveStrokeWithDrill(steps int, linearHalf, drillHalf uint64, pulsesPerRev int, _ int) (safety.Verdict, safety.SubResult) {
	m.Linear.Enable(true)
	moving := m.Linear.Direction()

	for m.Linear.StepEdgesEmitted() < uint64(steps) {
		now := m.clockUs()
		m.Linear.Tick(now, linearHalf)
		if m.Drill.Tick(now, drillHalf) {
			m.onDrillRisingEdge(pulsesPerRev)
		}

		frame := m.sample()
		v, sr := m.Supervisor.Evaluate(frame, &moving)
		switch v {
		case safety.Continue:
		case safety.PauseInterlock, safety.PauseStop:
			m.pause(v)
		default:
			return v, sr
		}
		m.sleep(20 * time.Microsecond)
	}
	return safety.Continue, safety.NoSubResult
}

func (m *Machine) onDrillRisingEdge(pulsesPerRev int) {
	m.mu.Lock()
	m.ctx.DrillStepCount++
	var publish bool
	if m.ctx.DrillStepCount >= pulsesPerRev {
		m.ctx.DrillStepCount = 0
		m.ctx.SpindleRevCount++
		publish = true
	}
	count := m.ctx.SpindleRevCount
	m.mu.Unlock()

	if publish && m.Hooks.OnSpindleRev != nil {
		m.Hooks.OnSpindleRev(count)
	}
}

// runIntermediate implements spec.md §4.5 Intermediate, resolving open
// question 1 (DESIGN.md) as "edges counted as rising edges": exactly
// steps_intermediate rising edges Toward_Final.
func (m *Machine) runIntermediate(execCtx context.Context) (safety.Verdict, safety.SubResult) {
	m.setPhase(Intermediate)
	m.sleep(time.Second)

	params := m.Snapshot().BoundParams
	m.Linear.SetDirection(pulse.TowardFinal)
	m.Linear.ResetStepCount()

	v, sr := m.driveStroke(params.StepsIntermediate, params.LinearHalfPeriodUs)
	m.Linear.Enable(false)
	return v, sr
}

// driveStroke runs the linear axis alone for `steps` rising edges.
func (m *Machine) driveStroke(steps int, halfPeriod uint64) (safety.Verdict, safety.SubResult) {
	m.Linear.Enable(true)
	moving := m.Linear.Direction()

	for m.Linear.StepEdgesEmitted() < uint64(steps) {
		now := m.clockUs()
		m.Linear.Tick(now, halfPeriod)

		frame := m.sample()
		v, sr := m.Supervisor.Evaluate(frame, &moving)
		switch v {
		case safety.Continue:
		case safety.PauseInterlock, safety.PauseStop:
			m.pause(v)
		default:
			return v, sr
		}
		m.sleep(20 * time.Microsecond)
	}
	return safety.Continue, safety.NoSubResult
}

// runCycle2 implements spec.md §4.5 Cycle-2.
func (m *Machine) runCycle2(execCtx context.Context) (safety.Verdict, safety.SubResult) {
	m.setPhase(Cycle2)
	m.sleep(time.Second)

	params := m.Snapshot().BoundParams

	m.mu.Lock()
	m.ctx.StrokeDirection = pulse.TowardFinal
	m.ctx.SpindleRevCount = 0
	m.ctx.TerminationPending = false
	m.mu.Unlock()

	for {
		m.mu.Lock()
		dir := m.ctx.StrokeDirection
		m.mu.Unlock()

		m.Linear.SetDirection(dir)
		m.Linear.ResetStepCount()

		v, sr := m.driveStroke(params.StepsCycle2, params.LinearHalfPeriodUs)
		if v == safety.Abort {
			m.Linear.Enable(false)
			return v, sr
		}

		completedTowardFinal := dir == pulse.TowardFinal
		if completedTowardFinal {
			m.mu.Lock()
			terminationPending := m.ctx.TerminationPending
			m.mu.Unlock()

			if terminationPending {
				break
			}

			if v, sr := m.runDrillBurst(); v == safety.Abort {
				m.Linear.Enable(false)
				return v, sr
			}
		}

		m.mu.Lock()
		if dir == pulse.TowardHome {
			m.ctx.StrokeDirection = pulse.TowardFinal
		} else {
			m.ctx.StrokeDirection = pulse.TowardHome
		}
		m.mu.Unlock()
	}

	m.Linear.Enable(false)
	return safety.Continue, safety.NoSubResult
}

// runDrillBurst emits drill_burst_step_edges raw edges at
// drill_burst_half_period_us with the linear axis idle, then updates the
// burst counter (reused spindle_rev_count field per spec.md §4.5).
func (m *Machine) runDrillBurst() (safety.Verdict, safety.SubResult) {
	m.emit("drill_burst_start", nil)
	v, sr := m.driveDrillBurst(m.Constants.DrillBurstStepEdges, m.Constants.DrillBurstHalfPeriodUs)
	m.Drill.Enable(false)
	if v == safety.Abort {
		return v, sr
	}

	m.mu.Lock()
	m.ctx.SpindleRevCount++
	count := m.ctx.SpindleRevCount
	if count >= m.Constants.SpindleRevolutionsCycle2Bursts {
		m.ctx.TerminationPending = true
	}
	m.mu.Unlock()

	if m.Hooks.OnSpindleRev != nil {
		m.Hooks.OnSpindleRev(count)
	}
	m.emit("drill_burst_end", map[string]interface{}{"burst_count": count})
	return safety.Continue, safety.NoSubResult
}

func (m *Machine) driveDrillBurst(edges int, halfPeriod uint64) (safety.Verdict, safety.SubResult) {
	reached := m.Drill.StepEdgesBlocking(edges, halfPeriod, func() pulse.Signal {
		frame := m.sample()
		v, _ := m.Supervisor.Evaluate(frame, nil)
		if v == safety.Continue {
			return pulse.Continue
		}
		return pulse.Abort
	})

	if reached < edges {
		return safety.Abort, safety.NoSubResult
	}
	return safety.Continue, safety.NoSubResult
}

// runUnload implements spec.md §4.5 Unload.
func (m *Machine) runUnload(execCtx context.Context) {
	m.setPhase(Unload)
	if m.Hooks.OnDisplay != nil {
		m.Hooks.OnDisplay("OPEN AND UNLOAD / PRESS START FOR NEXT CYCLE")
	}

	for {
		frame := m.sample()
		if frame.RisingEdge(input.ButtonReset) {
			return
		}
		m.sleep(time.Millisecond)
	}
}

// toIdleViaHoming implements the Abort semantics of spec.md §4.4: clear
// context, re-home, publish Idle.
func (m *Machine) toIdleViaHoming(execCtx context.Context) {
	m.Linear.Enable(false)
	m.Drill.Enable(false)

	m.mu.Lock()
	m.ctx.LinearStepCount = 0
	m.ctx.DrillStepCount = 0
	m.ctx.SpindleRevCount = 0
	m.ctx.TerminationPending = false
	m.mu.Unlock()

	m.runHoming(execCtx)

	m.mu.Lock()
	m.ctx.Phase = Idle
	m.ctx.SelectedMode = 0
	m.mu.Unlock()
	m.setPhase(Idle)
}

// pause implements spec.md §4.4 safety-pause semantics: disable axes,
// publish paused, wait for Start, settle, re-enable.
func (m *Machine) pause(v safety.Verdict) {
	linearWasEnabled := m.Linear.Enabled()
	drillWasEnabled := m.Drill.Enabled()

	m.Linear.Enable(false)
	m.Drill.Enable(false)

	if m.Hooks.OnPaused != nil {
		m.Hooks.OnPaused(true)
	}
	if m.Hooks.OnDisplay != nil {
		m.Hooks.OnDisplay("PAUSED")
	}

	m.Supervisor.WaitForStart(m.sample, time.Millisecond)
	m.Supervisor.PauseResumeSettle()

	if linearWasEnabled {
		m.Linear.Enable(true)
	}
	if drillWasEnabled {
		m.Drill.Enable(true)
	}

	if m.Hooks.OnPaused != nil {
		m.Hooks.OnPaused(false)
	}
}
