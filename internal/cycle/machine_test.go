package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/drillctl/internal/hal"
	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/permit"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
)

// testClock is a monotonically-increasing fake microsecond clock a test
// can advance by calling advance(), decoupling axis timing from wall time.
type testClock struct {
	us uint64
}

func (c *testClock) now() uint64 { return c.us }
func (c *testClock) advance(d uint64) {
	c.us += d
}

func testConstants() SystemConstants {
	return SystemConstants{
		HomeReboundSteps:               5,
		LimitReboundSteps:              3,
		LimitReboundHalfPeriodUs:       10,
		HomeHalfPeriodUs:               10,
		DrillBurstHalfPeriodUs:         10,
		DrillBurstStepEdges:            4,
		SpindleRevolutionsCycle2Bursts: 2,
		PulsesPerSpindleRevolution:     3,
		PreCycleDrillWarmupMs:          0,
		PauseResumeDelayMs:             0,
		ManualVelocitySlowUs:           5000,
		ManualVelocityFastUs:           800,
		JoystickLowThreshold:           352,
		JoystickHighThreshold:          652,
	}
}

func testParams() ModeParams {
	return ModeParams{
		StepsCycle1:         6,
		StepsIntermediate:   4,
		StepsCycle2:         5,
		RevolutionsLevel1:   2,
		RevolutionsLevel2:   2,
		LinearHalfPeriodUs:  10,
		DrillHalfPeriodUs:   10,
	}
}

// newTestMachine wires a Machine against a FakeProvider, with sleep
// replaced by a no-op and the clock driven by the returned testClock so
// tests run instantly and deterministically. The fake provider's safety
// and limit pins default to their "everything is fine" level.
func newTestMachine(t *testing.T) (*Machine, *hal.FakeProvider, *testClock) {
	t.Helper()
	provider := hal.NewFakeProvider()
	provider.SetDigital(5, true)  // LimitHome; set back to false below
	clock := &testClock{}

	pins := input.Pins{Reset: 0, Start: 1, Stop: 2, Drill: 3, Safety: 4, LimitHome: 5, LimitFinal: 6, JoystickChannel: 0}
	// buttons are active-low; level true (pulled up) = not pressed.
	provider.SetDigital(0, true)
	provider.SetDigital(1, true)
	provider.SetDigital(2, true)
	provider.SetDigital(3, true)
	provider.SetDigital(4, true) // safety OK
	provider.SetDigital(5, false)
	provider.SetDigital(6, false)
	provider.SetAnalog(0, 512)

	sampler := input.New(provider, pins, input.DefaultThresholds())
	linear := pulse.NewAxis(provider, pulse.Pins{Step: 10, Dir: 11}, false)
	drill := pulse.NewAxis(provider, pulse.Pins{Step: 12, Dir: 13}, false)
	sup := safety.New(0)

	noSleep := func(time.Duration) {}
	m := New(linear, drill, sampler, sup, testConstants(), permit.AlwaysAllow{}, Hooks{}, clock.now, noSleep)
	return m, provider, clock
}

// pumpClock advances the fake clock by halfPeriod+1 microseconds per
// iteration, i.e. just past one edge interval at the given half period.
func pumpClock(clock *testClock, halfPeriod uint64, iterations int) {
	for i := 0; i < iterations; i++ {
		clock.advance(halfPeriod + 1)
	}
}

func TestSelectMode_RejectsWhileCycleInFlight(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.ctx.Phase = Cycle1
	ok := m.SelectMode(1, testParams())
	assert.False(t, ok)
}

func TestSelectMode_ResetsCounters(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.ctx.LinearStepCount = 99
	m.ctx.SpindleRevCount = 99
	ok := m.SelectMode(2, testParams())
	require.True(t, ok)

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.SelectedMode)
	assert.Equal(t, 0, snap.LinearStepCount)
	assert.Equal(t, 0, snap.SpindleRevCount)
}

// TestRunHoming_ReachesHomeAndRebounds drives the homing search to
// completion by asserting LimitHome partway through, then lets the
// rebound loop run to its fixed step count.
func TestRunHoming_ReachesHomeAndRebounds(t *testing.T) {
	m, provider, clock := newTestMachine(t)

	done := make(chan bool, 1)
	go func() {
		done <- m.runHoming(context.Background())
	}()

	// Let a few ticks elapse, then report the home limit reached.
	time.Sleep(5 * time.Millisecond)
	provider.SetDigital(5, true) // LimitHome asserted
	for i := 0; i < 100; i++ {
		clock.advance(11)
		time.Sleep(time.Microsecond)
	}

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("runHoming did not complete")
	}

	assert.False(t, m.Linear.Enabled())
}

func TestRunWaiting_ReturnsFalseOnReset(t *testing.T) {
	m, _, _ := newTestMachine(t)
	done := make(chan bool, 1)
	go func() { done <- m.runWaiting(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	m.Sampler.InjectRising(input.ButtonReset)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("runWaiting did not return")
	}
}

func TestRunWaiting_ReturnsTrueOnStartWhenSafe(t *testing.T) {
	m, _, _ := newTestMachine(t)
	done := make(chan bool, 1)
	go func() { done <- m.runWaiting(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	m.Sampler.InjectRising(input.ButtonStart)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("runWaiting did not return")
	}
}

func TestRunWaiting_PermitDeniedBlocksStart(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.Permit = denyPermit{}

	done := make(chan bool, 1)
	go func() { done <- m.runWaiting(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	m.Sampler.InjectRising(input.ButtonStart)
	time.Sleep(10 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("runWaiting should not have returned: permit denied")
	default:
	}

	// Now allow and press start again.
	m.Permit = permit.AlwaysAllow{}
	m.Sampler.InjectRising(input.ButtonStart)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("runWaiting did not return after permit allowed")
	}
}

type denyPermit struct{}

func (denyPermit) Allowed(time.Time) bool { return false }

// TestDriveStroke_CountsRisingEdgesOnly exercises the pulse engine's
// rising-edge-only step counting through the Machine's own clock driver.
func TestDriveStroke_CountsRisingEdgesOnly(t *testing.T) {
	m, _, clock := newTestMachine(t)
	m.Linear.SetDirection(pulse.TowardFinal)
	m.Linear.ResetStepCount()

	done := make(chan struct{})
	go func() {
		v, _ := m.driveStroke(3, 10)
		assert.Equal(t, safety.Continue, v)
		close(done)
	}()

	for i := 0; i < 20 && m.Linear.StepEdgesEmitted() < 3; i++ {
		clock.advance(11)
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driveStroke did not complete")
	}
	assert.Equal(t, uint64(3), m.Linear.StepEdgesEmitted())
}

// TestRunIntermediate_AdvancesExactStepsIntermediate resolves open
// question 1: exactly StepsIntermediate rising edges, direction
// Toward_Final (DESIGN.md decision 1).
func TestRunIntermediate_AdvancesExactStepsIntermediate(t *testing.T) {
	m, _, clock := newTestMachine(t)
	m.ctx.BoundParams = testParams()

	done := make(chan struct{})
	go func() {
		v, _ := m.runIntermediate(context.Background())
		assert.Equal(t, safety.Continue, v)
		close(done)
	}()

	for i := 0; i < 50 && m.Linear.StepEdgesEmitted() < uint64(testParams().StepsIntermediate); i++ {
		clock.advance(11)
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runIntermediate did not complete")
	}
	assert.Equal(t, uint64(testParams().StepsIntermediate), m.Linear.StepEdgesEmitted())
	assert.Equal(t, pulse.TowardFinal, m.Linear.Direction())
}

// TestOnDrillRisingEdge_AccumulatesSpindleRevolutions verifies the
// pulses-per-revolution rollover and OnSpindleRev firing.
func TestOnDrillRisingEdge_AccumulatesSpindleRevolutions(t *testing.T) {
	m, _, _ := newTestMachine(t)
	var revCounts []int
	m.Hooks.OnSpindleRev = func(count int) { revCounts = append(revCounts, count) }

	for i := 0; i < 7; i++ {
		m.onDrillRisingEdge(3)
	}

	// 7 edges / 3 per rev = 2 complete revolutions, remainder 1 pending.
	assert.Equal(t, []int{1, 2}, revCounts)
	assert.Equal(t, 2, m.Snapshot().SpindleRevCount)
	assert.Equal(t, 1, m.Snapshot().DrillStepCount)
}

// TestRunDrillBurst_IncrementsBurstCounterAndSetsTerminationPending
// matches DESIGN.md decision 4: edges counted via StepEdgesBlocking
// (raw edges), burst completion increments the reused SpindleRevCount
// field and flags TerminationPending once the configured burst count
// is reached.
func TestRunDrillBurst_IncrementsBurstCounterAndSetsTerminationPending(t *testing.T) {
	m, _, clock := newTestMachine(t)
	m.Constants.SpindleRevolutionsCycle2Bursts = 1

	done := make(chan struct{})
	go func() {
		v, _ := m.runDrillBurst()
		assert.Equal(t, safety.Continue, v)
		close(done)
	}()

	for i := 0; i < 50; i++ {
		clock.advance(11)
		time.Sleep(time.Millisecond)
		select {
		case <-done:
			goto finished
		default:
		}
	}
finished:
	<-done
	snap := m.Snapshot()
	assert.Equal(t, 1, snap.SpindleRevCount)
	assert.True(t, snap.TerminationPending)
}

// TestPause_ReEnablesOnlyPreviouslyEnabledAxes verifies the pause/resume
// sequence disables both axes, waits for a Start edge, then re-enables
// only the axis that was actually running before the pause.
func TestPause_ReEnablesOnlyPreviouslyEnabledAxes(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.Linear.Enable(true)
	m.Drill.Enable(false)

	var pausedStates []bool
	m.Hooks.OnPaused = func(p bool) { pausedStates = append(pausedStates, p) }

	done := make(chan struct{})
	go func() {
		m.pause(safety.PauseInterlock)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	assert.False(t, m.Linear.Enabled())
	m.Sampler.InjectRising(input.ButtonStart)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pause did not return")
	}

	assert.True(t, m.Linear.Enabled())
	assert.False(t, m.Drill.Enabled())
	assert.Equal(t, []bool{true, false}, pausedStates)
}

// TestToIdleViaHoming_ClearsCounters verifies the abort-recovery path
// resets cycle counters before re-homing and publishing Idle.
func TestToIdleViaHoming_ClearsCounters(t *testing.T) {
	m, provider, clock := newTestMachine(t)
	m.ctx.LinearStepCount = 10
	m.ctx.DrillStepCount = 10
	m.ctx.SpindleRevCount = 10
	m.ctx.TerminationPending = true

	done := make(chan struct{})
	go func() {
		m.toIdleViaHoming(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	provider.SetDigital(5, true)
	for i := 0; i < 200; i++ {
		clock.advance(11)
		time.Sleep(time.Microsecond)
		select {
		case <-done:
			goto finished
		default:
		}
	}
finished:
	<-done

	snap := m.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Equal(t, 0, snap.LinearStepCount)
	assert.Equal(t, 0, snap.SpindleRevCount)
	assert.False(t, snap.TerminationPending)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Cycle1", Cycle1.String())
	assert.Equal(t, "Unknown", Phase(99).String())
}

func TestDefaultConstants_AreNonZero(t *testing.T) {
	c := DefaultConstants()
	assert.Equal(t, 425, c.HomeReboundSteps)
	assert.Equal(t, 200, c.DrillBurstStepEdges)
	assert.Equal(t, 400, c.PulsesPerSpindleRevolution)
}
