package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgeflow/drillctl/internal/cycle"
	"github.com/edgeflow/drillctl/internal/hal"
	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/manual"
	"github.com/edgeflow/drillctl/internal/permit"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
)

func newTestCoordinator(t *testing.T, modes map[int]cycle.ModeParams) (*Coordinator, *hal.FakeProvider) {
	t.Helper()
	provider := hal.NewFakeProvider()
	pins := input.Pins{Reset: 0, Start: 1, Stop: 2, Drill: 3, Safety: 4, LimitHome: 5, LimitFinal: 6, JoystickChannel: 0}
	for _, pin := range []int{0, 1, 2, 3, 4} {
		provider.SetDigital(pin, true)
	}
	provider.SetDigital(5, false)
	provider.SetDigital(6, false)
	provider.SetAnalog(0, 512)

	thresholds := input.DefaultThresholds()
	sampler := input.New(provider, pins, thresholds)
	linear := pulse.NewAxis(provider, pulse.Pins{Step: 10, Dir: 11}, false)
	drill := pulse.NewAxis(provider, pulse.Pins{Step: 12, Dir: 13}, false)
	sup := safety.New(0)

	var us uint64
	nowUs := func() uint64 { us += 20; return us }
	noSleep := func(time.Duration) {}

	machine := cycle.New(linear, drill, sampler, sup, cycle.SystemConstants{HomeHalfPeriodUs: 10, HomeReboundSteps: 1}, permit.AlwaysAllow{}, cycle.Hooks{}, nowUs, noSleep)
	manualCtl := manual.New(linear, drill, sampler, sup, thresholds, 1, 10, manual.Hooks{}, nowUs, noSleep)

	c := New(machine, manualCtl, sampler, linear, drill, modes, cycle.SystemConstants{}, permit.AlwaysAllow{}, zap.NewNop())
	return c, provider
}

func TestSnapshot_ReflectsMachinePhase(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	status := c.Snapshot()
	assert.Equal(t, cycle.Idle, status.Cycle.Phase)
	assert.False(t, status.ManualActive)
	assert.Equal(t, 0, status.QueueDepth)
}

func TestSelectMode_InvalidModeReturnsError(t *testing.T) {
	c, _ := newTestCoordinator(t, map[int]cycle.ModeParams{1: {}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	res := c.SelectMode(99)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInvalidMode)
}

func TestSelectManual_ThenSelectModeInterrupts(t *testing.T) {
	c, provider := newTestCoordinator(t, map[int]cycle.ModeParams{
		1: {StepsCycle1: 1, StepsIntermediate: 1, StepsCycle2: 1, RevolutionsLevel1: 1, LinearHalfPeriodUs: 5, DrillHalfPeriodUs: 5},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	res := c.SelectManual()
	require.True(t, res.OK)

	// Give runManual a moment to set ManualActive and enter its loop.
	assert.Eventually(t, func() bool {
		return c.Snapshot().ManualActive
	}, time.Second, time.Millisecond)

	// Selecting a mode from manual should be accepted by the same
	// in-flight command loop rather than rejected as busy.
	provider.SetDigital(5, true) // let homing resolve immediately
	res = c.SelectMode(1)
	assert.True(t, res.OK)
}

func TestSubmit_ReturnsErrQueueFullWhenSaturated(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	// Do not start Run(): nothing drains cmdCh, so it saturates at
	// commandQueueCapacity and the next submit must fail fast.
	for i := 0; i < commandQueueCapacity; i++ {
		cmd := Command{ID: "x", Op: OpSnapshot, Result: make(chan CommandResult, 1)}
		select {
		case c.cmdCh <- cmd:
		default:
			t.Fatalf("queue unexpectedly full at %d", i)
		}
	}

	res := c.submit(OpSelectMode, 1)
	assert.ErrorIs(t, res.Err, ErrQueueFull)
}

func TestPressStartVirtual_InjectsRisingEdge(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.PressStartVirtual()
	frame := c.Sampler.Sample(time.Now())
	assert.True(t, frame.RisingEdge(input.ButtonStart))
}

func TestEmergencyStop_DisablesAxesAndInjectsReset(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.Linear.Enable(true)
	c.Drill.Enable(true)

	c.EmergencyStop()

	assert.False(t, c.Linear.Enabled())
	assert.False(t, c.Drill.Enabled())
	frame := c.Sampler.Sample(time.Now())
	assert.True(t, frame.RisingEdge(input.ButtonReset))
}
