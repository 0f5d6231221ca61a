package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/pulse"
)

func frameWith(opts func(*input.Frame)) input.Frame {
	f := input.Frame{SafetyOK: true}
	if opts != nil {
		opts(&f)
	}
	return f
}

func TestEvaluate_ContinuesWhenNothingTripped(t *testing.T) {
	s := New(0)
	moving := pulse.TowardFinal
	v, sr := s.Evaluate(frameWith(nil), &moving)
	assert.Equal(t, Continue, v)
	assert.Equal(t, NoSubResult, sr)
}

func TestEvaluate_InterlockTripsPause(t *testing.T) {
	s := New(0)
	f := frameWith(func(fr *input.Frame) { fr.SafetyOK = false })
	v, _ := s.Evaluate(f, nil)
	assert.Equal(t, PauseInterlock, v)
}

func TestEvaluate_LimitHomeOnlyTripsWhenMovingTowardHome(t *testing.T) {
	s := New(0)
	f := frameWith(func(fr *input.Frame) { fr.LimitHome = true })

	movingHome := pulse.TowardHome
	v, sr := s.Evaluate(f, &movingHome)
	assert.Equal(t, Abort, v)
	assert.Equal(t, HomeReached, sr)

	movingFinal := pulse.TowardFinal
	v, sr = s.Evaluate(f, &movingFinal)
	assert.Equal(t, Continue, v)
	assert.Equal(t, NoSubResult, sr)
}

func TestEvaluate_LimitFinalOnlyTripsWhenMovingTowardFinal(t *testing.T) {
	s := New(0)
	f := frameWith(func(fr *input.Frame) { fr.LimitFinal = true })

	movingFinal := pulse.TowardFinal
	v, sr := s.Evaluate(f, &movingFinal)
	assert.Equal(t, Abort, v)
	assert.Equal(t, FinalReached, sr)
}

func TestEvaluate_NilMovingSkipsLimitChecks(t *testing.T) {
	s := New(0)
	f := frameWith(func(fr *input.Frame) { fr.LimitHome = true; fr.LimitFinal = true })
	v, _ := s.Evaluate(f, nil)
	assert.Equal(t, Continue, v)
}

func TestEvaluate_ResetRisingEdgeWinsOverInterlock(t *testing.T) {
	s := New(0)
	provider := fakeNoopProvider{safetyOK: false}
	sampler := input.New(provider, input.Pins{Safety: 4}, input.DefaultThresholds())
	sampler.InjectRising(input.ButtonReset)

	f := sampler.Sample(time.Now())
	assert.False(t, f.SafetyOK, "interlock is also tripped in this frame")

	v, sr := s.Evaluate(f, nil)
	assert.Equal(t, Abort, v, "reset rising edge takes precedence over interlock")
	assert.Equal(t, NoSubResult, sr)
}

func TestToPulseSignal(t *testing.T) {
	assert.Equal(t, pulse.Continue, ToPulseSignal(Continue))
	assert.Equal(t, pulse.Abort, ToPulseSignal(PauseStop))
	assert.Equal(t, pulse.Abort, ToPulseSignal(Abort))
}

func TestWaitForStart_ReturnsOnRisingEdge(t *testing.T) {
	s := New(0)
	calls := 0
	sampleFn := func() input.Frame {
		calls++
		f := input.Frame{}
		if calls >= 3 {
			return fireStartEdge()
		}
		return f
	}

	done := make(chan struct{})
	go func() {
		s.WaitForStart(sampleFn, time.Microsecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForStart did not return")
	}
	assert.GreaterOrEqual(t, calls, 3)
}

func fireStartEdge() input.Frame {
	// Frame's edge flags are unexported; go through a real Sampler
	// injection to produce a frame with Start rising.
	provider := fakeNoopProvider{safetyOK: true}
	sampler := input.New(provider, input.Pins{}, input.DefaultThresholds())
	sampler.InjectRising(input.ButtonStart)
	return sampler.Sample(time.Now())
}

// fakeNoopProvider is a minimal hal.Provider double, avoiding an
// internal/hal import cycle risk for a test fixture this small.
type fakeNoopProvider struct {
	safetyOK bool
}

func (p fakeNoopProvider) ReadDigital(pin int) (bool, error) {
	if pin == 4 { // Safety pin in these fixtures
		return p.safetyOK, nil
	}
	return true, nil
}
func (fakeNoopProvider) WriteDigital(int, bool) error { return nil }
func (fakeNoopProvider) ReadAnalog(int) (int, error)  { return 512, nil }
func (fakeNoopProvider) NowMicros() uint64            { return 0 }
func (fakeNoopProvider) Close() error                 { return nil }

func TestPauseResumeSettle_SleepsConfiguredDelay(t *testing.T) {
	s := New(5 * time.Millisecond)
	var slept time.Duration
	s.sleep = func(d time.Duration) { slept = d }

	s.PauseResumeSettle()
	assert.Equal(t, 5*time.Millisecond, slept)
}
