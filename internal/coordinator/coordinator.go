// Package coordinator is the single entry point external callers (the
// HTTP/WS surface, telemetry sinks) use to drive the control core. It
// owns the bounded command queue of spec.md §2/§4.7 and arbitrates the
// two operations that must be serialized against in-flight cycle state
// (select_mode, select_manual); every other operation is a direct,
// thread-safe method that either injects a virtual input edge or reads
// the status snapshot.
package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeflow/drillctl/internal/cycle"
	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/manual"
	"github.com/edgeflow/drillctl/internal/permit"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
)

const commandQueueCapacity = 16

// Status is the coordinator's status snapshot (spec.md §2/§3
// StatusSnapshot), safe to read from any goroutine. It is not lock-free:
// the cycle context is copied under the cycle machine's mutex.
type Status struct {
	Cycle          cycle.Context
	ManualActive   bool
	ManualDrillOn  bool
	QueueDepth     int
}

// Coordinator wires the cycle machine, manual controller, and shared
// input sampler together behind the seven operations of spec.md §4.7.
type Coordinator struct {
	Machine *cycle.Machine
	Manual  *manual.Controller
	Sampler *input.Sampler
	Linear  *pulse.Axis
	Drill   *pulse.Axis

	Modes     map[int]cycle.ModeParams
	Constants cycle.SystemConstants
	Permit    permit.Permit

	Logger *zap.Logger

	cmdCh        chan Command
	manualActive atomic.Bool
}

// New creates a Coordinator. modes must contain every mode number the
// operator may select (spec.md §6 configuration schema).
func New(machine *cycle.Machine, manualCtl *manual.Controller, sampler *input.Sampler, linear, drill *pulse.Axis, modes map[int]cycle.ModeParams, consts cycle.SystemConstants, p permit.Permit, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		Machine:   machine,
		Manual:    manualCtl,
		Sampler:   sampler,
		Linear:    linear,
		Drill:     drill,
		Modes:     modes,
		Constants: consts,
		Permit:    p,
		Logger:    logger,
		cmdCh:     make(chan Command, commandQueueCapacity),
	}
}

// Run is the single control task: it owns every piece of mutable motion
// state and is the only goroutine that ever calls Machine.RunFromHoming
// or Manual.Tick. It returns when ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmdCh:
			c.dispatch(ctx, cmd)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Op {
	case OpSelectMode:
		c.runSelectedMode(ctx, cmd)
	case OpSelectManual:
		c.runManual(ctx, cmd)
	default:
		cmd.Result <- CommandResult{Err: ErrUnknownOp}
	}
}

// runSelectedMode validates and binds a mode, acknowledges the command,
// then drives the full Homing->...->Idle sequence inline: the control
// task does not return to the command loop until the machine is back at
// Idle (spec.md §2 control-flow).
func (c *Coordinator) runSelectedMode(ctx context.Context, cmd Command) {
	if c.Machine.Snapshot().Phase != cycle.Idle {
		cmd.Result <- CommandResult{Err: ErrBusy}
		return
	}
	params, ok := c.Modes[cmd.Mode]
	if !ok {
		cmd.Result <- CommandResult{Err: ErrInvalidMode}
		return
	}
	if !c.Machine.SelectMode(cmd.Mode, params) {
		cmd.Result <- CommandResult{Err: ErrBusy}
		return
	}

	cmd.Result <- CommandResult{OK: true, Data: map[string]interface{}{"mode": cmd.Mode}}
	c.Machine.RunFromHoming(ctx)
}

// runManual enters the joystick jog loop of spec.md §4.6. It keeps
// servicing the command queue (non-blocking) so an operator can switch
// straight into an automatic mode without first leaving manual via a
// Reset press.
func (c *Coordinator) runManual(ctx context.Context, cmd Command) {
	if c.Machine.Snapshot().Phase != cycle.Idle {
		cmd.Result <- CommandResult{Err: ErrBusy}
		return
	}
	cmd.Result <- CommandResult{OK: true}
	c.manualActive.Store(true)
	defer c.manualActive.Store(false)

	for {
		select {
		case <-ctx.Done():
			c.Linear.Enable(false)
			c.Drill.Enable(false)
			return
		case next := <-c.cmdCh:
			if next.Op == OpSelectMode {
				c.Linear.Enable(false)
				c.Drill.Enable(false)
				c.manualActive.Store(false)
				c.runSelectedMode(ctx, next)
				return
			}
			next.Result <- CommandResult{Err: ErrUnknownOp}
		default:
		}

		frame := c.Sampler.Sample(time.Now())
		if frame.RisingEdge(input.ButtonReset) {
			c.Linear.Enable(false)
			c.Drill.Enable(false)
			return
		}
		if v := c.Manual.Tick(frame); v == safety.Abort {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// submit enqueues cmd, returning ErrQueueFull immediately if the bounded
// channel is saturated (spec.md §7).
func (c *Coordinator) submit(op Op, mode int) CommandResult {
	cmd := Command{ID: uuid.NewString(), Op: op, Mode: mode, Result: make(chan CommandResult, 1)}
	select {
	case c.cmdCh <- cmd:
	default:
		return CommandResult{Err: ErrQueueFull}
	}
	return <-cmd.Result
}

// SelectMode implements the select_mode operation.
func (c *Coordinator) SelectMode(mode int) CommandResult {
	return c.submit(OpSelectMode, mode)
}

// SelectManual implements the select_manual operation.
func (c *Coordinator) SelectManual() CommandResult {
	return c.submit(OpSelectManual, 0)
}

// PressStartVirtual implements press_start_virtual: it synthesizes a
// Start rising edge, observed by whichever suspension point the control
// task is currently blocked on (Waiting, Unload, or a safety pause).
func (c *Coordinator) PressStartVirtual() {
	c.Sampler.InjectRising(input.ButtonStart)
}

// PressStopVirtual implements press_stop_virtual.
func (c *Coordinator) PressStopVirtual() {
	c.Sampler.InjectRising(input.ButtonStop)
}

// ResetVirtual implements reset_virtual.
func (c *Coordinator) ResetVirtual() {
	c.Sampler.InjectRising(input.ButtonReset)
}

// EmergencyStop implements emergency_stop: the one operation spec.md
// §4.7 has bypass the command queue entirely and write hardware
// synchronously, since a queued command could sit behind an in-flight
// cycle for an unbounded time.
func (c *Coordinator) EmergencyStop() {
	c.Linear.Enable(false)
	c.Drill.Enable(false)
	c.Sampler.InjectRising(input.ButtonReset)
}

// Snapshot implements the snapshot operation: a direct read with no
// queueing, safe to call from any goroutine. It briefly takes the cycle
// machine's mutex to copy the cycle context; it is not lock-free.
func (c *Coordinator) Snapshot() Status {
	return Status{
		Cycle:         c.Machine.Snapshot(),
		ManualActive:  c.manualActive.Load(),
		ManualDrillOn: c.Manual.DrillLatched(),
		QueueDepth:    len(c.cmdCh),
	}
}
