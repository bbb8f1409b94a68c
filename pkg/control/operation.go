package control

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/curve"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/klog/v2"
)

// Sender is the part of the dispatcher the controllers drive.
type Sender interface {
	Enqueue(ctx context.Context, command []byte, policy modbusrtu.ParsePolicy) (*dispatcher.Reply, error)
	PausePolling()
	ResumePolling()
}

type SnapshotSource interface {
	Latest() telemetry.Snapshot
}

// CurveTrigger starts a background curve read after a breaker movement.
type CurveTrigger interface {
	Trigger(kind curve.Kind)
}

type Result string

const (
	Succeeded  Result = "succeeded"
	Unverified Result = "unverified"
	TimedOut   Result = "timedOut"
	Cancelled  Result = "cancelled"
	SendFailed Result = "sendFailed"
)

// TransmittedUnknown marks an action cancelled while its command may
// already have reached the device.
const TransmittedUnknown = "unknown"

// Outcome is the terminal state of one action.
type Outcome struct {
	Action  Action        `json:"action"`
	Result  Result        `json:"result"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	// Counter fields are set for breaker actions only.
	Counter     string `json:"counter,omitempty"`
	BeforeCount int    `json:"beforeCount,omitempty"`
	AfterCount  int    `json:"afterCount,omitempty"`
	// Transmitted is "unknown" when the wait for the reply was cancelled.
	Transmitted string `json:"transmitted,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Option func(c *OperationController)

func WithGuard(g *Guard) Option {
	return func(c *OperationController) {
		c.guard = g
	}
}

func WithCurveTrigger(t CurveTrigger) Option {
	return func(c *OperationController) {
		c.curves = t
	}
}

func WithEventSink(events runtime.EventSink) Option {
	return func(c *OperationController) {
		c.events = events
	}
}

func WithSlave(slave byte) Option {
	return func(c *OperationController) {
		c.slave = slave
	}
}

// OperationController drives one switching action from command to
// verified end state.
type OperationController struct {
	sender Sender
	snaps  SnapshotSource
	guard  *Guard
	curves CurveTrigger
	events runtime.EventSink
	slave  byte

	mu     sync.RWMutex
	config DelayConfig
}

func NewOperationController(sender Sender, snaps SnapshotSource, config DelayConfig, opts ...Option) *OperationController {
	c := &OperationController{
		sender: sender,
		snaps:  snaps,
		guard:  NewGuard(),
		events: runtime.NopEventSink,
		slave:  dispatcher.DefaultSlave,
		config: config,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OperationController) Config() DelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfig replaces the delay configuration for subsequent runs.
func (c *OperationController) UpdateConfig(config DelayConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
	klog.V(1).InfoS("Updated delay configuration")
	return nil
}

// Cancel stops the running action or plan from waiting. A command already
// on the wire is not undone.
func (c *OperationController) Cancel() bool {
	return c.guard.Cancel()
}

func (c *OperationController) Busy() (string, bool) {
	return c.guard.Owner()
}

// Execute checks preconditions, sends the action and waits for the device
// to reach its end state. A non-nil Outcome is returned for every attempt
// that reached the wire.
func (c *OperationController) Execute(ctx context.Context, action Action) (*Outcome, error) {
	if _, ok := actionOffsets[action]; !ok {
		return nil, errors.Wrapf(ErrUnknownAction, "%q", action)
	}
	if err := Check(action, c.snaps.Latest()); err != nil {
		klog.V(2).InfoS("Rejected action", "action", action, "err", err)
		return nil, err
	}
	ctx, release, err := c.guard.acquire(ctx, string(action), false)
	if err != nil {
		return nil, err
	}
	defer release()

	config := c.Config()
	outcome, err := c.run(ctx, action, config.Fault.For(action), config)
	if err == nil {
		if settle := config.Settle.For(action); settle > 0 {
			klog.V(3).InfoS("Waiting for device to settle", "action", action, "delay", settle)
			_ = sleep(ctx, settle)
		}
	}
	return outcome, err
}

// run performs one action without the guard or precondition check.
func (c *OperationController) run(ctx context.Context, action Action, timeout time.Duration, config DelayConfig) (*Outcome, error) {
	t := action.target()
	before := c.snaps.Latest()
	outcome := &Outcome{Action: action, Started: time.Now(), Counter: t.counter}
	if t.counter != "" {
		outcome.BeforeCount = counter(before, t.counter)
	}

	c.sender.PausePolling()
	var resumeOnce sync.Once
	resume := func() { resumeOnce.Do(c.sender.ResumePolling) }
	defer resume()

	finish := func(result Result, err error) (*Outcome, error) {
		outcome.Result = result
		outcome.Elapsed = time.Since(outcome.Started)
		if err != nil {
			outcome.Message = err.Error()
		}
		c.emit(outcome)
		return outcome, err
	}

	if err := sleep(ctx, config.StopBeforeCommand.Duration); err != nil {
		return finish(Cancelled, ErrOperationCancelled)
	}
	if _, err := c.sender.Enqueue(ctx, action.Command(c.slave), modbusrtu.Unsigned); err != nil {
		if ctx.Err() != nil {
			outcome.Transmitted = TransmittedUnknown
			return finish(Cancelled, ErrOperationCancelled)
		}
		klog.V(2).InfoS("Failed to send action command", "action", action, "err", err)
		return finish(SendFailed, errors.Wrapf(err, "failed to send %s", action))
	}
	sent := time.Now()
	klog.V(3).InfoS("Sent action command", "action", action, "timeout", timeout)

	if err := sleep(ctx, config.StartAfterCommand.Duration); err != nil {
		return finish(Cancelled, ErrOperationCancelled)
	}
	resume()

	deadline := time.NewTimer(timeout - time.Since(sent))
	defer deadline.Stop()
	ticker := time.NewTicker(config.ScanInterval.Duration)
	defer ticker.Stop()

	statusMatched := false
	for {
		select {
		case <-ctx.Done():
			return finish(Cancelled, ErrOperationCancelled)
		case <-deadline.C:
			if statusMatched {
				return finish(Unverified, errors.Wrapf(ErrOperationUnverified, "%s: %s stayed at %d", action, t.counter, outcome.AfterCount))
			}
			return finish(TimedOut, errors.Wrapf(ErrOperationTimeout, "%s after %s", action, timeout))
		case <-ticker.C:
		}

		snap := c.snaps.Latest()
		value := snap.Value(t.field)
		if value == telemetry.StateMidTravel {
			klog.V(4).InfoS("Device in mid travel", "action", action, "field", t.field)
			continue
		}
		if value != t.value {
			continue
		}
		if t.counter == "" {
			return finish(Succeeded, nil)
		}
		outcome.AfterCount = counter(snap, t.counter)
		if outcome.AfterCount > outcome.BeforeCount {
			c.triggerCurve(action, config)
			return finish(Succeeded, nil)
		}
		if !statusMatched {
			klog.V(2).InfoS("State changed but operation counter did not increase", "action", action, "counter", t.counter, "count", outcome.AfterCount)
		}
		statusMatched = true
	}
}

func (c *OperationController) triggerCurve(action Action, config DelayConfig) {
	if c.curves == nil {
		return
	}
	kind := curve.Opening
	if action == BreakerOn {
		kind = curve.Closing
	}
	time.AfterFunc(config.CurveDelay.Duration, func() {
		c.curves.Trigger(kind)
	})
}

func (c *OperationController) emit(o *Outcome) {
	fields := map[string]string{
		"elapsedMs": strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
	}
	if o.Counter != "" {
		fields["counter"] = o.Counter
		fields["before"] = strconv.Itoa(o.BeforeCount)
		fields["after"] = strconv.Itoa(o.AfterCount)
	}
	if o.Transmitted != "" {
		fields["transmitted"] = o.Transmitted
	}
	if o.Result == Succeeded {
		klog.V(1).InfoS("Action finished", "action", o.Action, "result", o.Result, "elapsed", o.Elapsed)
	} else {
		klog.V(2).InfoS("Action finished", "action", o.Action, "result", o.Result, "elapsed", o.Elapsed, "message", o.Message)
	}
	c.events.Emit(runtime.Event{
		Type:    runtime.EventOperation,
		Name:    string(o.Action),
		Result:  string(o.Result),
		Message: o.Message,
		Fields:  fields,
		Time:    time.Now(),
	})
}

// counter parses an operation counter, reading a missing or malformed
// value as zero.
func counter(snap telemetry.Snapshot, name string) int {
	n, err := snap.Int(name)
	if err != nil {
		return 0
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
