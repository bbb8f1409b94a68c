package control

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/klog/v2"
)

const (
	PlanEnergize   = "transmission"
	PlanDeenergize = "failure"
)

// Step is one action of a plan.
type Step struct {
	Name   string
	Action Action
	// Needed reports whether the step has work to do; a step that is not
	// needed is skipped without transmitting.
	Needed func(telemetry.Snapshot) bool
	// Await, when set, must hold before the step runs. It is re-checked
	// every NextStepDelay until the plan deadline.
	Await   func(telemetry.Snapshot) bool
	Timeout func(DelayConfig) time.Duration
}

type Plan struct {
	Name    string
	Steps   []Step
	Done    func(telemetry.Snapshot) bool
	Timeout func(DelayConfig) time.Duration
}

func faultTimeout(a Action) func(DelayConfig) time.Duration {
	return func(c DelayConfig) time.Duration { return c.Fault.For(a) }
}

func EnergizePlan() Plan {
	return Plan{
		Name: PlanEnergize,
		Steps: []Step{
			{Name: "groundOff", Action: GroundOff, Needed: telemetry.Snapshot.GroundClosed, Timeout: faultTimeout(GroundOff)},
			{Name: "chassisIn", Action: ChassisIn, Needed: telemetry.Snapshot.ChassisAtTest,
				Timeout: func(c DelayConfig) time.Duration { return c.PlanChassisIn.Duration }},
			{Name: "breakerOn", Action: BreakerOn, Needed: telemetry.Snapshot.BreakerOpen, Timeout: faultTimeout(BreakerOn)},
		},
		Done: func(s telemetry.Snapshot) bool {
			return s.GroundOpen() && s.ChassisAtWork() && s.BreakerClosed()
		},
		Timeout: func(c DelayConfig) time.Duration { return c.PowerOnTimeout.Duration },
	}
}

func DeenergizePlan() Plan {
	return Plan{
		Name: PlanDeenergize,
		Steps: []Step{
			{Name: "breakerOff", Action: BreakerOff, Needed: telemetry.Snapshot.BreakerClosed, Timeout: faultTimeout(BreakerOff)},
			{Name: "chassisOut", Action: ChassisOut, Needed: telemetry.Snapshot.ChassisAtWork,
				Timeout: func(c DelayConfig) time.Duration { return c.PlanChassisOut.Duration }},
			{Name: "groundOn", Action: GroundOn, Needed: telemetry.Snapshot.GroundOpen, Await: telemetry.Snapshot.ChassisAtTest,
				Timeout: faultTimeout(GroundOn)},
		},
		Done: func(s telemetry.Snapshot) bool {
			return s.BreakerOpen() && s.ChassisAtTest() && s.GroundClosed()
		},
		Timeout: func(c DelayConfig) time.Duration { return c.PowerOffTimeout.Duration },
	}
}

func PlanByName(name string) (Plan, error) {
	switch name {
	case PlanEnergize:
		return EnergizePlan(), nil
	case PlanDeenergize:
		return DeenergizePlan(), nil
	}
	return Plan{}, errors.Wrapf(ErrUnknownPlan, "%q", name)
}

type StepReport struct {
	Name    string   `json:"name"`
	Action  Action   `json:"action"`
	Skipped bool     `json:"skipped"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

type PlanReport struct {
	Plan    string        `json:"plan"`
	Success bool          `json:"success"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Steps   []StepReport  `json:"steps"`
	Error   string        `json:"error,omitempty"`
}

// SequentialController runs plans through an OperationController and
// shares its guard, so plans and single actions exclude each other.
type SequentialController struct {
	ops *OperationController
}

func NewSequentialController(ops *OperationController) *SequentialController {
	return &SequentialController{ops: ops}
}

func (s *SequentialController) Energize(ctx context.Context) (*PlanReport, error) {
	return s.Run(ctx, EnergizePlan())
}

func (s *SequentialController) Deenergize(ctx context.Context) (*PlanReport, error) {
	return s.Run(ctx, DeenergizePlan())
}

// Run executes plan. A second plan, or a single action, started while
// one is running is rejected.
func (s *SequentialController) Run(ctx context.Context, plan Plan) (*PlanReport, error) {
	ctx, release, err := s.ops.guard.acquire(ctx, plan.Name, true)
	if err != nil {
		return nil, err
	}
	defer release()

	config := s.ops.Config()
	report := &PlanReport{Plan: plan.Name, Started: time.Now()}
	deadline := report.Started.Add(plan.Timeout(config))
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if plan.Done(s.ops.snaps.Latest()) {
		klog.V(1).InfoS("Plan end state already reached", "plan", plan.Name)
		return s.finish(report, nil)
	}

	transmitted := false
	for i, step := range plan.Steps {
		snap := s.ops.snaps.Latest()
		if !step.Needed(snap) {
			klog.V(3).InfoS("Skipped plan step", "plan", plan.Name, "step", step.Name)
			report.Steps = append(report.Steps, StepReport{Name: step.Name, Action: step.Action, Skipped: true})
			continue
		}
		abort := func(err error) (*PlanReport, error) {
			if ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
				err = errors.Wrap(err, "overall plan timeout")
			}
			return s.finish(report, &PlanAbortedError{
				Plan:    plan.Name,
				Step:    step.Name,
				Index:   i,
				Elapsed: time.Since(report.Started),
				Err:     err,
			})
		}

		if transmitted {
			if err := sleep(ctx, config.NextStepDelay.Duration); err != nil {
				return abort(err)
			}
			snap = s.ops.snaps.Latest()
		}
		if step.Await != nil {
			var err error
			if snap, err = s.await(ctx, step, config); err != nil {
				return abort(err)
			}
		}
		if err := Check(step.Action, snap); err != nil {
			return abort(err)
		}

		timeout := step.Timeout(config)
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
		outcome, err := s.ops.run(ctx, step.Action, timeout, config)
		report.Steps = append(report.Steps, StepReport{Name: step.Name, Action: step.Action, Outcome: outcome})
		transmitted = true
		if err != nil {
			return abort(err)
		}
	}
	return s.finish(report, nil)
}

func (s *SequentialController) await(ctx context.Context, step Step, config DelayConfig) (telemetry.Snapshot, error) {
	for {
		snap := s.ops.snaps.Latest()
		if step.Await(snap) {
			return snap, nil
		}
		klog.V(3).InfoS("Waiting before plan step", "step", step.Name)
		if err := sleep(ctx, config.NextStepDelay.Duration); err != nil {
			return snap, errors.Wrapf(err, "waiting to start %s", step.Name)
		}
	}
}

func (s *SequentialController) finish(report *PlanReport, err error) (*PlanReport, error) {
	report.Elapsed = time.Since(report.Started)
	report.Success = err == nil
	result := "succeeded"
	if err != nil {
		report.Error = err.Error()
		result = "aborted"
		klog.V(2).InfoS("Plan aborted", "plan", report.Plan, "err", err)
	} else {
		klog.V(1).InfoS("Plan finished", "plan", report.Plan, "elapsed", report.Elapsed)
	}
	skipped := 0
	for _, step := range report.Steps {
		if step.Skipped {
			skipped++
		}
	}
	s.ops.events.Emit(runtime.Event{
		Type:    runtime.EventPlan,
		Name:    report.Plan,
		Result:  result,
		Message: report.Error,
		Fields: map[string]string{
			"steps":     strconv.Itoa(len(report.Steps)),
			"skipped":   strconv.Itoa(skipped),
			"elapsedMs": strconv.FormatInt(report.Elapsed.Milliseconds(), 10),
		},
		Time: time.Now(),
	})
	return report, err
}
