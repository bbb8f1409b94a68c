package control

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
)

func TestEnergizeFromTestPositionWithGroundOpen(t *testing.T) {
	gear := newSwitchgear(nil)
	_, plans := newControllers(t, gear)

	report, err := plans.Energize(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Zero(t, gear.transmits(GroundOff))
	assert.Equal(t, 1, gear.transmits(ChassisIn))
	assert.Equal(t, 1, gear.transmits(BreakerOn))
	require.Len(t, report.Steps, 3)
	assert.True(t, report.Steps[0].Skipped)
}

func TestEnergizeFromFullyDeenergized(t *testing.T) {
	gear := newSwitchgear(map[string]string{telemetry.GroundingState: telemetry.StateOn})
	_, plans := newControllers(t, gear)

	report, err := plans.Energize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Action{GroundOff, ChassisIn, BreakerOn}, gear.sentActions())
	for _, step := range report.Steps {
		assert.False(t, step.Skipped)
		assert.Equal(t, Succeeded, step.Outcome.Result)
	}
	snap := gear.Latest()
	assert.True(t, snap.GroundOpen() && snap.ChassisAtWork() && snap.BreakerClosed())
}

func TestDeenergizeOrder(t *testing.T) {
	gear := newSwitchgear(map[string]string{
		telemetry.BreakerState:    telemetry.StateOn,
		telemetry.ChassisPosition: telemetry.ChassisWork,
	})
	events := &recordedEvents{}
	_, plans := newControllers(t, gear, WithEventSink(events))

	report, err := plans.Deenergize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PlanDeenergize, report.Plan)
	assert.Equal(t, []Action{BreakerOff, ChassisOut, GroundOn}, gear.sentActions())

	got := events.all()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, runtime.EventPlan, last.Type)
	assert.Equal(t, "succeeded", last.Result)
}

func TestPlanAlreadyAtEndState(t *testing.T) {
	gear := newSwitchgear(map[string]string{
		telemetry.BreakerState:    telemetry.StateOn,
		telemetry.ChassisPosition: telemetry.ChassisWork,
	})
	_, plans := newControllers(t, gear)

	report, err := plans.Energize(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Empty(t, report.Steps)
	assert.Empty(t, gear.sentActions())
}

func TestPlanAbortsOnStepTimeout(t *testing.T) {
	gear := newSwitchgear(nil)
	gear.effects[ChassisIn] = set(telemetry.ChassisPosition, telemetry.StateMidTravel)
	ops, plans := newControllers(t, gear)
	config := ops.Config()
	config.PlanChassisIn = ms(30)
	require.NoError(t, ops.UpdateConfig(config))

	report, err := plans.Energize(context.Background())
	assert.ErrorIs(t, err, ErrPlanAborted)
	assert.ErrorIs(t, err, ErrOperationTimeout)
	var aborted *PlanAbortedError
	require.True(t, errors.As(err, &aborted))
	assert.Equal(t, "chassisIn", aborted.Step)
	assert.Equal(t, 1, aborted.Index)
	assert.False(t, report.Success)
	assert.Zero(t, gear.transmits(BreakerOn))

	gear.mu.Lock()
	assert.Equal(t, gear.paused, gear.resumed)
	gear.mu.Unlock()
}

func TestPlanOverallTimeout(t *testing.T) {
	gear := newSwitchgear(nil)
	gear.effects[ChassisIn] = nil
	ops, plans := newControllers(t, gear)
	config := ops.Config()
	config.PowerOnTimeout = ms(40)
	require.NoError(t, ops.UpdateConfig(config))

	begin := time.Now()
	_, err := plans.Energize(context.Background())
	assert.ErrorIs(t, err, ErrPlanAborted)
	assert.Less(t, time.Since(begin), 250*time.Millisecond)
}

func TestPlanChecksStepAgainstStateAfterDelay(t *testing.T) {
	gear := newSwitchgear(nil)
	ops, plans := newControllers(t, gear)
	config := ops.Config()
	config.NextStepDelay = ms(100)
	require.NoError(t, ops.UpdateConfig(config))

	go func() {
		assert.Eventually(t, func() bool { return gear.Latest().ChassisAtWork() }, time.Second, time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		gear.store.Publish(gear.Latest().With(telemetry.GroundingState, telemetry.StateOn))
	}()
	_, err := plans.Energize(context.Background())
	assert.ErrorIs(t, err, ErrPlanAborted)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	var aborted *PlanAbortedError
	require.True(t, errors.As(err, &aborted))
	assert.Equal(t, "breakerOn", aborted.Step)
	assert.Zero(t, gear.transmits(BreakerOn))
}

func TestCancelRunningPlanReleasesGuard(t *testing.T) {
	gear := newSwitchgear(nil)
	gear.effects[ChassisIn] = nil
	events := &recordedEvents{}
	ops, plans := newControllers(t, gear, WithEventSink(events))

	go func() {
		assert.Eventually(t, func() bool { return gear.transmits(ChassisIn) == 1 }, time.Second, time.Millisecond)
		assert.True(t, ops.Cancel())
	}()
	report, err := plans.Energize(context.Background())
	assert.ErrorIs(t, err, ErrPlanAborted)
	assert.ErrorIs(t, err, ErrOperationCancelled)
	assert.False(t, report.Success)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, Cancelled, report.Steps[1].Outcome.Result)
	assert.Zero(t, gear.transmits(BreakerOn))

	gear.mu.Lock()
	assert.Equal(t, 1, gear.paused)
	assert.Equal(t, gear.paused, gear.resumed)
	gear.mu.Unlock()

	_, busy := ops.Busy()
	assert.False(t, busy)
	assert.False(t, ops.Cancel())
	got := events.all()
	require.NotEmpty(t, got)
	assert.Equal(t, "aborted", got[len(got)-1].Result)

	outcome, err := ops.Execute(context.Background(), GroundOn)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, outcome.Result)
}

func TestPlanRejectedWhileAnotherRuns(t *testing.T) {
	gear := newSwitchgear(nil)
	gear.effects[ChassisIn] = nil
	ops, plans := newControllers(t, gear)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = plans.Energize(context.Background())
	}()
	require.Eventually(t, func() bool { return gear.transmits(ChassisIn) == 1 }, time.Second, time.Millisecond)

	_, err := plans.Deenergize(context.Background())
	assert.ErrorIs(t, err, ErrPlanActive)
	_, err = ops.Execute(context.Background(), GroundOn)
	assert.ErrorIs(t, err, ErrPlanActive)

	owner, busy := ops.Busy()
	assert.True(t, busy)
	assert.Equal(t, PlanEnergize, owner)
	assert.True(t, ops.Cancel())
	<-done
}

func TestSingleActionBlocksPlan(t *testing.T) {
	gear := newSwitchgear(nil)
	gear.effects[GroundOn] = nil
	ops, plans := newControllers(t, gear)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ops.Execute(context.Background(), GroundOn)
	}()
	require.Eventually(t, func() bool { _, busy := ops.Busy(); return busy }, time.Second, time.Millisecond)

	_, err := plans.Energize(context.Background())
	assert.ErrorIs(t, err, ErrOperationActive)
	ops.Cancel()
	<-done
}

func TestPlanByName(t *testing.T) {
	plan, err := PlanByName("failure")
	require.NoError(t, err)
	assert.Equal(t, PlanDeenergize, plan.Name)

	_, err = PlanByName("restart")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}
