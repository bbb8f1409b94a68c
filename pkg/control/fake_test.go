package control

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/curve"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// switchgear simulates the controller board behind the dispatcher. Each
// received command changes the published snapshot after a short delay.
type switchgear struct {
	store *telemetry.Store

	mu      sync.Mutex
	sent    []Action
	paused  int
	resumed int
	sendErr error
	// holdReply keeps the reply back until the caller gives up.
	holdReply bool
	effects   map[Action]func(telemetry.Snapshot) []telemetry.Snapshot
}

func newSwitchgear(fields map[string]string) *switchgear {
	base := map[string]string{
		telemetry.BreakerState:         telemetry.StateOff,
		telemetry.ChassisPosition:      telemetry.ChassisTest,
		telemetry.GroundingState:       telemetry.StateOff,
		telemetry.ClosingOperationsNum: "10",
		telemetry.OpeningOperationsNum: "10",
	}
	for k, v := range fields {
		base[k] = v
	}
	s := &switchgear{store: telemetry.NewStore()}
	s.store.Publish(telemetry.FromFields(base, time.Now()))
	s.effects = map[Action]func(telemetry.Snapshot) []telemetry.Snapshot{
		GroundOn:  set(telemetry.GroundingState, telemetry.StateOn),
		GroundOff: set(telemetry.GroundingState, telemetry.StateOff),
		BreakerOn: func(snap telemetry.Snapshot) []telemetry.Snapshot {
			return []telemetry.Snapshot{bump(snap.With(telemetry.BreakerState, telemetry.StateOn), telemetry.ClosingOperationsNum)}
		},
		BreakerOff: func(snap telemetry.Snapshot) []telemetry.Snapshot {
			return []telemetry.Snapshot{bump(snap.With(telemetry.BreakerState, telemetry.StateOff), telemetry.OpeningOperationsNum)}
		},
		ChassisIn:  travel(telemetry.ChassisWork),
		ChassisOut: travel(telemetry.ChassisTest),
	}
	return s
}

func set(field, value string) func(telemetry.Snapshot) []telemetry.Snapshot {
	return func(snap telemetry.Snapshot) []telemetry.Snapshot {
		return []telemetry.Snapshot{snap.With(field, value)}
	}
}

func travel(position string) func(telemetry.Snapshot) []telemetry.Snapshot {
	return func(snap telemetry.Snapshot) []telemetry.Snapshot {
		moving := snap.With(telemetry.ChassisPosition, telemetry.StateMidTravel)
		return []telemetry.Snapshot{moving, moving, moving.With(telemetry.ChassisPosition, position)}
	}
}

func bump(snap telemetry.Snapshot, counter string) telemetry.Snapshot {
	n, _ := snap.Int(counter)
	return snap.With(counter, strconv.Itoa(n+1))
}

func (s *switchgear) Enqueue(ctx context.Context, command []byte, _ modbusrtu.ParsePolicy) (*dispatcher.Reply, error) {
	action, ok := ActionFromCommand(command)
	if !ok {
		return nil, errors.New("unexpected command")
	}
	s.mu.Lock()
	if s.sendErr != nil {
		s.mu.Unlock()
		return nil, s.sendErr
	}
	s.sent = append(s.sent, action)
	if s.holdReply {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer s.mu.Unlock()
	if effect := s.effects[action]; effect != nil {
		states := effect(s.store.Latest())
		go func() {
			for _, state := range states {
				time.Sleep(3 * time.Millisecond)
				s.store.Publish(state)
			}
		}()
	}
	return &dispatcher.Reply{Frame: &modbusrtu.Frame{Raw: command}}, nil
}

func (s *switchgear) PausePolling() {
	s.mu.Lock()
	s.paused++
	s.mu.Unlock()
}

func (s *switchgear) ResumePolling() {
	s.mu.Lock()
	s.resumed++
	s.mu.Unlock()
}

func (s *switchgear) Latest() telemetry.Snapshot {
	return s.store.Latest()
}

func (s *switchgear) transmits(action Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.sent {
		if a == action {
			n++
		}
	}
	return n
}

func (s *switchgear) sentActions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.sent...)
}

type recordedCurves struct {
	mu    sync.Mutex
	kinds []curve.Kind
}

func (r *recordedCurves) Trigger(kind curve.Kind) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func (r *recordedCurves) triggered() []curve.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]curve.Kind(nil), r.kinds...)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []runtime.Event
}

func (r *recordedEvents) Emit(e runtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordedEvents) all() []runtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Event(nil), r.events...)
}

func ms(n int) metav1.Duration {
	return metav1.Duration{Duration: time.Duration(n) * time.Millisecond}
}

func fastConfig() DelayConfig {
	c := DefaultDelayConfig()
	c.StopBeforeCommand = ms(1)
	c.StartAfterCommand = ms(1)
	c.ScanInterval = ms(2)
	c.NextStepDelay = ms(2)
	c.CurveDelay = ms(1)
	c.Settle = uniform(0)
	c.Fault = uniform(300 * time.Millisecond)
	c.PlanChassisIn = ms(300)
	c.PlanChassisOut = ms(300)
	c.PowerOnTimeout = ms(2000)
	c.PowerOffTimeout = ms(2000)
	return c
}

func newControllers(t *testing.T, gear *switchgear, opts ...Option) (*OperationController, *SequentialController) {
	t.Helper()
	ops := NewOperationController(gear, gear, fastConfig(), opts...)
	return ops, NewSequentialController(ops)
}
