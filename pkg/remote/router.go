package remote

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/protocol/frame68"
	"harnscabinet/pkg/runtime"
	"k8s.io/klog/v2"
)

var ErrUnknownCode = errors.New("unknown remote action code")

type Operator interface {
	Execute(ctx context.Context, action control.Action) (*control.Outcome, error)
}

type Planner interface {
	Run(ctx context.Context, plan control.Plan) (*control.PlanReport, error)
}

var codeToAction = map[frame68.ActionCode]control.Action{
	frame68.ActionChassisIn:  control.ChassisIn,
	frame68.ActionChassisOut: control.ChassisOut,
	frame68.ActionGroundOn:   control.GroundOn,
	frame68.ActionGroundOff:  control.GroundOff,
	frame68.ActionBreakerOn:  control.BreakerOn,
	frame68.ActionBreakerOff: control.BreakerOff,
}

var codeToPlan = map[frame68.ActionCode]func() control.Plan{
	frame68.ActionEnergize:   control.EnergizePlan,
	frame68.ActionDeenergize: control.DeenergizePlan,
}

type Option func(r *Router)

func WithEventSink(events runtime.EventSink) Option {
	return func(r *Router) {
		r.events = events
	}
}

// Router turns Frame-68 action requests from the remote panel into
// operations and plans.
type Router struct {
	ctx    context.Context
	ops    Operator
	plans  Planner
	events runtime.EventSink

	mu        sync.Mutex
	extractor *frame68.Extractor

	wg sync.WaitGroup
}

func NewRouter(ctx context.Context, layout frame68.Layout, ops Operator, plans Planner, opts ...Option) *Router {
	r := &Router{
		ctx:       ctx,
		ops:       ops,
		plans:     plans,
		events:    runtime.NopEventSink,
		extractor: frame68.NewExtractor(layout),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnBytes accepts bytes read from the remote link.
func (r *Router) OnBytes(chunk []byte, at time.Time) {
	r.mu.Lock()
	messages := r.extractor.Feed(chunk, at)
	r.mu.Unlock()
	for _, m := range messages {
		if err := r.Handle(m); err != nil {
			klog.V(2).InfoS("Ignored remote frame", "frame", m.String(), "err", err)
		}
	}
}

func (r *Router) Statistics() frame68.StatisticsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extractor.Statistics()
}

// Handle starts the action a message asks for. Only an unknown code is
// reported here; the outcome of the action arrives as an event.
func (r *Router) Handle(m frame68.Message) error {
	code, ok := frame68.LookupAction(m)
	if !ok {
		r.emit("unknown", "rejected", ErrUnknownCode.Error(), m)
		return ErrUnknownCode
	}
	klog.V(1).InfoS("Received remote action", "code", code.String(), "address", m.Address)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(code, m)
	}()
	return nil
}

func (r *Router) run(code frame68.ActionCode, m frame68.Message) {
	var err error
	if action, ok := codeToAction[code]; ok {
		_, err = r.ops.Execute(r.ctx, action)
	} else {
		_, err = r.plans.Run(r.ctx, codeToPlan[code]())
	}

	switch {
	case err == nil:
		r.emit(code.String(), "succeeded", "", m)
	case errors.Is(err, control.ErrOperationActive), errors.Is(err, control.ErrPlanActive):
		klog.V(2).InfoS("Rejected remote action, controller busy", "code", code.String(), "err", err)
		r.emit(code.String(), "rejected", err.Error(), m)
	default:
		r.emit(code.String(), "failed", err.Error(), m)
	}
}

// Wait blocks until started actions return.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) emit(name, result, message string, m frame68.Message) {
	r.events.Emit(runtime.Event{
		Type:    runtime.EventRemote,
		Name:    name,
		Result:  result,
		Message: message,
		Fields: map[string]string{
			"address": strconv.Itoa(int(m.Address)),
			"control": strconv.Itoa(int(m.Control)),
		},
		Time: time.Now(),
	})
}
