package alarm

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/klog/v2"
)

type Alarm struct {
	Name   string    `json:"name"`
	Group  Group     `json:"group"`
	Field  string    `json:"field"`
	Value  float64   `json:"value"`
	Lower  *float64  `json:"lower,omitempty"`
	Upper  *float64  `json:"upper,omitempty"`
	Raised time.Time `json:"raised"`
}

type SnapshotSubscriber interface {
	Subscribe(buffer int) (<-chan telemetry.Snapshot, func())
}

// Evaluator checks snapshots against thresholds and reports transitions.
type Evaluator struct {
	events runtime.EventSink

	mu         sync.RWMutex
	thresholds Thresholds
	active     map[string]Alarm
}

func NewEvaluator(thresholds Thresholds, events runtime.EventSink) *Evaluator {
	if events == nil {
		events = runtime.NopEventSink
	}
	return &Evaluator{
		events:     events,
		thresholds: thresholds,
		active:     make(map[string]Alarm),
	}
}

func (e *Evaluator) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// UpdateThresholds replaces the limits used from the next snapshot on.
func (e *Evaluator) UpdateThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
	return nil
}

// Run evaluates every snapshot published on source until ctx is done.
func (e *Evaluator) Run(ctx context.Context, source SnapshotSubscriber) {
	ch, cancel := source.Subscribe(4)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			e.Evaluate(snap)
		}
	}
}

// Evaluate updates the active alarm set from snap and returns it.
func (e *Evaluator) Evaluate(snap telemetry.Snapshot) []Alarm {
	if snap.IsZero() {
		return e.Active()
	}
	now := snap.UpdateTime()
	if now.IsZero() {
		now = time.Now()
	}

	e.mu.Lock()
	var transitions []runtime.Event
	for group, thresholds := range e.thresholds.groups() {
		for _, th := range thresholds {
			raw, err := snap.Int(th.Field)
			if err != nil || (th.SkipZero && raw == 0) {
				continue
			}
			value := float64(raw) * th.Scale
			violated := (th.Lower != nil && value < *th.Lower) || (th.Upper != nil && value > *th.Upper)
			_, wasActive := e.active[th.Name]
			switch {
			case violated && !wasActive:
				a := Alarm{Name: th.Name, Group: group, Field: th.Field, Value: value, Lower: th.Lower, Upper: th.Upper, Raised: now}
				e.active[th.Name] = a
				transitions = append(transitions, event(a, "raised", now))
			case violated:
				a := e.active[th.Name]
				a.Value = value
				e.active[th.Name] = a
			case wasActive:
				a := e.active[th.Name]
				a.Value = value
				delete(e.active, th.Name)
				transitions = append(transitions, event(a, "cleared", now))
			}
		}
	}
	e.mu.Unlock()

	for _, t := range transitions {
		klog.V(2).InfoS("Alarm transition", "alarm", t.Name, "result", t.Result, "value", t.Fields["value"])
		e.events.Emit(t)
	}
	return e.Active()
}

// Active returns the raised alarms sorted by name.
func (e *Evaluator) Active() []Alarm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Alarm, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func event(a Alarm, result string, at time.Time) runtime.Event {
	fields := map[string]string{
		"group": string(a.Group),
		"field": a.Field,
		"value": strconv.FormatFloat(a.Value, 'f', 1, 64),
	}
	if a.Lower != nil {
		fields["lower"] = strconv.FormatFloat(*a.Lower, 'f', -1, 64)
	}
	if a.Upper != nil {
		fields["upper"] = strconv.FormatFloat(*a.Upper, 'f', -1, 64)
	}
	return runtime.Event{Type: runtime.EventAlarm, Name: a.Name, Result: result, Fields: fields, Time: at}
}
