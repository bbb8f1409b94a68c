package runtime

import (
	"context"
	"encoding/json"
	"time"
)

type LabeledCloser struct {
	Label  string
	Closer func(context.Context) error
}

type RecordKind string

const (
	RecordCurve       RecordKind = "curve"
	RecordEvent       RecordKind = "event"
	RecordTemperature RecordKind = "temperature"
	RecordDischarge   RecordKind = "discharge"
)

var RecordKinds = map[string]RecordKind{
	string(RecordCurve):       RecordCurve,
	string(RecordEvent):       RecordEvent,
	string(RecordTemperature): RecordTemperature,
	string(RecordDischarge):   RecordDischarge,
}

// Record is one persisted document. Payload is kept raw so the store
// never needs to know the concrete type.
type Record struct {
	ObjectMeta
	Kind    RecordKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func NewRecord(kind RecordKind, payload interface{}) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Record{
		ObjectMeta: NewObjectMeta(string(kind)),
		Kind:       kind,
		Payload:    raw,
	}, nil
}

type Persister interface {
	Persist(ctx context.Context, record *Record) error
}

type PersisterFunc func(ctx context.Context, record *Record) error

func (f PersisterFunc) Persist(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

type EventType string

const (
	EventOperation EventType = "operation"
	EventPlan      EventType = "plan"
	EventCurve     EventType = "curve"
	EventAlarm     EventType = "alarm"
	EventRemote    EventType = "remote"
	EventLink      EventType = "link"
)

type Event struct {
	Type    EventType         `json:"type"`
	Name    string            `json:"name"`
	Result  string            `json:"result"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Time    time.Time         `json:"time"`
}

type EventSink interface {
	Emit(event Event)
}

type EventSinkFunc func(event Event)

func (f EventSinkFunc) Emit(event Event) { f(event) }

// EventSinks fans an event out to every sink in order.
type EventSinks []EventSink

func (s EventSinks) Emit(event Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

var NopEventSink EventSink = EventSinkFunc(func(Event) {})
