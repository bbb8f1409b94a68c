package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const TimeLayout = "2006-01-02 15:04:05"

var ErrShortBlock = errors.New("register block shorter than field table")

// Snapshot is an immutable copy of one decoded register block. The zero
// value means no poll has succeeded yet.
type Snapshot struct {
	fields     map[string]string
	updateTime time.Time
}

// FromRegisters maps register values onto the field table. Either every
// field is set or an error is returned.
func FromRegisters(values []int, at time.Time) (Snapshot, error) {
	if len(values) < FieldCount {
		return Snapshot{}, errors.Wrapf(ErrShortBlock, "got %d registers, want %d", len(values), FieldCount)
	}
	fields := make(map[string]string, FieldCount)
	for i, name := range FieldNames {
		fields[name] = strconv.Itoa(values[i])
	}
	return Snapshot{fields: fields, updateTime: at}, nil
}

// FromFields copies fields into a new snapshot.
func FromFields(fields map[string]string, at time.Time) Snapshot {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Snapshot{fields: copied, updateTime: at}
}

func (s Snapshot) IsZero() bool {
	return s.fields == nil
}

func (s Snapshot) UpdateTime() time.Time {
	return s.updateTime
}

func (s Snapshot) Get(name string) (string, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// Value returns the field or "" when absent.
func (s Snapshot) Value(name string) string {
	return s.fields[name]
}

func (s Snapshot) Int(name string) (int, error) {
	v, ok := s.fields[name]
	if !ok {
		return 0, fmt.Errorf("field %s not present", name)
	}
	return strconv.Atoi(v)
}

// Scaled returns the field multiplied by ratio, e.g. 0.1 for temperatures.
func (s Snapshot) Scaled(name string, ratio float64) (float64, error) {
	v, err := s.Int(name)
	if err != nil {
		return 0, err
	}
	return float64(v) * ratio, nil
}

// Fields returns a copy of every field.
func (s Snapshot) Fields() map[string]string {
	copied := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		copied[k] = v
	}
	return copied
}

// With returns a copy with one field replaced.
func (s Snapshot) With(name, value string) Snapshot {
	c := FromFields(s.fields, s.updateTime)
	c.fields[name] = value
	return c
}

func (s Snapshot) BreakerClosed() bool { return s.Value(BreakerState) == StateOn }
func (s Snapshot) BreakerOpen() bool   { return s.Value(BreakerState) == StateOff }
func (s Snapshot) GroundClosed() bool  { return s.Value(GroundingState) == StateOn }
func (s Snapshot) GroundOpen() bool    { return s.Value(GroundingState) == StateOff }
func (s Snapshot) ChassisAtWork() bool { return s.Value(ChassisPosition) == ChassisWork }
func (s Snapshot) ChassisAtTest() bool { return s.Value(ChassisPosition) == ChassisTest }
func (s Snapshot) EnergyStored() bool  { return s.Value(EnergyStorageState) == StateOn }

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s.fields)+1)
	for k, v := range s.fields {
		out[k] = v
	}
	if !s.updateTime.IsZero() {
		out["updateTime"] = s.updateTime.Format(TimeLayout)
	}
	return json.Marshal(out)
}
