package alarm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
)

func TestDefaultThresholdsValid(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
}

func TestDecodeThresholds(t *testing.T) {
	doc := `
temperature:
  - name: busbarA
    field: mainBusbarATemperature
    scale: 0.1
    upper: 70
mechanical:
  - name: closingTime
    field: closingTime
    scale: 0.1
    lower: 30
    upper: 50
    skipZero: true
`
	th, err := DecodeThresholds(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, th.Temperature, 1)
	assert.Equal(t, 70.0, *th.Temperature[0].Upper)
	assert.Nil(t, th.Temperature[0].Lower)
	assert.True(t, th.Mechanical[0].SkipZero)
}

func TestDecodeThresholdsRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":   "temperature:\n  - name: a\n    field: mainBusbarATemperature\n    scale: 0.1\n    upper: 1\n    colour: red\n",
		"unknown field": "temperature:\n  - name: a\n    field: nope\n    scale: 0.1\n    upper: 1\n",
		"no bound":      "temperature:\n  - name: a\n    field: mainBusbarATemperature\n    scale: 0.1\n",
		"inverted":      "mechanical:\n  - name: a\n    field: closingTime\n    scale: 0.1\n    lower: 5\n    upper: 1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeThresholds(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

type events []runtime.Event

func (e *events) Emit(ev runtime.Event) { *e = append(*e, ev) }

func TestEvaluateTransitions(t *testing.T) {
	var got events
	e := NewEvaluator(DefaultThresholds(), &got)

	snap := telemetry.FromFields(map[string]string{
		telemetry.MainBusbarATemperature: "800",
		telemetry.Ultrasonic:             "50",
		telemetry.ClosingSpeed:           "0",
	}, time.Now())
	active := e.Evaluate(snap)
	require.Len(t, active, 1)
	assert.Equal(t, "mainBusbarATemperatureRise", active[0].Name)
	assert.Equal(t, Temperature, active[0].Group)
	assert.InDelta(t, 80.0, active[0].Value, 1e-9)
	require.Len(t, got, 1)
	assert.Equal(t, runtime.EventAlarm, got[0].Type)
	assert.Equal(t, "raised", got[0].Result)

	e.Evaluate(snap.With(telemetry.MainBusbarATemperature, "810"))
	assert.Len(t, got, 1)
	assert.InDelta(t, 81.0, e.Active()[0].Value, 1e-9)

	e.Evaluate(snap.With(telemetry.MainBusbarATemperature, "700"))
	assert.Empty(t, e.Active())
	require.Len(t, got, 2)
	assert.Equal(t, "cleared", got[1].Result)
}

func TestEvaluateMechanicalRange(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), nil)
	active := e.Evaluate(telemetry.FromFields(map[string]string{
		telemetry.ClosingSpeed: "200",
		telemetry.ClosingTime:  "400",
	}, time.Now()))
	require.Len(t, active, 1)
	assert.Equal(t, "closingSpeed", active[0].Name)
	assert.Equal(t, Mechanical, active[0].Group)
}

func TestRunFollowsStore(t *testing.T) {
	store := telemetry.NewStore()
	e := NewEvaluator(DefaultThresholds(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, store)

	require.Eventually(t, func() bool { return store.Subscribers() == 1 }, time.Second, time.Millisecond)
	store.Publish(telemetry.FromFields(map[string]string{telemetry.CableRoomHumidity: "600"}, time.Now()))
	require.Eventually(t, func() bool { return len(e.Active()) == 1 }, time.Second, time.Millisecond)
}
