package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/runtime"
)

func registers(set map[string]int) []int {
	values := make([]int, FieldCount)
	for i, name := range FieldNames {
		values[i] = set[name]
	}
	return values
}

func TestFieldTable(t *testing.T) {
	assert.Equal(t, 84, FieldCount)
	assert.True(t, IsField(ClosingOperationsNum))
	assert.False(t, IsField("updateTime"))
	assert.Len(t, ContactTemperatureFields, 12)
}

func TestFromRegistersAllOrNothing(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	snap, err := FromRegisters(registers(map[string]int{BreakerState: 1, ClosingOperationsNum: 12}), at)
	require.NoError(t, err)
	assert.True(t, snap.BreakerClosed())
	n, err := snap.Int(ClosingOperationsNum)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, at, snap.UpdateTime())

	_, err = FromRegisters(make([]int, FieldCount-1), at)
	assert.ErrorIs(t, err, ErrShortBlock)
}

func TestSnapshotIsImmutable(t *testing.T) {
	snap := FromFields(map[string]string{BreakerState: "0"}, time.Now())
	fields := snap.Fields()
	fields[BreakerState] = "1"
	assert.True(t, snap.BreakerOpen())

	changed := snap.With(BreakerState, "1")
	assert.True(t, changed.BreakerClosed())
	assert.True(t, snap.BreakerOpen())
}

func TestSnapshotJSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	b, err := json.Marshal(FromFields(map[string]string{Mode: "1"}, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"1","updateTime":"2024-05-01 08:00:00"}`, string(b))
}

func TestStorePublishSubscribe(t *testing.T) {
	store := NewStore()
	assert.True(t, store.Latest().IsZero())

	ch, cancel := store.Subscribe(1)
	first := FromFields(map[string]string{Mode: "0"}, time.Now())
	second := FromFields(map[string]string{Mode: "1"}, time.Now())
	store.Publish(first)
	store.Publish(second)

	got := <-ch
	assert.Equal(t, "1", got.Value(Mode), "lagging subscriber keeps the newest")
	assert.Equal(t, "1", store.Latest().Value(Mode))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, store.Subscribers())
}

func TestSamplerPersistsOncePerSnapshot(t *testing.T) {
	store := NewStore()
	var records []*runtime.Record
	persister := runtime.PersisterFunc(func(_ context.Context, r *runtime.Record) error {
		records = append(records, r)
		return nil
	})
	sampler := NewSampler(store, persister, time.Second)

	require.NoError(t, sampler.Sample(context.Background()))
	assert.Empty(t, records)

	snap, err := FromRegisters(registers(map[string]int{
		MainBusbarATemperature: 253,
		Ultrasonic:             4,
	}), time.Now())
	require.NoError(t, err)
	store.Publish(snap)

	require.NoError(t, sampler.Sample(context.Background()))
	require.NoError(t, sampler.Sample(context.Background()))
	require.Len(t, records, 2)
	assert.Equal(t, runtime.RecordTemperature, records[0].Kind)
	assert.Equal(t, runtime.RecordDischarge, records[1].Kind)

	var temp TemperatureSample
	require.NoError(t, json.Unmarshal(records[0].Payload, &temp))
	assert.InDelta(t, 25.3, temp.MainBusbar[0], 1e-9)
}

func TestStoreWaitFor(t *testing.T) {
	store := NewStore()
	store.Publish(FromFields(map[string]string{BreakerState: StateOff}, time.Now()))

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.Publish(FromFields(map[string]string{BreakerState: StateOn}, time.Now()))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := store.WaitFor(ctx, Snapshot.BreakerClosed)
	require.NoError(t, err)
	assert.True(t, snap.BreakerClosed())

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = store.WaitFor(short, Snapshot.GroundClosed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
