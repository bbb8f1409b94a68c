package generic

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/runtime"
)

func persistEvents(t *testing.T, s *RecordStore, n int) {
	base := time.Now()
	for i := 0; i < n; i++ {
		rec, err := runtime.NewRecord(runtime.RecordEvent, map[string]int{"seq": i})
		require.NoError(t, err)
		rec.ModTime = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, s.Persist(context.Background(), rec))
	}
}

func seqOf(t *testing.T, rec *runtime.Record) int {
	var payload map[string]int
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	return payload["seq"]
}

func TestRecordStoreLoadNewestFirst(t *testing.T) {
	s, err := NewRecordStore(t.TempDir(), 10)
	require.NoError(t, err)
	persistEvents(t, s, 4)

	recs, err := s.Load(runtime.RecordEvent, 0)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, rec := range recs {
		assert.Equal(t, 3-i, seqOf(t, rec))
		assert.Equal(t, runtime.RecordEvent, rec.Kind)
	}

	recs, err = s.Load(runtime.RecordEvent, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 3, seqOf(t, recs[0]))

	recs, err = s.Load(runtime.RecordCurve, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordStoreRetention(t *testing.T) {
	s, err := NewRecordStore(t.TempDir(), 3)
	require.NoError(t, err)
	persistEvents(t, s, 7)

	recs, err := s.Load(runtime.RecordEvent, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 6, seqOf(t, recs[0]))
	assert.Equal(t, 4, seqOf(t, recs[2]))
}

func TestRecordStoreRejectsUnknownKind(t *testing.T) {
	s, err := NewRecordStore(t.TempDir(), 3)
	require.NoError(t, err)

	rec, err := runtime.NewRecord("bogus", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Persist(context.Background(), rec), ErrUnknownRecordKind)

	_, err = s.Load("bogus", 0)
	assert.ErrorIs(t, err, ErrUnknownRecordKind)
}
