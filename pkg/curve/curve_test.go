package curve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"harnscabinet/pkg/utils/binutil"
)

type request struct {
	address uint16
	count   int
}

// memory answers register reads from a sparse register map.
type memory struct {
	mu       sync.Mutex
	regs     map[uint16]int
	requests []request
	failAt   uint16
}

func newMemory() *memory {
	return &memory{regs: make(map[uint16]int)}
}

// store lays out a channel: header, then samples from start to end
// counting up from first.
func (m *memory) store(ch Channel, count, start, end, first int) {
	m.regs[ch.Base] = count
	m.regs[ch.Base+1] = start
	m.regs[ch.Base+2] = end
	for i := 0; i < end-start; i++ {
		m.regs[ch.Base+HeaderSize+uint16(start+i)] = first + i
	}
}

func (m *memory) Enqueue(_ context.Context, command []byte, _ modbusrtu.ParsePolicy) (*dispatcher.Reply, error) {
	address := binutil.ParseUint16BigEndian(command[2:4])
	count := int(binutil.ParseUint16BigEndian(command[4:6]))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, request{address: address, count: count})
	if m.failAt != 0 && address == m.failAt {
		return nil, dispatcher.ErrTransactionTimeout
	}
	values := make([]int, count)
	for i := range values {
		values[i] = m.regs[address+uint16(i)]
	}
	return &dispatcher.Reply{Frame: &modbusrtu.Frame{Values: values}}, nil
}

func (m *memory) chunkRequests() []request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []request
	for _, r := range m.requests {
		if r.count != HeaderSize {
			out = append(out, r)
		}
	}
	return out
}

func TestReadPaginates(t *testing.T) {
	mem := newMemory()
	mem.store(ClosingCoil, 42, 100, 1400, 7)
	reader := NewReader(mem, 1)

	series, err := reader.Read(context.Background(), ClosingCoil)
	require.NoError(t, err)

	chunks := mem.chunkRequests()
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{512, 512, 276}, []int{chunks[0].count, chunks[1].count, chunks[2].count})
	assert.Equal(t, ClosingCoil.Base+HeaderSize+100, chunks[0].address)
	assert.Equal(t, ClosingCoil.Base+HeaderSize+100+512, chunks[1].address)
	assert.Equal(t, ClosingCoil.Base+HeaderSize+100+1024, chunks[2].address)

	require.Len(t, series.Points, 1300)
	for i, p := range series.Points {
		assert.Equal(t, 7+i, p.Value)
	}
	assert.InDelta(t, 0.2*1299, series.Points[1299].Time, 1e-9)
	assert.Equal(t, 42, series.Header.OperationCount)
}

func TestReadChunkFailureDiscardsData(t *testing.T) {
	mem := newMemory()
	mem.store(Angle, 1, 0, 1300, 0)
	mem.failAt = Angle.Base + HeaderSize + 512
	reader := NewReader(mem, 1)

	series, err := reader.Read(context.Background(), Angle)
	assert.Nil(t, series)
	assert.ErrorIs(t, err, dispatcher.ErrTransactionTimeout)
	assert.Len(t, mem.chunkRequests(), 2)
}

func TestReadEmptyRange(t *testing.T) {
	mem := newMemory()
	mem.store(Energy, 1, 20, 20, 0)
	_, err := NewReader(mem, 1).Read(context.Background(), Energy)
	assert.ErrorIs(t, err, ErrEmptyRange)
	assert.Empty(t, mem.chunkRequests())
}

// wire answers reads from memory through the real codec, so the parse
// policy passed with each request decides the register values.
type wire struct {
	*memory
	policies []modbusrtu.ParsePolicy
}

func (w *wire) Enqueue(ctx context.Context, command []byte, policy modbusrtu.ParsePolicy) (*dispatcher.Reply, error) {
	reply, err := w.memory.Enqueue(ctx, command, modbusrtu.Unsigned)
	if err != nil {
		return nil, err
	}
	payload := []byte{byte(2 * len(reply.Values()))}
	for _, v := range reply.Values() {
		payload = append(payload, byte(uint16(v)>>8), byte(v))
	}
	frame, err := modbusrtu.Decode(modbusrtu.Encode(command[0], command[1], payload), policy)
	if err != nil {
		return nil, err
	}
	w.policies = append(w.policies, policy)
	return &dispatcher.Reply{Frame: frame}, nil
}

func TestReadHeaderIsUnsignedAndSamplesSigned(t *testing.T) {
	mem := newMemory()
	mem.store(OpeningCoil, 0x9C40, 0, 4, 0)
	mem.regs[OpeningCoil.Base+HeaderSize+1] = 0xFFFF
	w := &wire{memory: mem}

	series, err := NewReader(w, 1).Read(context.Background(), OpeningCoil)
	require.NoError(t, err)
	assert.Equal(t, Header{OperationCount: 40000, Start: 0, End: 4}, series.Header)
	require.Len(t, series.Points, 4)
	assert.Equal(t, -1, series.Points[1].Value)
	assert.Equal(t, []modbusrtu.ParsePolicy{modbusrtu.Unsigned, modbusrtu.Signed}, w.policies)
}

func TestReadHeaderAboveSignedRange(t *testing.T) {
	mem := newMemory()
	mem.regs[Energy.Base] = 1
	mem.regs[Energy.Base+1] = 0x8000
	mem.regs[Energy.Base+2] = 0x8002
	w := &wire{memory: mem}

	series, err := NewReader(w, 1).Read(context.Background(), Energy)
	require.NoError(t, err)
	assert.Equal(t, 0x8000, series.Header.Start)
	chunks := mem.chunkRequests()
	require.Len(t, chunks, 1)
	assert.Equal(t, Energy.Base+HeaderSize+0x8000, chunks[0].address)
}

func TestReadRejectsBadRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		want       error
	}{
		{name: "reversed", start: 10, end: 5, want: ErrEmptyRange},
		{name: "past last register", start: 30000, end: 40000, want: ErrRangeOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMemory()
			mem.regs[Angle.Base+1] = tt.start
			mem.regs[Angle.Base+2] = tt.end
			_, err := NewReader(mem, 1).Read(context.Background(), Angle)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, mem.chunkRequests())
		})
	}
}

type persisted struct {
	mu      sync.Mutex
	records []*runtime.Record
}

func (p *persisted) Persist(_ context.Context, r *runtime.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
	return nil
}

type staticSnapshots struct {
	mu   sync.Mutex
	snap telemetry.Snapshot
}

func (s *staticSnapshots) Latest() telemetry.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func fastAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		Timeout:       time.Second,
		EnergyPoll:    time.Millisecond,
		EnergyTimeout: 30 * time.Millisecond,
		EnergySettle:  time.Millisecond,
	}
}

func TestAcquireClosingReadsEnergyCurve(t *testing.T) {
	mem := newMemory()
	mem.store(ClosingCoil, 5, 0, 600, 1)
	mem.store(Angle, 5, 0, 600, 0)
	mem.store(Energy, 5, 0, 30, 0)
	snaps := &staticSnapshots{snap: telemetry.FromFields(map[string]string{
		telemetry.EnergyStorageState: telemetry.StateOn,
	}, time.Now())}
	store := &persisted{}
	a := NewAcquirer(context.Background(), NewReader(mem, 1), snaps, store, WithConfig(fastAcquirerConfig()))

	record, err := a.Acquire(context.Background(), Closing)
	require.NoError(t, err)
	assert.Equal(t, Closing, record.Type)
	assert.Equal(t, 5, record.OperationCount)
	require.NotNil(t, record.Energy)
	assert.Len(t, record.Energy.Points, 30)
	assert.Equal(t, 600, record.Metrics.PeakCurrent)
	assert.Len(t, record.Metrics.Travel, 600)
	require.Len(t, store.records, 1)
	assert.Equal(t, runtime.RecordCurve, store.records[0].Kind)
}

func TestAcquireClosingWithoutEnergyStorage(t *testing.T) {
	mem := newMemory()
	mem.store(ClosingCoil, 5, 0, 10, 1)
	mem.store(Angle, 5, 0, 10, 0)
	snaps := &staticSnapshots{snap: telemetry.FromFields(map[string]string{
		telemetry.EnergyStorageState: telemetry.StateOff,
	}, time.Now())}
	store := &persisted{}
	a := NewAcquirer(context.Background(), NewReader(mem, 1), snaps, store, WithConfig(fastAcquirerConfig()))

	record, err := a.Acquire(context.Background(), Closing)
	require.NoError(t, err)
	assert.Nil(t, record.Energy)
	assert.NotEmpty(t, record.Message)
	assert.Len(t, store.records, 1)
}

func TestTriggerOpeningStoresRecord(t *testing.T) {
	mem := newMemory()
	mem.store(OpeningCoil, 9, 0, 10, 1)
	mem.store(Angle, 9, 0, 10, 0)
	store := &persisted{}
	var events []runtime.Event
	var mu sync.Mutex
	sink := runtime.EventSinkFunc(func(e runtime.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	abnormal := func(kind Kind, coil, angle *Series) Metrics {
		m := PassthroughAnalyzer(kind, coil, angle)
		m.Abnormal = true
		return m
	}
	a := NewAcquirer(context.Background(), NewReader(mem, 1), &staticSnapshots{}, store,
		WithConfig(fastAcquirerConfig()), WithEventSink(sink), WithAnalyzer(abnormal))

	a.Trigger(Opening)
	a.Wait()

	require.Len(t, store.records, 1)
	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, "stored", events[0].Result)
	assert.Equal(t, "1", events[0].Fields["dataType"])
	mu.Unlock()
}

func TestAcquireFailureEmitsEvent(t *testing.T) {
	mem := newMemory()
	mem.store(OpeningCoil, 9, 0, 10, 1)
	mem.failAt = Angle.Base
	store := &persisted{}
	var got runtime.Event
	a := NewAcquirer(context.Background(), NewReader(mem, 1), &staticSnapshots{}, store,
		WithConfig(fastAcquirerConfig()), WithEventSink(runtime.EventSinkFunc(func(e runtime.Event) { got = e })))

	_, err := a.Acquire(context.Background(), Opening)
	assert.True(t, errors.Is(err, dispatcher.ErrTransactionTimeout))
	assert.Equal(t, "failed", got.Result)
	assert.Empty(t, store.records)
}
