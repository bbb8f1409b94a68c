package curve

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DataNormal    = 0
	DataException = 1
)

type SnapshotSource interface {
	Latest() telemetry.Snapshot
}

type AcquirerConfig struct {
	Timeout       time.Duration `json:"timeout"`
	EnergyPoll    time.Duration `json:"energyPoll"`
	EnergyTimeout time.Duration `json:"energyTimeout"`
	// EnergySettle is waited after storage completes and before the
	// energy curve is read.
	EnergySettle time.Duration `json:"energySettle"`
}

func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		Timeout:       30 * time.Second,
		EnergyPoll:    500 * time.Millisecond,
		EnergyTimeout: 12 * time.Second,
		EnergySettle:  5 * time.Second,
	}
}

// Record is the persisted result of one acquisition.
type Record struct {
	Type           Kind      `json:"type"`
	DataType       int       `json:"dataType"`
	OperationCount int       `json:"operationCount"`
	Coil           *Series   `json:"coil"`
	Angle          *Series   `json:"angle"`
	Energy         *Series   `json:"energy,omitempty"`
	Metrics        Metrics   `json:"metrics"`
	Message        string    `json:"message,omitempty"`
	AddTime        time.Time `json:"addTime"`
}

type AcquirerOption func(a *Acquirer)

func WithAnalyzer(analyzer Analyzer) AcquirerOption {
	return func(a *Acquirer) {
		a.analyzer = analyzer
	}
}

func WithEventSink(events runtime.EventSink) AcquirerOption {
	return func(a *Acquirer) {
		a.events = events
	}
}

func WithConfig(config AcquirerConfig) AcquirerOption {
	return func(a *Acquirer) {
		a.config = config
	}
}

// Acquirer reads the curves of a breaker movement in the background and
// persists them as one record.
type Acquirer struct {
	reader    *Reader
	snaps     SnapshotSource
	persister runtime.Persister
	analyzer  Analyzer
	events    runtime.EventSink
	config    AcquirerConfig

	busy atomic.Bool
	wg   sync.WaitGroup
	ctx  context.Context
}

func NewAcquirer(ctx context.Context, reader *Reader, snaps SnapshotSource, persister runtime.Persister, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		reader:    reader,
		snaps:     snaps,
		persister: persister,
		analyzer:  PassthroughAnalyzer,
		events:    runtime.NopEventSink,
		config:    DefaultAcquirerConfig(),
		ctx:       ctx,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Trigger starts an acquisition unless one is already running.
func (a *Acquirer) Trigger(kind Kind) {
	if !a.busy.CAS(false, true) {
		klog.V(2).InfoS("Skipped curve acquisition", "kind", kind, "err", ErrAcquisitionBusy)
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Store(false)
		if _, err := a.acquire(a.ctx, kind); err != nil {
			klog.V(2).InfoS("Curve acquisition failed", "kind", kind, "err", err)
		}
	}()
}

// Acquire runs one acquisition synchronously.
func (a *Acquirer) Acquire(ctx context.Context, kind Kind) (*Record, error) {
	if !a.busy.CAS(false, true) {
		return nil, ErrAcquisitionBusy
	}
	defer a.busy.Store(false)
	return a.acquire(ctx, kind)
}

// Wait blocks until background acquisitions finish.
func (a *Acquirer) Wait() {
	a.wg.Wait()
}

func (a *Acquirer) acquire(ctx context.Context, kind Kind) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	started := time.Now()

	coil, err := a.reader.Read(ctx, kind.Coil())
	if err != nil {
		return nil, a.fail(kind, started, err)
	}
	angle, err := a.reader.Read(ctx, Angle)
	if err != nil {
		return nil, a.fail(kind, started, err)
	}

	record := &Record{
		Type:           kind,
		DataType:       DataNormal,
		OperationCount: coil.Header.OperationCount,
		Coil:           coil,
		Angle:          angle,
		Metrics:        a.analyzer(kind, coil, angle),
		AddTime:        time.Now(),
	}
	if record.Metrics.Abnormal {
		record.DataType = DataException
	}
	if kind == Closing {
		record.Energy, err = a.readEnergy(ctx)
		if err != nil {
			klog.V(2).InfoS("Stored closing curve without energy curve", "err", err)
			record.Message = err.Error()
		}
	}

	r, err := runtime.NewRecord(runtime.RecordCurve, record)
	if err != nil {
		return nil, a.fail(kind, started, err)
	}
	if err := a.persister.Persist(ctx, r); err != nil {
		return nil, a.fail(kind, started, errors.Wrap(err, "failed to persist curve"))
	}
	a.events.Emit(runtime.Event{
		Type:    runtime.EventCurve,
		Name:    kind.String(),
		Result:  "stored",
		Message: record.Message,
		Fields: map[string]string{
			"id":             r.GetID(),
			"samples":        strconv.Itoa(len(coil.Points)),
			"operationCount": strconv.Itoa(record.OperationCount),
			"dataType":       strconv.Itoa(record.DataType),
			"elapsedMs":      strconv.FormatInt(time.Since(started).Milliseconds(), 10),
		},
		Time: time.Now(),
	})
	klog.V(1).InfoS("Stored curve", "kind", kind, "id", r.GetID(), "samples", len(coil.Points))
	return record, nil
}

// readEnergy waits for the spring to be charged again after a close and
// then reads the charging motor curve.
func (a *Acquirer) readEnergy(ctx context.Context) (*Series, error) {
	err := wait.PollUntilContextTimeout(ctx, a.config.EnergyPoll, a.config.EnergyTimeout, true, func(context.Context) (bool, error) {
		return a.snaps.Latest().EnergyStored(), nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrEnergyNotStored, err.Error())
	}
	t := time.NewTimer(a.config.EnergySettle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a.reader.Read(ctx, Energy)
}

func (a *Acquirer) fail(kind Kind, started time.Time, err error) error {
	a.events.Emit(runtime.Event{
		Type:    runtime.EventCurve,
		Name:    kind.String(),
		Result:  "failed",
		Message: err.Error(),
		Fields:  map[string]string{"elapsedMs": strconv.FormatInt(time.Since(started).Milliseconds(), 10)},
		Time:    time.Now(),
	})
	return err
}
