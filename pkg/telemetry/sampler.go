package telemetry

import (
	"context"
	"time"

	"harnscabinet/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultSampleInterval = 10 * time.Second
	temperatureRatio      = 0.1
)

type Source interface {
	Latest() Snapshot
}

// TemperatureSample holds contact temperatures in degrees, grouped by
// location and ordered by phase A, B, C.
type TemperatureSample struct {
	MainBusbar   []float64 `json:"mainBusbar"`
	BreakerUpper []float64 `json:"breakerUpper"`
	BreakerLower []float64 `json:"breakerLower"`
	OutletCable  []float64 `json:"outletCable"`
	AddTime      string    `json:"addTime"`
}

type DischargeSample struct {
	Ultrasonic            string `json:"ultrasonicDischarge"`
	TransientEarthVoltage string `json:"transientGround"`
	AddTime               string `json:"addTime"`
}

// Sampler periodically persists temperature and partial discharge readings
// from the latest snapshot.
type Sampler struct {
	source    Source
	persister runtime.Persister
	interval  time.Duration
	last      time.Time
}

func NewSampler(source Source, persister runtime.Persister, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{source: source, persister: persister, interval: interval}
}

func (s *Sampler) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := s.Sample(ctx); err != nil {
			klog.V(2).InfoS("Failed to store temperature and discharge sample", "err", err)
		}
	}, s.interval)
}

// Sample stores one pair of records. A snapshot already sampled is skipped
// so a stalled poll does not produce duplicate rows.
func (s *Sampler) Sample(ctx context.Context) error {
	snap := s.source.Latest()
	if snap.IsZero() || !snap.UpdateTime().After(s.last) {
		return nil
	}
	s.last = snap.UpdateTime()
	addTime := snap.UpdateTime().Format(TimeLayout)

	temps := make([]float64, len(ContactTemperatureFields))
	for i, name := range ContactTemperatureFields {
		v, err := snap.Scaled(name, temperatureRatio)
		if err != nil {
			return err
		}
		temps[i] = v
	}
	// ContactTemperatureFields order: upper, lower, busbar, cable
	temperature := TemperatureSample{
		BreakerUpper: temps[0:3],
		BreakerLower: temps[3:6],
		MainBusbar:   temps[6:9],
		OutletCable:  temps[9:12],
		AddTime:      addTime,
	}
	discharge := DischargeSample{
		Ultrasonic:            snap.Value(Ultrasonic),
		TransientEarthVoltage: snap.Value(TransientEarthVoltage),
		AddTime:               addTime,
	}

	rec, err := runtime.NewRecord(runtime.RecordTemperature, temperature)
	if err != nil {
		return err
	}
	if err = s.persister.Persist(ctx, rec); err != nil {
		return err
	}
	rec, err = runtime.NewRecord(runtime.RecordDischarge, discharge)
	if err != nil {
		return err
	}
	return s.persister.Persist(ctx, rec)
}
