package alarm

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"harnscabinet/pkg/telemetry"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

type Group string

const (
	Mechanical       Group = "mechanical"
	Temperature      Group = "temperature"
	PartialDischarge Group = "partialDischarge"
)

// Threshold bounds one scaled telemetry field. A nil bound is not checked.
type Threshold struct {
	Name  string   `yaml:"name" json:"name"`
	Field string   `yaml:"field" json:"field"`
	Scale float64  `yaml:"scale" json:"scale"`
	Lower *float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
	// SkipZero ignores a raw zero, which the controller reports when no
	// measurement has been taken.
	SkipZero bool `yaml:"skipZero,omitempty" json:"skipZero,omitempty"`
}

type Thresholds struct {
	Mechanical       []Threshold `yaml:"mechanical" json:"mechanical"`
	Temperature      []Threshold `yaml:"temperature" json:"temperature"`
	PartialDischarge []Threshold `yaml:"partialDischarge" json:"partialDischarge"`
}

func (t Thresholds) groups() map[Group][]Threshold {
	return map[Group][]Threshold{
		Mechanical:       t.Mechanical,
		Temperature:      t.Temperature,
		PartialDischarge: t.PartialDischarge,
	}
}

func bound(v float64) *float64 {
	return &v
}

func mechanical(name, field string, scale float64, lower, upper *float64) Threshold {
	return Threshold{Name: name, Field: field, Scale: scale, Lower: lower, Upper: upper, SkipZero: true}
}

func upperOnly(name, field string, upper float64) Threshold {
	return Threshold{Name: name, Field: field, Scale: 0.1, Upper: bound(upper)}
}

// DefaultThresholds are the factory limits of the switchgear.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Mechanical: []Threshold{
			mechanical("closingSpeed", telemetry.ClosingSpeed, 0.01, bound(0.7), bound(1.5)),
			mechanical("closingTime", telemetry.ClosingTime, 0.1, bound(35), bound(60)),
			mechanical("openingSpeed", telemetry.OpeningSpeed, 0.01, bound(0.7), bound(1.8)),
			mechanical("openingTime", telemetry.OpeningTime, 0.1, bound(20), bound(45)),
			mechanical("closingTotalTravel", telemetry.ClosingTotalTravel, 0.1, bound(13), nil),
			mechanical("openingTotalTravel", telemetry.OpeningTotalTravel, 0.1, bound(13), nil),
			mechanical("contactGap", telemetry.ClosingDistance, 0.1, bound(11), bound(13)),
			mechanical("overTravel", telemetry.ClosingOverTravel, 0.1, bound(2.6), bound(3.4)),
			mechanical("closingCoilPeakCurrent", telemetry.ClosingMaxCurrent, 0.01, nil, bound(5)),
			mechanical("openingCoilPeakCurrent", telemetry.OpeningMaxCurrent, 0.01, nil, bound(5)),
		},
		Temperature: []Threshold{
			upperOnly("breakerUpperATemperatureRise", telemetry.BreakerUpperATemperature, 65),
			upperOnly("breakerUpperBTemperatureRise", telemetry.BreakerUpperBTemperature, 65),
			upperOnly("breakerUpperCTemperatureRise", telemetry.BreakerUpperCTemperature, 65),
			upperOnly("breakerLowerATemperatureRise", telemetry.BreakerLowerATemperature, 65),
			upperOnly("breakerLowerBTemperatureRise", telemetry.BreakerLowerBTemperature, 65),
			upperOnly("breakerLowerCTemperatureRise", telemetry.BreakerLowerCTemperature, 65),
			upperOnly("mainBusbarATemperatureRise", telemetry.MainBusbarATemperature, 75),
			upperOnly("mainBusbarBTemperatureRise", telemetry.MainBusbarBTemperature, 75),
			upperOnly("mainBusbarCTemperatureRise", telemetry.MainBusbarCTemperature, 75),
			upperOnly("outletCableATemperatureRise", telemetry.OutletCableATemperature, 75),
			upperOnly("outletCableBTemperatureRise", telemetry.OutletCableBTemperature, 75),
			upperOnly("outletCableCTemperatureRise", telemetry.OutletCableCTemperature, 75),
		},
		PartialDischarge: []Threshold{
			upperOnly("breakerRoomTemperature", telemetry.BreakerRoomTemperature, 45),
			upperOnly("breakerRoomHumidity", telemetry.BreakerRoomHumidity, 85),
			upperOnly("ultrasonic", telemetry.Ultrasonic, 10),
			upperOnly("transientEarthVoltage", telemetry.TransientEarthVoltage, 10),
			upperOnly("cableRoomTemperature", telemetry.CableRoomTemperature, 85),
			upperOnly("cableRoomHumidity", telemetry.CableRoomHumidity, 45),
		},
	}
}

// LoadThresholds reads thresholds from a YAML file. Unknown keys are
// rejected.
func LoadThresholds(path string) (Thresholds, error) {
	f, err := os.Open(path)
	if err != nil {
		return Thresholds{}, err
	}
	defer f.Close()
	return DecodeThresholds(f)
}

func DecodeThresholds(r io.Reader) (Thresholds, error) {
	var t Thresholds
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&t); err != nil {
		return Thresholds{}, errors.Wrap(err, "failed to decode alarm thresholds")
	}
	return t, t.Validate()
}

func (t Thresholds) Validate() error {
	var errs []error
	names := make(map[string]bool)
	for group, thresholds := range t.groups() {
		for _, th := range thresholds {
			if th.Name == "" {
				errs = append(errs, errors.Errorf("%s: threshold without name", group))
				continue
			}
			if names[th.Name] {
				errs = append(errs, errors.Errorf("%s: duplicate threshold %q", group, th.Name))
			}
			names[th.Name] = true
			if !telemetry.IsField(th.Field) {
				errs = append(errs, errors.Errorf("%s: %q references unknown field %q", group, th.Name, th.Field))
			}
			if th.Scale <= 0 {
				errs = append(errs, errors.Errorf("%s: %q scale must be positive", group, th.Name))
			}
			if th.Lower == nil && th.Upper == nil {
				errs = append(errs, errors.Errorf("%s: %q has no bound", group, th.Name))
			}
			if th.Lower != nil && th.Upper != nil && *th.Lower > *th.Upper {
				errs = append(errs, errors.Errorf("%s: %q lower bound above upper bound", group, th.Name))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}
