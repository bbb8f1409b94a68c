package control

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
)

const maxJSONPatchOperations = 64

var ErrMalformedPatch = errors.New("malformed delay patch")

// ActionDelays holds one duration per action.
type ActionDelays struct {
	GroundOn   metav1.Duration `json:"groundOn"`
	GroundOff  metav1.Duration `json:"groundOff"`
	BreakerOn  metav1.Duration `json:"breakerOn"`
	BreakerOff metav1.Duration `json:"breakerOff"`
	ChassisIn  metav1.Duration `json:"chassisIn"`
	ChassisOut metav1.Duration `json:"chassisOut"`
}

func (d ActionDelays) For(a Action) time.Duration {
	switch a {
	case GroundOn:
		return d.GroundOn.Duration
	case GroundOff:
		return d.GroundOff.Duration
	case BreakerOn:
		return d.BreakerOn.Duration
	case BreakerOff:
		return d.BreakerOff.Duration
	case ChassisIn:
		return d.ChassisIn.Duration
	case ChassisOut:
		return d.ChassisOut.Duration
	}
	return 0
}

func uniform(d time.Duration) ActionDelays {
	v := metav1.Duration{Duration: d}
	return ActionDelays{GroundOn: v, GroundOff: v, BreakerOn: v, BreakerOff: v, ChassisIn: v, ChassisOut: v}
}

// DelayConfig is the timing used by the operation and plan controllers.
// Controllers copy it at the start of each run.
type DelayConfig struct {
	// StopBeforeCommand is the wait between pausing polls and sending.
	StopBeforeCommand metav1.Duration `json:"stopBeforeCommand"`
	// StartAfterCommand is the wait between sending and resuming polls.
	StartAfterCommand metav1.Duration `json:"startAfterCommand"`
	ScanInterval      metav1.Duration `json:"scanInterval"`
	NextStepDelay     metav1.Duration `json:"nextStepDelay"`
	CurveDelay        metav1.Duration `json:"curveDelay"`
	// Settle is held after a verified single action before the controller
	// accepts the next one.
	Settle          ActionDelays    `json:"settle"`
	Fault           ActionDelays    `json:"fault"`
	PlanChassisIn   metav1.Duration `json:"planChassisIn"`
	PlanChassisOut  metav1.Duration `json:"planChassisOut"`
	PowerOnTimeout  metav1.Duration `json:"powerOnTimeout"`
	PowerOffTimeout metav1.Duration `json:"powerOffTimeout"`
}

func DefaultDelayConfig() DelayConfig {
	fault := uniform(10 * time.Second)
	fault.ChassisIn = metav1.Duration{Duration: 35 * time.Second}
	fault.ChassisOut = metav1.Duration{Duration: 35 * time.Second}
	return DelayConfig{
		StopBeforeCommand: metav1.Duration{Duration: 500 * time.Millisecond},
		StartAfterCommand: metav1.Duration{Duration: 500 * time.Millisecond},
		ScanInterval:      metav1.Duration{Duration: time.Second},
		NextStepDelay:     metav1.Duration{Duration: 3 * time.Second},
		CurveDelay:        metav1.Duration{Duration: 500 * time.Millisecond},
		Settle:            uniform(5 * time.Second),
		Fault:             fault,
		PlanChassisIn:     metav1.Duration{Duration: 50 * time.Second},
		PlanChassisOut:    metav1.Duration{Duration: 50 * time.Second},
		PowerOnTimeout:    metav1.Duration{Duration: 60 * time.Second},
		PowerOffTimeout:   metav1.Duration{Duration: 60 * time.Second},
	}
}

func (c DelayConfig) Validate() error {
	var allErrs field.ErrorList
	positive := func(path *field.Path, d metav1.Duration) {
		if d.Duration <= 0 {
			allErrs = append(allErrs, field.Invalid(path, d.Duration.String(), "must be greater than zero"))
		}
	}
	nonNegative := func(path *field.Path, d metav1.Duration) {
		if d.Duration < 0 {
			allErrs = append(allErrs, field.Invalid(path, d.Duration.String(), "must not be negative"))
		}
	}
	perAction := func(path *field.Path, d ActionDelays, check func(*field.Path, metav1.Duration)) {
		check(path.Child("groundOn"), d.GroundOn)
		check(path.Child("groundOff"), d.GroundOff)
		check(path.Child("breakerOn"), d.BreakerOn)
		check(path.Child("breakerOff"), d.BreakerOff)
		check(path.Child("chassisIn"), d.ChassisIn)
		check(path.Child("chassisOut"), d.ChassisOut)
	}

	nonNegative(field.NewPath("stopBeforeCommand"), c.StopBeforeCommand)
	nonNegative(field.NewPath("startAfterCommand"), c.StartAfterCommand)
	positive(field.NewPath("scanInterval"), c.ScanInterval)
	nonNegative(field.NewPath("nextStepDelay"), c.NextStepDelay)
	nonNegative(field.NewPath("curveDelay"), c.CurveDelay)
	perAction(field.NewPath("settle"), c.Settle, nonNegative)
	perAction(field.NewPath("fault"), c.Fault, positive)
	positive(field.NewPath("planChassisIn"), c.PlanChassisIn)
	positive(field.NewPath("planChassisOut"), c.PlanChassisOut)
	positive(field.NewPath("powerOnTimeout"), c.PowerOnTimeout)
	positive(field.NewPath("powerOffTimeout"), c.PowerOffTimeout)
	return allErrs.ToAggregate()
}

// ApplyPatch returns config with a JSON patch or JSON merge patch applied.
// Durations in the patch may be strings ("1.5s") or plain numbers, which
// are read as milliseconds.
func ApplyPatch(config DelayConfig, patchType types.PatchType, patch []byte) (DelayConfig, error) {
	current, err := json.Marshal(config)
	if err != nil {
		return config, err
	}
	patched, err := applyJSPatch(patchType, patch, current)
	if err != nil {
		return config, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(patched, &raw); err != nil {
		return config, errors.Wrap(ErrMalformedPatch, err.Error())
	}
	var out DelayConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  durationHook,
		ErrorUnused: true,
		TagName:     "json",
		Result:      &out,
	})
	if err != nil {
		return config, err
	}
	if err := decoder.Decode(raw); err != nil {
		return config, errors.Wrap(ErrMalformedPatch, err.Error())
	}
	if err := out.Validate(); err != nil {
		return config, err
	}
	return out, nil
}

var durationType = reflect.TypeOf(metav1.Duration{})

func durationHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		return metav1.Duration{Duration: d}, nil
	case float64:
		return metav1.Duration{Duration: time.Duration(v * float64(time.Millisecond))}, nil
	}
	return data, nil
}

func applyJSPatch(patchType types.PatchType, patchBytes, versionedJS []byte) ([]byte, error) {
	switch patchType {
	case types.JSONPatchType:
		patchObj, err := jsonpatch.DecodePatch(patchBytes)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedPatch, err.Error())
		}
		if len(patchObj) > maxJSONPatchOperations {
			klog.V(3).InfoS("Too many json patch operations", "count", len(patchObj))
			return nil, errors.Wrapf(ErrMalformedPatch, "more than %d operations", maxJSONPatchOperations)
		}
		patchedJS, err := patchObj.Apply(versionedJS)
		if err != nil {
			klog.V(3).InfoS("Failed to apply json patch", "err", err)
			return nil, errors.Wrap(ErrMalformedPatch, err.Error())
		}
		return patchedJS, nil
	case types.MergePatchType:
		patchedJS, err := jsonpatch.MergePatch(versionedJS, patchBytes)
		if err != nil {
			klog.V(3).InfoS("Failed to apply json merge patch", "err", err)
			return nil, errors.Wrap(ErrMalformedPatch, err.Error())
		}
		return patchedJS, nil
	default:
		return nil, fmt.Errorf("unknown Content-Type header for patch: %v", patchType)
	}
}
