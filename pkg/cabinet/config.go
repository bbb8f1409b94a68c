package cabinet

import (
	"time"

	"harnscabinet/pkg/alarm"
	"harnscabinet/pkg/broker"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/curve"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/generic"
	"harnscabinet/pkg/protocol/frame68"
	"harnscabinet/pkg/runtime/constant"
	"harnscabinet/pkg/telemetry"
)

const (
	LayoutDefault = "default"
	LayoutCompact = "compact"

	defaultReconnectInterval = 5 * time.Second
	defaultFirstSnapshotWait = 30 * time.Second
)

var StringToLayout = map[string]frame68.Layout{
	LayoutDefault: frame68.DefaultLayout,
	LayoutCompact: frame68.CompactLayout,
}

// Config carries everything the manager wires. It is assembled by the
// command line options.
type Config struct {
	ModbusLink constant.SerialConfig
	// RemoteLink is optional; an empty port disables remote actions.
	RemoteLink     constant.SerialConfig
	RemoteLayout   string
	Slave          byte
	StoreRoot      string
	Retention      int
	SampleInterval time.Duration
	// ReconnectInterval paces reopening a lost serial port.
	ReconnectInterval time.Duration
	Dispatcher        dispatcher.Config
	Delays            control.DelayConfig
	Curve             curve.AcquirerConfig
	Thresholds        alarm.Thresholds
	// MQTT is nil when no broker is configured.
	MQTT *broker.Config
}

func DefaultConfig() Config {
	return Config{
		ModbusLink:        constant.DefaultSerialConfig("/dev/ttyS1"),
		RemoteLayout:      LayoutDefault,
		Slave:             dispatcher.DefaultSlave,
		Retention:         generic.DefaultRetention,
		SampleInterval:    telemetry.DefaultSampleInterval,
		ReconnectInterval: defaultReconnectInterval,
		Dispatcher:        dispatcher.DefaultConfig(),
		Delays:            control.DefaultDelayConfig(),
		Curve:             curve.DefaultAcquirerConfig(),
		Thresholds:        alarm.DefaultThresholds(),
	}
}
