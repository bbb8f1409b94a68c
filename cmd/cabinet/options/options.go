package options

import (
	"time"

	"github.com/spf13/pflag"
	"harnscabinet/cmd/cabinet/config"
	"harnscabinet/pkg/alarm"
	"harnscabinet/pkg/broker"
	"harnscabinet/pkg/cabinet"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/generic"
	baseoptions "harnscabinet/pkg/generic/options"
	"harnscabinet/pkg/runtime/constant"
	"harnscabinet/pkg/storage"
)

type Options struct {
	Port     string        `json:"port"`
	Wait     time.Duration `json:"graceful-timeout"`
	CertFile string        `json:"tls-cert-file,omitempty"`
	KeyFile  string        `json:"tls-private-key-file,omitempty"`

	Modbus       constant.SerialConfig `json:"modbus"`
	Remote       constant.SerialConfig `json:"remote"`
	RemoteLayout string                `json:"remote-layout"`
	Slave        uint8                 `json:"slave"`
	PollInterval time.Duration         `json:"poll-interval"`

	StoreRoot     string `json:"store-root"`
	Retention     int    `json:"retention"`
	ThresholdFile string `json:"alarm-thresholds,omitempty"`

	MQTT   broker.Config       `json:"mqtt"`
	Delays control.DelayConfig `json:"delays"`

	baseoptions.BaseOptions
}

const (
	_defaultPort = "32200"
	_defaultWait = 15 * time.Second
)

func NewDefaultOptions() *Options {
	remote := constant.DefaultSerialConfig("")
	return &Options{
		Port:         _defaultPort,
		Wait:         _defaultWait,
		Modbus:       constant.DefaultSerialConfig("/dev/ttyS1"),
		Remote:       remote,
		RemoteLayout: cabinet.LayoutDefault,
		Slave:        dispatcher.DefaultSlave,
		PollInterval: dispatcher.DefaultConfig().PollInterval,
		StoreRoot:    storage.DefaultStorePath(),
		Retention:    generic.DefaultRetention,
		MQTT:         broker.Config{TopicPrefix: broker.DefaultTopicPrefix},
		Delays:       control.DefaultDelayConfig(),
		BaseOptions:  baseoptions.NewDefaultBaseOptions(),
	}
}

func addSerialFlags(fs *pflag.FlagSet, prefix, desc string, c *constant.SerialConfig) {
	fs.StringVar(&c.Port, prefix+"-port", c.Port, "Serial device of the "+desc)
	fs.IntVar(&c.BaudRate, prefix+"-baud-rate", c.BaudRate, "Baud rate of the "+desc)
	fs.IntVar(&c.DataBits, prefix+"-data-bits", c.DataBits, "Data bits of the "+desc)
	fs.StringVar(&c.Parity, prefix+"-parity", c.Parity, "Parity of the "+desc+": N, O or E")
	fs.StringVar(&c.StopBits, prefix+"-stop-bits", c.StopBits, "Stop bits of the "+desc+": 1, 1.5 or 2")
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	// refer to node port assignment https://rancher.com/docs/rancher/v2.x/en/installation/requirements/ports/#commonly-used-ports
	fs.StringVarP(&o.Port, "port", "P", o.Port, "Port exposed")
	fs.DurationVar(&o.Wait, "graceful-timeout", o.Wait, "The duration for which the server gracefully wait for existing connections to finish - e.g. 15s or 1m")
	fs.StringVar(&o.CertFile, "tls-cert-file", o.CertFile, "File containing the x509 certificate for HTTPS")
	fs.StringVar(&o.KeyFile, "tls-private-key-file", o.KeyFile, "File containing the x509 private key matching --tls-cert-file")

	addSerialFlags(fs, "modbus", "Modbus-RTU link to the switchgear controller", &o.Modbus)
	addSerialFlags(fs, "remote", "Frame-68 link to the remote panel, empty port disables remote actions", &o.Remote)
	fs.StringVar(&o.RemoteLayout, "remote-layout", o.RemoteLayout, "Frame-68 field layout of the remote panel: default or compact")
	fs.Uint8Var(&o.Slave, "slave", o.Slave, "Modbus slave address of the switchgear controller")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Telemetry poll interval")

	fs.StringVar(&o.StoreRoot, "store-root", o.StoreRoot, "Directory holding records and unit information")
	fs.IntVar(&o.Retention, "retention", o.Retention, "Records kept per kind, oldest are removed first")
	fs.StringVar(&o.ThresholdFile, "alarm-thresholds", o.ThresholdFile, "YAML file with alarm thresholds, built-in limits are used when empty")

	fs.StringVar(&o.MQTT.URL, "mqtt-url", o.MQTT.URL, "MQTT broker, e.g. tcp://127.0.0.1:1883, empty disables publishing")
	fs.StringVar(&o.MQTT.ClientID, "mqtt-client-id", o.MQTT.ClientID, "MQTT client id, defaults to the unit id")
	fs.StringVar(&o.MQTT.Username, "mqtt-username", o.MQTT.Username, "MQTT username")
	fs.StringVar(&o.MQTT.Password, "mqtt-password", o.MQTT.Password, "MQTT password")
	fs.StringVar(&o.MQTT.TopicPrefix, "mqtt-topic-prefix", o.MQTT.TopicPrefix, "Prefix of every published topic")
}

// CabinetConfig assembles the manager configuration from the options.
func (o *Options) CabinetConfig() (cabinet.Config, error) {
	c := cabinet.DefaultConfig()
	c.ModbusLink = o.Modbus
	c.RemoteLink = o.Remote
	c.RemoteLayout = o.RemoteLayout
	c.Slave = o.Slave
	c.StoreRoot = o.StoreRoot
	c.Retention = o.Retention
	c.Delays = o.Delays
	if o.PollInterval > 0 {
		c.Dispatcher.PollInterval = o.PollInterval
	}
	if len(o.ThresholdFile) != 0 {
		thresholds, err := alarm.LoadThresholds(o.ThresholdFile)
		if err != nil {
			return c, err
		}
		c.Thresholds = thresholds
	}
	if len(o.MQTT.URL) != 0 {
		mqtt := o.MQTT
		c.MQTT = &mqtt
	}
	return c, nil
}

func (o *Options) Config() (*config.Config, error) {
	cc, err := o.CabinetConfig()
	if err != nil {
		return nil, err
	}
	mgr := cabinet.NewManager(cc)
	if err = mgr.Init(); err != nil {
		return nil, err
	}
	return &config.Config{
		Cabinet:  mgr,
		CertFile: o.CertFile,
		KeyFile:  o.KeyFile,
	}, nil
}
