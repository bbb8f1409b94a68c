package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/runtime/constant"
	"harnscabinet/pkg/telemetry"
	"harnscabinet/pkg/utils/binutil"
)

var probeStopBits = map[string]int{"1": 1, "2": 2}

type probeOptions struct {
	Serial  constant.SerialConfig
	Slave   uint8
	Timeout time.Duration
}

// NewProbeCmd reads one telemetry block without starting the daemon. It
// is meant for commissioning, before the daemon owns the port.
func NewProbeCmd() *cobra.Command {
	o := &probeOptions{
		Serial:  constant.DefaultSerialConfig("/dev/ttyS1"),
		Slave:   dispatcher.DefaultSlave,
		Timeout: 2 * time.Second,
	}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Read one telemetry snapshot from the switchgear controller and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := probe(o)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.Serial.Port, "port", o.Serial.Port, "Serial device of the Modbus-RTU link")
	fs.IntVar(&o.Serial.BaudRate, "baud-rate", o.Serial.BaudRate, "Baud rate")
	fs.IntVar(&o.Serial.DataBits, "data-bits", o.Serial.DataBits, "Data bits")
	fs.StringVar(&o.Serial.Parity, "parity", o.Serial.Parity, "Parity: N, O or E")
	fs.StringVar(&o.Serial.StopBits, "stop-bits", o.Serial.StopBits, "Stop bits: 1 or 2")
	fs.Uint8Var(&o.Slave, "slave", o.Slave, "Modbus slave address")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Response timeout")
	return cmd
}

func probe(o *probeOptions) (telemetry.Snapshot, error) {
	parity, err := o.Serial.ParseParity()
	if err != nil {
		return telemetry.Snapshot{}, err
	}
	stopBits, ok := probeStopBits[o.Serial.StopBits]
	if !ok {
		return telemetry.Snapshot{}, fmt.Errorf("unsupported stop bits %q", o.Serial.StopBits)
	}

	handler := modbus.NewRTUClientHandler(o.Serial.Port)
	handler.BaudRate = o.Serial.BaudRate
	handler.DataBits = o.Serial.DataBits
	handler.Parity = constant.ParityToString[parity]
	handler.StopBits = stopBits
	handler.SlaveId = o.Slave
	handler.Timeout = o.Timeout
	if err = handler.Connect(); err != nil {
		return telemetry.Snapshot{}, errors.Wrapf(err, "open %s", o.Serial.Port)
	}
	defer handler.Close()

	client := modbus.NewClient(handler)
	results, err := client.ReadHoldingRegisters(dispatcher.DefaultPollRegister, uint16(telemetry.FieldCount))
	if err != nil {
		return telemetry.Snapshot{}, errors.Wrap(err, "read telemetry")
	}
	return decodeProbe(results, time.Now())
}

// decodeProbe turns the register bytes of a read reply into a snapshot.
// The controller reports every field unsigned.
func decodeProbe(results []byte, at time.Time) (telemetry.Snapshot, error) {
	values := make([]int, 0, len(results)/2)
	for i := 0; i+1 < len(results); i += 2 {
		values = append(values, int(binutil.ParseUint16BigEndian(results[i:i+2])))
	}
	return telemetry.FromRegisters(values, at)
}
