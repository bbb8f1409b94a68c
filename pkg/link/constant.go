package link

import (
	"errors"

	"go.bug.st/serial"
	"harnscabinet/pkg/runtime/constant"
)

var ErrLinkUnavailable = errors.New("serial link is not open")
var ErrSerialPortClosed = errors.New("serial port closed")

var StopBitsToStopBits = map[constant.StopBits]serial.StopBits{
	constant.OneStopBit:           serial.OneStopBit,
	constant.OnePointFiveStopBits: serial.OnePointFiveStopBits,
	constant.TwoStopBits:          serial.TwoStopBits,
}

var ParityToParity = map[constant.Parity]serial.Parity{
	constant.NoParity:   serial.NoParity,
	constant.OddParity:  serial.OddParity,
	constant.EvenParity: serial.EvenParity,
}
