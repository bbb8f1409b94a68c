package constant

import (
	"fmt"
	"strings"
)

type StopBits int

const (
	// OneStopBit sets 1 stop bit (default)
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits
	TwoStopBits
)

var StopBitsToString = map[StopBits]string{
	OneStopBit:           "1",
	OnePointFiveStopBits: "1.5",
	TwoStopBits:          "2",
}

var StringToStopBits = map[string]StopBits{
	"1":   OneStopBit,
	"1.5": OnePointFiveStopBits,
	"2":   TwoStopBits,
}

type Parity int

const (
	// NoParity disable parity control (default)
	NoParity Parity = iota
	// OddParity enable odd-parity check
	OddParity
	// EvenParity enable even-parity check
	EvenParity
)

var ParityToString = map[Parity]string{
	NoParity:   "N",
	OddParity:  "O",
	EvenParity: "E",
}

var StringToParity = map[string]Parity{
	"N":          NoParity,
	"O":          OddParity,
	"E":          EvenParity,
	"none":       NoParity,
	"odd":        OddParity,
	"even":       EvenParity,
	"noParity":   NoParity,
	"oddParity":  OddParity,
	"evenParity": EvenParity,
}

// SerialConfig describes one physical link. It is fixed once the link is opened.
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudRate"`
	DataBits int    `json:"dataBits"`
	Parity   string `json:"parity"`
	StopBits string `json:"stopBits"`
}

func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:     port,
		BaudRate: 9600,
		DataBits: 8,
		Parity:   "N",
		StopBits: "1",
	}
}

func (c SerialConfig) ParseParity() (Parity, error) {
	p, ok := StringToParity[c.Parity]
	if !ok {
		p, ok = StringToParity[strings.ToLower(c.Parity)]
	}
	if !ok {
		return NoParity, fmt.Errorf("unsupported parity %q", c.Parity)
	}
	return p, nil
}

func (c SerialConfig) ParseStopBits() (StopBits, error) {
	s, ok := StringToStopBits[c.StopBits]
	if !ok {
		return OneStopBit, fmt.Errorf("unsupported stop bits %q", c.StopBits)
	}
	return s, nil
}

func (c SerialConfig) String() string {
	return fmt.Sprintf("%s %d %d%s%s", c.Port, c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}
