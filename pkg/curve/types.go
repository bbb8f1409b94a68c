package curve

import (
	"errors"
	"time"
)

// Kind identifies the breaker movement a curve belongs to. The values are
// the record type codes.
type Kind int

const (
	Opening Kind = 0
	Closing Kind = 1
)

var KindToString = map[Kind]string{
	Opening: "opening",
	Closing: "closing",
}

func (k Kind) String() string {
	return KindToString[k]
}

// Channel is one sampled signal stored in the controller's curve memory.
type Channel struct {
	Name string
	Base uint16
	// Step is the time between samples in milliseconds.
	Step float64
}

var (
	OpeningCoil = Channel{Name: "openingCoil", Base: 0x4000, Step: 0.2}
	ClosingCoil = Channel{Name: "closingCoil", Base: 0x5000, Step: 0.2}
	Energy      = Channel{Name: "energyStorage", Base: 0x6000, Step: 10}
	Angle       = Channel{Name: "angle", Base: 0x9000, Step: 0.2}
)

func (k Kind) Coil() Channel {
	if k == Closing {
		return ClosingCoil
	}
	return OpeningCoil
}

const (
	HeaderSize = 3
	ChunkSize  = 512
)

var (
	ErrEmptyRange      = errors.New("curve header reports an empty range")
	ErrRangeOverflow   = errors.New("curve range runs past the last register")
	ErrShortChunk      = errors.New("curve chunk shorter than requested")
	ErrAcquisitionBusy = errors.New("curve acquisition already running")
	ErrEnergyNotStored = errors.New("energy storage did not complete in time")
)

// Header describes the valid sample range of a channel.
type Header struct {
	OperationCount int `json:"operationCount"`
	Start          int `json:"validRangeStart"`
	End            int `json:"validRangeEnd"`
}

func (h Header) Length() int {
	return h.End - h.Start
}

type Point struct {
	Time  float64 `json:"time"`
	Value int     `json:"value"`
}

// Series is a complete read of one channel.
type Series struct {
	Channel string    `json:"channel"`
	Header  Header    `json:"header"`
	Points  []Point   `json:"points"`
	ReadAt  time.Time `json:"readAt"`
}

func (s *Series) Values() []int {
	if s == nil {
		return nil
	}
	values := make([]int, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}
