package dispatcher

import (
	"errors"
	"time"

	"harnscabinet/pkg/link"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/telemetry"
)

var (
	ErrLinkUnavailable    = link.ErrLinkUnavailable
	ErrTransactionTimeout = errors.New("no matching reply within the request timeout")
	ErrQueueFull          = errors.New("command queue is full")
	ErrDispatcherStopped  = errors.New("dispatcher stopped")
)

// Transport writes one encoded request to the link.
type Transport interface {
	Send(b []byte) error
}

type SnapshotSink interface {
	Publish(snap telemetry.Snapshot)
}

type State int

const (
	Idle State = iota
	Polling
	Suspended
)

var StateToString = map[State]string{
	Idle:      "idle",
	Polling:   "polling",
	Suspended: "suspended",
}

func (s State) String() string {
	return StateToString[s]
}

const (
	DefaultSlave        byte   = 0x01
	DefaultPollRegister uint16 = 0x1000
)

type Config struct {
	PollInterval     time.Duration `json:"pollInterval"`
	Spacing          time.Duration `json:"spacing"`
	RequestTimeout   time.Duration `json:"requestTimeout"`
	LockTimeout      time.Duration `json:"lockTimeout"`
	WatchdogInterval time.Duration `json:"watchdogInterval"`
	// ReleaseDelay holds the lock briefly after an exchange so a late
	// echo is not mistaken for the next reply.
	ReleaseDelay time.Duration `json:"releaseDelay"`
	// ResumeDelay postpones the next poll after an on-demand exchange.
	ResumeDelay time.Duration         `json:"resumeDelay"`
	MaxQueue    int                   `json:"maxQueue"`
	PollCommand []byte                `json:"-"`
	PollPolicy  modbusrtu.ParsePolicy `json:"pollPolicy"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     time.Second,
		Spacing:          200 * time.Millisecond,
		RequestTimeout:   5 * time.Second,
		LockTimeout:      10 * time.Second,
		WatchdogInterval: 2 * time.Second,
		ReleaseDelay:     50 * time.Millisecond,
		ResumeDelay:      100 * time.Millisecond,
		MaxQueue:         50,
		PollCommand:      modbusrtu.ReadHoldingRegisters(DefaultSlave, DefaultPollRegister, uint16(telemetry.FieldCount)),
		PollPolicy:       modbusrtu.Unsigned,
	}
}

// Reply is the decoded answer to one request.
type Reply struct {
	Frame   *modbusrtu.Frame
	Latency time.Duration
}

// Values returns the parsed registers of a read reply.
func (r *Reply) Values() []int {
	if r == nil || r.Frame == nil {
		return nil
	}
	return r.Frame.Values
}

type LockStatus struct {
	Held       bool          `json:"held"`
	Processing bool          `json:"processing"`
	HeldFor    time.Duration `json:"heldFor"`
}

type Status struct {
	State        string     `json:"state"`
	QueueLength  int        `json:"queueLength"`
	Pending      int        `json:"pending"`
	Paused       int        `json:"paused"`
	Lock         LockStatus `json:"lock"`
	Transmits    uint64     `json:"transmits"`
	Polls        uint64     `json:"polls"`
	PollFailures uint64     `json:"pollFailures"`
	Timeouts     uint64     `json:"timeouts"`
	Unmatched    uint64     `json:"unmatched"`
	LockLeaks    uint64     `json:"lockLeaks"`
	RxDropped    uint64     `json:"rxDropped"`
	LastPoll     time.Time  `json:"lastPoll"`
}
