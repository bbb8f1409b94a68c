package control

import (
	"strings"

	"github.com/pkg/errors"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/telemetry"
)

type Action string

const (
	GroundOn   Action = "groundOn"
	GroundOff  Action = "groundOff"
	BreakerOn  Action = "breakerOn"
	BreakerOff Action = "breakerOff"
	ChassisIn  Action = "chassisIn"
	ChassisOut Action = "chassisOut"
)

var Actions = []Action{GroundOn, GroundOff, BreakerOn, BreakerOff, ChassisIn, ChassisOut}

// CommandRegister is the first control coil register; each action writes
// 1 to its own offset.
const CommandRegister uint16 = 0x3000

var actionOffsets = map[Action]uint16{
	GroundOn:   0,
	GroundOff:  1,
	BreakerOn:  2,
	BreakerOff: 3,
	ChassisIn:  4,
	ChassisOut: 5,
}

var ActionToString = map[Action]string{
	GroundOn:   "ground switch close",
	GroundOff:  "ground switch open",
	BreakerOn:  "breaker close",
	BreakerOff: "breaker open",
	ChassisIn:  "chassis rack in",
	ChassisOut: "chassis rack out",
}

var ErrUnknownAction = errors.New("unknown action")

// ParseAction accepts the canonical name in any case, with or without
// separators, so "breaker-on" and "BREAKER_ON" both resolve.
func ParseAction(s string) (Action, error) {
	normalized := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for _, a := range Actions {
		if strings.ToLower(string(a)) == normalized {
			return a, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownAction, "%q", s)
}

func (a Action) String() string {
	if s, ok := ActionToString[a]; ok {
		return s
	}
	return string(a)
}

// Command encodes the register write that triggers a.
func (a Action) Command(slave byte) []byte {
	return modbusrtu.WriteSingleRegister(slave, CommandRegister+actionOffsets[a], 1)
}

// ActionFromCommand maps an encoded command back to its action.
func ActionFromCommand(command []byte) (Action, bool) {
	if len(command) < 6 || command[1] != 0x06 {
		return "", false
	}
	register := uint16(command[2])<<8 | uint16(command[3])
	for a, offset := range actionOffsets {
		if CommandRegister+offset == register {
			return a, true
		}
	}
	return "", false
}

type target struct {
	field string
	value string
	// counter must strictly increase for the action to count as verified.
	counter string
}

func (a Action) target() target {
	switch a {
	case GroundOn:
		return target{field: telemetry.GroundingState, value: telemetry.StateOn}
	case GroundOff:
		return target{field: telemetry.GroundingState, value: telemetry.StateOff}
	case BreakerOn:
		return target{field: telemetry.BreakerState, value: telemetry.StateOn, counter: telemetry.ClosingOperationsNum}
	case BreakerOff:
		return target{field: telemetry.BreakerState, value: telemetry.StateOff, counter: telemetry.OpeningOperationsNum}
	case ChassisIn:
		return target{field: telemetry.ChassisPosition, value: telemetry.ChassisWork}
	case ChassisOut:
		return target{field: telemetry.ChassisPosition, value: telemetry.ChassisTest}
	}
	return target{}
}

// Reached reports whether snap shows the action's end state. Counters are
// not considered.
func (a Action) Reached(snap telemetry.Snapshot) bool {
	t := a.target()
	return t.field != "" && snap.Value(t.field) == t.value
}

func (a Action) counted() bool {
	return a.target().counter != ""
}
