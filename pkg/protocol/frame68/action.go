package frame68

// ActionCode is the single payload byte a remote panel sends to request
// a switching action.
type ActionCode byte

const (
	ActionChassisIn  ActionCode = 0x01
	ActionChassisOut ActionCode = 0x02
	ActionGroundOn   ActionCode = 0x03
	ActionGroundOff  ActionCode = 0x04
	ActionBreakerOn  ActionCode = 0x05
	ActionBreakerOff ActionCode = 0x06
	ActionEnergize   ActionCode = 0x07
	ActionDeenergize ActionCode = 0x08
)

var ActionCodeToString = map[ActionCode]string{
	ActionChassisIn:  "shakein",
	ActionChassisOut: "shakeout",
	ActionGroundOn:   "groundon",
	ActionGroundOff:  "groundoff",
	ActionBreakerOn:  "breakeron",
	ActionBreakerOff: "breakeroff",
	ActionEnergize:   "transmission",
	ActionDeenergize: "failure",
}

func (c ActionCode) String() string {
	if s, ok := ActionCodeToString[c]; ok {
		return s
	}
	return "unknown"
}

// LookupAction maps a message's data field to an action code. The data
// field must be exactly one known code byte.
func LookupAction(m Message) (ActionCode, bool) {
	if len(m.Payload) != 1 {
		return 0, false
	}
	code := ActionCode(m.Payload[0])
	_, ok := ActionCodeToString[code]
	return code, ok
}
