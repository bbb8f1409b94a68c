package control

import "harnscabinet/pkg/telemetry"

// Check returns a *PreconditionError when snap does not permit a.
func Check(a Action, snap telemetry.Snapshot) error {
	reject := func(reason string) error {
		return &PreconditionError{Action: a, Reason: reason}
	}
	if snap.IsZero() {
		return reject("no telemetry received yet")
	}

	switch a {
	case ChassisIn, ChassisOut:
		if !snap.BreakerOpen() {
			return reject("breaker must be open")
		}
		if !snap.GroundOpen() {
			return reject("ground switch must be open")
		}
		if a == ChassisIn && !snap.ChassisAtTest() {
			return reject("chassis must be at test position")
		}
		if a == ChassisOut && !snap.ChassisAtWork() {
			return reject("chassis must be at work position")
		}
	case BreakerOn, BreakerOff:
		if !snap.GroundOpen() {
			return reject("ground switch must be open")
		}
		if !snap.ChassisAtWork() {
			return reject("chassis must be at work position")
		}
		if a.Reached(snap) {
			return reject("breaker already in requested state")
		}
	case GroundOn, GroundOff:
		if !snap.BreakerOpen() {
			return reject("breaker must be open")
		}
		if !snap.ChassisAtTest() {
			return reject("chassis must be at test position")
		}
		if a.Reached(snap) {
			return reject("ground switch already in requested state")
		}
	default:
		return reject("unknown action")
	}
	return nil
}
