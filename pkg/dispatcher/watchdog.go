package dispatcher

import (
	"strconv"
	"time"

	"harnscabinet/pkg/runtime"
	"k8s.io/klog/v2"
)

// checkLock clears a lock that has been held without an exchange in
// flight for longer than the lock timeout.
func (d *Dispatcher) checkLock() {
	now := time.Now()
	d.mu.Lock()
	if !d.lock.leaked(now, d.config.LockTimeout) {
		d.mu.Unlock()
		return
	}
	heldFor := now.Sub(d.lock.acquiredAt)
	d.lock.clear()
	d.mu.Unlock()

	d.lockLeaks.Inc()
	klog.V(2).InfoS("Force cleared leaked dispatch lock", "heldFor", heldFor, "timeout", d.config.LockTimeout)
	d.events.Emit(runtime.Event{
		Type:    runtime.EventLink,
		Name:    "lockLeak",
		Result:  "cleared",
		Message: "dispatch lock held without an exchange in flight",
		Fields:  map[string]string{"heldForMs": strconv.FormatInt(heldFor.Milliseconds(), 10)},
		Time:    now,
	})
	d.signal()
}
