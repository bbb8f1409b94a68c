package dispatcher

import "time"

// dispatchLock guards the link. processing is true only while a request
// is on the wire; a held lock that is not processing for longer than the
// lock timeout has leaked.
type dispatchLock struct {
	held       bool
	processing bool
	acquiredAt time.Time
	// generation invalidates delayed releases of an older acquisition.
	generation uint64
}

func (l *dispatchLock) acquire(now time.Time) uint64 {
	l.held = true
	l.processing = true
	l.acquiredAt = now
	l.generation++
	return l.generation
}

func (l *dispatchLock) release(generation uint64) bool {
	if !l.held || l.generation != generation {
		return false
	}
	l.held = false
	l.processing = false
	return true
}

func (l *dispatchLock) leaked(now time.Time, timeout time.Duration) bool {
	return l.held && !l.processing && now.Sub(l.acquiredAt) > timeout
}

func (l *dispatchLock) clear() {
	l.held = false
	l.processing = false
	l.generation++
}

func (l *dispatchLock) status(now time.Time) LockStatus {
	s := LockStatus{Held: l.held, Processing: l.processing}
	if l.held {
		s.HeldFor = now.Sub(l.acquiredAt)
	}
	return s
}
