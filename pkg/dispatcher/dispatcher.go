package dispatcher

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"harnscabinet/pkg/utils/binutil"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

type Option func(d *Dispatcher)

func WithSnapshotSink(sink SnapshotSink) Option {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

func WithEventSink(events runtime.EventSink) Option {
	return func(d *Dispatcher) {
		d.events = events
	}
}

type result struct {
	reply *Reply
	err   error
}

type entry struct {
	command []byte
	policy  modbusrtu.ParsePolicy
	done    chan result
	elem    *list.Element
}

type pending struct {
	slave        byte
	functionCode byte
	policy       modbusrtu.ParsePolicy
	issuedAt     time.Time
	done         chan result
	elem         *list.Element
}

// Dispatcher owns the half-duplex link. All requests, periodic polls and
// on-demand commands alike, go through one worker so that at most one
// request is ever awaiting a reply.
type Dispatcher struct {
	transport Transport
	config    Config
	sink      SnapshotSink
	events    runtime.EventSink

	mu           sync.Mutex
	queue        *list.List
	pendings     *list.List
	lock         dispatchLock
	state        State
	pauses       int
	pollDue      bool
	resumeAt     time.Time
	lastPoll     time.Time
	running      bool
	stopped      bool
	lastExchange time.Time

	rxMu      sync.Mutex
	assembler *modbusrtu.Assembler

	wake chan struct{}

	transmits    atomic.Uint64
	polls        atomic.Uint64
	pollFailures atomic.Uint64
	timeouts     atomic.Uint64
	unmatched    atomic.Uint64
	lockLeaks    atomic.Uint64
}

func New(transport Transport, config Config, opts ...Option) *Dispatcher {
	if len(config.PollCommand) == 0 {
		config.PollCommand = DefaultConfig().PollCommand
	}
	d := &Dispatcher{
		transport: transport,
		config:    config,
		events:    runtime.NopEventSink,
		queue:     list.New(),
		pendings:  list.New(),
		assembler: modbusrtu.NewAssembler(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Config() Config {
	return d.config
}

// Run drives polling and the command queue until stopCh is closed.
func (d *Dispatcher) Run(stopCh <-chan struct{}) {
	d.mu.Lock()
	if d.running || d.stopped {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.state = Polling
	d.pollDue = true
	d.mu.Unlock()

	klog.V(1).InfoS("Started command dispatcher", "pollInterval", d.config.PollInterval, "maxQueue", d.config.MaxQueue)
	go wait.Until(d.checkLock, d.config.WatchdogInterval, stopCh)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	d.signal()
	for {
		select {
		case <-stopCh:
			d.shutdown()
			return
		case <-ticker.C:
			d.mu.Lock()
			d.pollDue = true
			d.mu.Unlock()
		case <-d.wake:
		}
		d.drain(stopCh)
	}
}

// Enqueue submits an on-demand command and blocks until its reply, a
// timeout or ctx cancellation. On-demand commands preempt polling.
func (d *Dispatcher) Enqueue(ctx context.Context, command []byte, policy modbusrtu.ParsePolicy) (*Reply, error) {
	if _, _, err := modbusrtu.Header(command); err != nil {
		return nil, err
	}
	e := &entry{command: binutil.Dup(command), policy: policy, done: make(chan result, 1)}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrDispatcherStopped
	}
	if d.queue.Len() >= d.config.MaxQueue {
		d.mu.Unlock()
		klog.V(2).InfoS("Rejected command, queue is full", "command", binutil.EncodeHex(command), "length", d.config.MaxQueue)
		return nil, ErrQueueFull
	}
	e.elem = d.queue.PushBack(e)
	d.mu.Unlock()
	d.signal()

	select {
	case r := <-e.done:
		return r.reply, r.err
	case <-ctx.Done():
		d.mu.Lock()
		if e.elem != nil {
			d.queue.Remove(e.elem)
			e.elem = nil
		}
		d.mu.Unlock()
		return nil, ctx.Err()
	}
}

// PausePolling suspends periodic polls until a matching ResumePolling.
// Calls nest.
func (d *Dispatcher) PausePolling() {
	d.mu.Lock()
	d.pauses++
	if d.running {
		d.state = Suspended
	}
	d.mu.Unlock()
}

func (d *Dispatcher) ResumePolling() {
	d.mu.Lock()
	if d.pauses == 0 {
		d.mu.Unlock()
		klog.V(4).InfoS("Ignored resume, polling is not paused")
		return
	}
	d.pauses--
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) Status() Status {
	now := time.Now()
	d.mu.Lock()
	s := Status{
		State:       d.state.String(),
		QueueLength: d.queue.Len(),
		Pending:     d.pendings.Len(),
		Paused:      d.pauses,
		Lock:        d.lock.status(now),
		LastPoll:    d.lastPoll,
	}
	d.mu.Unlock()
	s.Transmits = d.transmits.Load()
	s.Polls = d.polls.Load()
	s.PollFailures = d.pollFailures.Load()
	s.Timeouts = d.timeouts.Load()
	s.Unmatched = d.unmatched.Load()
	s.LockLeaks = d.lockLeaks.Load()
	d.rxMu.Lock()
	s.RxDropped = d.assembler.Dropped()
	d.rxMu.Unlock()
	return s
}

// ResetLock force-releases the dispatch lock and clears the receive buffer.
func (d *Dispatcher) ResetLock() {
	d.mu.Lock()
	held := d.lock.held
	d.lock.clear()
	d.mu.Unlock()
	d.rxMu.Lock()
	d.assembler.Reset()
	d.rxMu.Unlock()
	klog.V(1).InfoS("Reset dispatch lock", "held", held)
	d.signal()
}

// OnBytes accepts bytes read from the link. Complete replies are matched
// to the oldest pending request with the same slave and function code.
func (d *Dispatcher) OnBytes(chunk []byte, at time.Time) {
	d.rxMu.Lock()
	frames := d.assembler.Feed(chunk, at)
	d.rxMu.Unlock()
	for _, adu := range frames {
		d.resolve(adu, at)
	}
}

func (d *Dispatcher) resolve(adu []byte, at time.Time) {
	slave, functionCode, err := modbusrtu.Header(adu)
	if err != nil {
		return
	}
	functionCode &^= 0x80

	d.mu.Lock()
	var p *pending
	for el := d.pendings.Front(); el != nil; el = el.Next() {
		candidate := el.Value.(*pending)
		if candidate.slave == slave && candidate.functionCode == functionCode {
			p = candidate
			break
		}
	}
	if p == nil {
		d.mu.Unlock()
		d.unmatched.Inc()
		klog.V(2).InfoS("Dropped reply without a pending request", "bytes", binutil.EncodeHex(adu))
		return
	}
	d.pendings.Remove(p.elem)
	p.elem = nil
	d.mu.Unlock()

	frame, err := modbusrtu.Decode(adu, p.policy)
	p.done <- result{reply: &Reply{Frame: frame, Latency: at.Sub(p.issuedAt)}, err: err}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) drain(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		d.mu.Lock()
		if d.lock.held {
			d.mu.Unlock()
			return
		}
		if front := d.queue.Front(); front != nil {
			e := d.queue.Remove(front).(*entry)
			e.elem = nil
			d.state = Suspended
			d.mu.Unlock()
			d.serve(e, stopCh)
			continue
		}
		if d.pauses > 0 {
			d.state = Suspended
			d.mu.Unlock()
			return
		}
		d.state = Polling
		if d.pollDue && !time.Now().Before(d.resumeAt) {
			d.pollDue = false
			d.mu.Unlock()
			d.poll(stopCh)
			continue
		}
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) serve(e *entry, stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			d.recovered(r)
			e.done <- result{err: fmt.Errorf("command panicked: %v", r)}
		}
	}()
	reply, err := d.exchange(e.command, e.policy, stopCh)
	d.mu.Lock()
	d.resumeAt = time.Now().Add(d.config.ResumeDelay)
	d.mu.Unlock()
	e.done <- result{reply: reply, err: err}
}

func (d *Dispatcher) poll(stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			d.recovered(r)
			d.pollFailures.Inc()
		}
	}()
	d.polls.Inc()
	reply, err := d.exchange(d.config.PollCommand, d.config.PollPolicy, stopCh)
	if err != nil {
		d.pollFailures.Inc()
		klog.V(2).InfoS("Failed to poll telemetry", "err", err)
		return
	}
	snap, err := telemetry.FromRegisters(reply.Values(), time.Now())
	if err != nil {
		d.pollFailures.Inc()
		klog.V(2).InfoS("Failed to build telemetry snapshot", "err", err)
		return
	}
	d.mu.Lock()
	d.lastPoll = snap.UpdateTime()
	d.mu.Unlock()
	if d.sink != nil {
		d.sink.Publish(snap)
	}
}

// recovered leaves a held lock in the not-processing state so the
// watchdog can reclaim it.
func (d *Dispatcher) recovered(r interface{}) {
	klog.ErrorS(nil, "Recovered from panic in dispatcher", "panic", r)
	d.mu.Lock()
	d.lock.processing = false
	d.mu.Unlock()
}

func (d *Dispatcher) exchange(command []byte, policy modbusrtu.ParsePolicy, stopCh <-chan struct{}) (*Reply, error) {
	if delay := d.config.Spacing - time.Since(d.lastExchange); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-stopCh:
			t.Stop()
			return nil, ErrDispatcherStopped
		}
	}
	defer func() {
		d.lastExchange = time.Now()
	}()

	slave, functionCode, err := modbusrtu.Header(command)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p := &pending{slave: slave, functionCode: functionCode, policy: policy, issuedAt: now, done: make(chan result, 1)}

	d.mu.Lock()
	generation := d.lock.acquire(now)
	p.elem = d.pendings.PushBack(p)
	d.mu.Unlock()
	defer d.release(generation)

	if err := d.transport.Send(command); err != nil {
		d.forget(p)
		return nil, errors.Wrap(err, "failed to send command")
	}
	d.transmits.Inc()

	timer := time.NewTimer(d.config.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-p.done:
		return r.reply, r.err
	case <-timer.C:
		if d.forget(p) {
			d.timeouts.Inc()
			d.rxMu.Lock()
			d.assembler.Reset()
			d.rxMu.Unlock()
			klog.V(2).InfoS("Command timed out", "command", binutil.EncodeHex(command), "timeout", d.config.RequestTimeout)
			return nil, ErrTransactionTimeout
		}
		r := <-p.done
		return r.reply, r.err
	case <-stopCh:
		d.forget(p)
		return nil, ErrDispatcherStopped
	}
}

// forget removes p from the pending list and reports whether it was
// still there.
func (d *Dispatcher) forget(p *pending) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.elem == nil {
		return false
	}
	d.pendings.Remove(p.elem)
	p.elem = nil
	return true
}

// release marks the exchange finished and frees the lock after the
// release delay.
func (d *Dispatcher) release(generation uint64) {
	d.mu.Lock()
	if d.lock.generation == generation {
		d.lock.processing = false
	}
	d.mu.Unlock()
	time.AfterFunc(d.config.ReleaseDelay, func() {
		d.mu.Lock()
		released := d.lock.release(generation)
		d.mu.Unlock()
		if released {
			d.signal()
		}
	})
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.stopped = true
	d.running = false
	d.state = Idle
	var dropped []*entry
	for el := d.queue.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		e.elem = nil
		dropped = append(dropped, e)
	}
	d.queue.Init()
	d.mu.Unlock()
	for _, e := range dropped {
		e.done <- result{err: ErrDispatcherStopped}
	}
	klog.V(1).InfoS("Stopped command dispatcher", "dropped", len(dropped))
}
