package cabinet

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/alarm"
	"harnscabinet/pkg/broker"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/curve"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/generic"
	"harnscabinet/pkg/link"
	"harnscabinet/pkg/protocol/frame68"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/remote"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/storage"
	"harnscabinet/pkg/system"
	"harnscabinet/pkg/telemetry"
	"harnscabinet/pkg/utils/fileutil"
	"k8s.io/apimachinery/pkg/types"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const lockFile = "cabinet.lock"

var ErrAlreadyRunning = errors.New("another cabinet instance holds the store lock")

type Option func(*Manager)

func WithModbusOpener(opener link.Opener) Option {
	return func(m *Manager) {
		m.modbusOpts = append(m.modbusOpts, link.WithOpener(opener))
	}
}

func WithRemoteOpener(opener link.Opener) Option {
	return func(m *Manager) {
		m.remoteOpts = append(m.remoteOpts, link.WithOpener(opener))
	}
}

// WithMQTTClient publishes through client instead of dialing Config.MQTT.
func WithMQTTClient(client broker.Client) Option {
	return func(m *Manager) {
		m.mqttClient = client
	}
}

// Manager owns the links and every control component, and wires their
// events, records and snapshots together.
type Manager struct {
	config     Config
	root       string
	modbusOpts []link.Option
	remoteOpts []link.Option

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	instance   fileutil.Releaser
	system     *system.Manager
	records    *generic.RecordStore
	hub        *Hub
	mqttClient broker.Client
	publisher  *broker.Publisher
	events     runtime.EventSink
	persister  runtime.Persister

	snapshots  *telemetry.Store
	modbusLink *link.SerialLink
	remoteLink *link.SerialLink
	dispatcher *dispatcher.Dispatcher
	sampler    *telemetry.Sampler
	acquirer   *curve.Acquirer
	ops        *control.OperationController
	plans      *control.SequentialController
	router     *remote.Router
	alarms     *alarm.Evaluator

	closers []runtime.LabeledCloser
}

func NewManager(config Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config: config,
		root:   config.StoreRoot,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
	if len(m.root) == 0 {
		m.root = storage.DefaultStorePath()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init builds every component. Nothing touches the serial ports until Run.
func (m *Manager) Init() error {
	if err := os.MkdirAll(m.root, 0711); err != nil {
		return errors.Wrap(err, "create store root")
	}
	instance, err := fileutil.LockFile(filepath.Join(m.root, lockFile))
	if err != nil {
		return errors.Wrap(ErrAlreadyRunning, err.Error())
	}
	m.instance = instance
	m.addCloser("instance lock", func(context.Context) error { return m.instance.Release() })

	m.system = system.NewManager(m.root)
	if err = m.system.Init(); err != nil {
		return err
	}
	unit := m.system.GetUnitMeta()

	if m.records, err = generic.NewRecordStore(m.root, m.config.Retention); err != nil {
		return err
	}
	m.hub = NewHub()

	sinks := runtime.EventSinks{runtime.EventSinkFunc(m.recordEvent), m.hub}
	persisters := []runtime.Persister{m.records}
	if err = m.initBroker(unit.ID); err != nil {
		return err
	}
	if m.publisher != nil {
		sinks = append(sinks, m.publisher)
		persisters = append(persisters, m.publisher)
	}
	m.events = sinks
	m.persister = runtime.PersisterFunc(func(ctx context.Context, record *runtime.Record) error {
		var errs []error
		for _, p := range persisters {
			if err := p.Persist(ctx, record); err != nil {
				errs = append(errs, err)
			}
		}
		return utilerrors.NewAggregate(errs)
	})

	m.snapshots = telemetry.NewStore()
	m.modbusLink = link.NewSerialLink(m.config.ModbusLink, func(chunk []byte, at time.Time) {
		m.dispatcher.OnBytes(chunk, at)
	}, m.modbusOpts...)

	dc := m.config.Dispatcher
	if m.config.Slave != 0 && m.config.Slave != dispatcher.DefaultSlave {
		dc.PollCommand = modbusrtu.ReadHoldingRegisters(m.config.Slave, dispatcher.DefaultPollRegister, uint16(telemetry.FieldCount))
	}
	m.dispatcher = dispatcher.New(m.modbusLink, dc,
		dispatcher.WithSnapshotSink(m.snapshots),
		dispatcher.WithEventSink(m.events),
	)

	slave := m.config.Slave
	if slave == 0 {
		slave = dispatcher.DefaultSlave
	}
	m.acquirer = curve.NewAcquirer(m.ctx, curve.NewReader(m.dispatcher, slave), m.snapshots, m.persister,
		curve.WithConfig(m.config.Curve),
		curve.WithEventSink(m.events),
	)
	m.ops = control.NewOperationController(m.dispatcher, m.snapshots, m.config.Delays,
		control.WithGuard(control.NewGuard()),
		control.WithCurveTrigger(m.acquirer),
		control.WithEventSink(m.events),
		control.WithSlave(slave),
	)
	m.plans = control.NewSequentialController(m.ops)

	if len(m.config.RemoteLink.Port) != 0 {
		layout, ok := StringToLayout[m.config.RemoteLayout]
		if !ok {
			return errors.Errorf("unsupported remote frame layout %q", m.config.RemoteLayout)
		}
		m.router = remote.NewRouter(m.ctx, layout, m.ops, m.plans, remote.WithEventSink(m.events))
		m.remoteLink = link.NewSerialLink(m.config.RemoteLink, m.router.OnBytes, m.remoteOpts...)
	}

	m.sampler = telemetry.NewSampler(m.snapshots, m.persister, m.config.SampleInterval)
	m.alarms = alarm.NewEvaluator(m.config.Thresholds, m.events)
	klog.V(1).InfoS("Initialized cabinet", "unitId", unit.ID, "store", m.root, "modbus", m.config.ModbusLink.String())
	return nil
}

func (m *Manager) initBroker(unitID string) error {
	if m.mqttClient == nil && m.config.MQTT != nil && len(m.config.MQTT.URL) != 0 {
		config := *m.config.MQTT
		if len(config.ClientID) == 0 {
			config.ClientID = unitID
		}
		client, err := broker.NewClient(config)
		if err != nil {
			return errors.Wrap(err, "connect MQTT broker")
		}
		m.mqttClient = client
		m.addCloser("mqtt", func(context.Context) error {
			broker.Disconnect(client)
			return nil
		})
	}
	if m.mqttClient == nil {
		return nil
	}
	prefix := ""
	if m.config.MQTT != nil {
		prefix = m.config.MQTT.TopicPrefix
	}
	m.publisher = broker.NewPublisher(m.mqttClient, prefix, unitID)
	return nil
}

func (m *Manager) addCloser(label string, closer func(context.Context) error) {
	m.closers = append(m.closers, runtime.LabeledCloser{Label: label, Closer: closer})
}

func (m *Manager) recordEvent(event runtime.Event) {
	rec, err := runtime.NewRecord(runtime.RecordEvent, event)
	if err != nil {
		klog.V(2).InfoS("Failed to build event record", "event", event.Name, "err", err)
		return
	}
	if err = m.records.Persist(m.ctx, rec); err != nil {
		klog.V(2).InfoS("Failed to persist event", "event", event.Name, "err", err)
	}
}

func (m *Manager) goUntil(f func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f(m.ctx)
	}()
}

// Run starts the links and background loops and returns immediately.
func (m *Manager) Run() {
	m.goUntil(func(context.Context) { m.dispatcher.Run(m.stopCh) })
	m.goUntil(func(ctx context.Context) { m.keepOpen(ctx, "modbus", m.modbusLink) })
	m.addCloser("modbus link", func(context.Context) error { return m.modbusLink.Close() })
	if m.remoteLink != nil {
		m.goUntil(func(ctx context.Context) { m.keepOpen(ctx, "remote", m.remoteLink) })
		m.addCloser("remote link", func(context.Context) error { return m.remoteLink.Close() })
	}

	m.goUntil(m.sampler.Run)
	m.goUntil(func(ctx context.Context) { m.alarms.Run(ctx, m.snapshots) })
	m.goUntil(func(ctx context.Context) { m.mirror(ctx, m.hub) })
	if m.publisher != nil {
		m.goUntil(m.publisher.Run)
		m.goUntil(func(ctx context.Context) { m.mirror(ctx, m.publisher) })
	}

	m.goUntil(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, defaultFirstSnapshotWait)
		defer cancel()
		snap, err := m.snapshots.WaitFor(ctx, func(s telemetry.Snapshot) bool { return !s.IsZero() })
		if err != nil {
			klog.V(2).InfoS("No telemetry received yet", "waited", defaultFirstSnapshotWait)
			return
		}
		klog.V(1).InfoS("Received first telemetry snapshot", "updateTime", snap.UpdateTime())
	})
}

// mirror forwards every published snapshot to sink.
func (m *Manager) mirror(ctx context.Context, sink dispatcher.SnapshotSink) {
	ch, cancel := m.snapshots.Subscribe(1)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			sink.Publish(snap)
		}
	}
}

// keepOpen reopens l whenever it is closed and reports transitions as
// link events.
func (m *Manager) keepOpen(ctx context.Context, name string, l *link.SerialLink) {
	interval := m.config.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	wasOpen := false
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if l.IsOpen() {
			return
		}
		if wasOpen {
			wasOpen = false
			m.events.Emit(runtime.Event{Type: runtime.EventLink, Name: name, Result: "lost", Message: l.Config().Port, Time: time.Now()})
		}
		if err := l.Open(); err != nil {
			return
		}
		wasOpen = true
		m.events.Emit(runtime.Event{Type: runtime.EventLink, Name: name, Result: "opened", Message: l.Config().Port, Time: time.Now()})
	}, interval)
}

// Shutdown stops every loop and closes the links, the broker connection
// and the instance lock, in reverse order of acquisition.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	close(m.stopCh)
	m.ops.Cancel()
	if m.router != nil {
		m.router.Wait()
	}
	m.acquirer.Wait()
	m.wg.Wait()
	m.hub.Close()

	var errs []error
	for i := len(m.closers); i > 0; i-- {
		lc := m.closers[i-1]
		if err := lc.Closer(ctx); err != nil {
			klog.V(2).InfoS("Failed to close", "closer", lc.Label, "err", err)
			errs = append(errs, errors.Wrap(err, lc.Label))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (m *Manager) Snapshot() telemetry.Snapshot {
	return m.snapshots.Latest()
}

func (m *Manager) Execute(action control.Action) (*control.Outcome, error) {
	return m.ops.Execute(m.ctx, action)
}

func (m *Manager) RunPlan(name string) (*control.PlanReport, error) {
	plan, err := control.PlanByName(name)
	if err != nil {
		return nil, err
	}
	return m.plans.Run(m.ctx, plan)
}

// Cancel stops the running action or plan and reports what was running.
func (m *Manager) Cancel() (string, bool) {
	owner, busy := m.ops.Busy()
	if !busy {
		return "", false
	}
	return owner, m.ops.Cancel()
}

func (m *Manager) Delays() control.DelayConfig {
	return m.ops.Config()
}

func (m *Manager) PatchDelays(patchType types.PatchType, patch []byte) (control.DelayConfig, error) {
	patched, err := control.ApplyPatch(m.ops.Config(), patchType, patch)
	if err != nil {
		return control.DelayConfig{}, err
	}
	if err = m.ops.UpdateConfig(patched); err != nil {
		return control.DelayConfig{}, err
	}
	return patched, nil
}

func (m *Manager) Alarms() []alarm.Alarm {
	return m.alarms.Active()
}

func (m *Manager) Records(kind runtime.RecordKind, limit int) ([]*runtime.Record, error) {
	return m.records.Load(kind, limit)
}

type Diagnostics struct {
	dispatcher.Status
	Links  map[string]bool             `json:"links"`
	Remote *frame68.StatisticsSnapshot `json:"remote,omitempty"`
	Stream int                         `json:"streamClients"`
}

func (m *Manager) Diagnostics() Diagnostics {
	d := Diagnostics{
		Status: m.dispatcher.Status(),
		Links:  map[string]bool{"modbus": m.modbusLink.IsOpen()},
		Stream: m.hub.Clients(),
	}
	if m.router != nil {
		stats := m.router.Statistics()
		d.Remote = &stats
		d.Links["remote"] = m.remoteLink.IsOpen()
	}
	return d
}

func (m *Manager) ResetLock() {
	m.dispatcher.ResetLock()
}

func (m *Manager) System() *system.Manager {
	return m.system
}

func (m *Manager) Hub() *Hub {
	return m.hub
}
