package cabinet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/curve"
	"harnscabinet/pkg/link"
	"harnscabinet/pkg/protocol/modbusrtu"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/runtime/constant"
	"harnscabinet/pkg/telemetry"
	"harnscabinet/pkg/utils/binutil"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// switchgearPort simulates the controller behind the Modbus link: it
// answers telemetry and curve reads and moves the breaker on command.
type switchgearPort struct {
	mu     sync.Mutex
	regs   []uint16
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func fieldIndex(name string) int {
	for i, n := range telemetry.FieldNames {
		if n == name {
			return i
		}
	}
	panic(name)
}

func newSwitchgearPort() *switchgearPort {
	p := &switchgearPort{
		regs:   make([]uint16, telemetry.FieldCount),
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	p.regs[fieldIndex(telemetry.ChassisPosition)] = 1
	p.regs[fieldIndex(telemetry.EnergyStorageState)] = 1
	p.regs[fieldIndex(telemetry.ClosingOperationsNum)] = 7
	return p
}

func (p *switchgearPort) read(start, count uint16) []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	words := make([]uint16, count)
	switch {
	case start == 0x1000:
		copy(words, p.regs)
	case start&0x0fff == 0 && count == curve.HeaderSize:
		copy(words, []uint16{4, 0, 4})
	default:
		for i := range words {
			words[i] = uint16(i + 1)
		}
	}
	return words
}

func (p *switchgearPort) Write(b []byte) (int, error) {
	var reply []byte
	switch b[1] {
	case 0x03:
		start := binutil.ParseUint16BigEndian(b[2:4])
		count := binutil.ParseUint16BigEndian(b[4:6])
		payload := []byte{byte(count * 2)}
		for _, w := range p.read(start, count) {
			payload = append(payload, byte(w>>8), byte(w))
		}
		reply = modbusrtu.Encode(b[0], 0x03, payload)
	case 0x06:
		if action, ok := control.ActionFromCommand(b); ok {
			p.mu.Lock()
			switch action {
			case control.BreakerOn:
				p.regs[fieldIndex(telemetry.BreakerState)] = 1
				p.regs[fieldIndex(telemetry.ClosingOperationsNum)]++
			case control.BreakerOff:
				p.regs[fieldIndex(telemetry.BreakerState)] = 0
				p.regs[fieldIndex(telemetry.OpeningOperationsNum)]++
			}
			p.mu.Unlock()
		}
		reply = binutil.Dup(b)
	}
	select {
	case p.in <- reply:
	case <-p.closed:
	}
	return len(b), nil
}

func (p *switchgearPort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.EOF
	case chunk := <-p.in:
		return copy(b, chunk), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *switchgearPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *switchgearPort) SetReadTimeout(time.Duration) error { return nil }

func ms(n int) metav1.Duration {
	return metav1.Duration{Duration: time.Duration(n) * time.Millisecond}
}

func testConfig(root string) Config {
	c := DefaultConfig()
	c.StoreRoot = root
	c.ModbusLink = constant.DefaultSerialConfig("sim0")
	c.ReconnectInterval = 10 * time.Millisecond
	c.SampleInterval = 20 * time.Millisecond

	c.Dispatcher.PollInterval = 20 * time.Millisecond
	c.Dispatcher.Spacing = time.Millisecond
	c.Dispatcher.RequestTimeout = 200 * time.Millisecond
	c.Dispatcher.ReleaseDelay = time.Millisecond
	c.Dispatcher.ResumeDelay = time.Millisecond

	c.Delays.StopBeforeCommand = ms(1)
	c.Delays.StartAfterCommand = ms(1)
	c.Delays.ScanInterval = ms(10)
	c.Delays.CurveDelay = ms(1)
	c.Delays.Settle = control.ActionDelays{}
	c.Delays.Fault.BreakerOn = ms(1000)
	c.Delays.Fault.BreakerOff = ms(1000)

	c.Curve.EnergyPoll = 5 * time.Millisecond
	c.Curve.EnergySettle = time.Millisecond
	return c
}

func startManager(t *testing.T) (*Manager, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	port := newSwitchgearPort()
	m := NewManager(testConfig(t.TempDir()), WithModbusOpener(func(constant.SerialConfig) (link.Port, error) {
		return port, nil
	}))
	require.NoError(t, m.Init())
	m.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
	})

	engine := gin.New()
	InstallHandler(engine.Group("/api/v1"), m)
	return m, engine
}

func do(engine *gin.Engine, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestBreakerOnOverHTTP(t *testing.T) {
	m, engine := startManager(t)

	require.Eventually(t, func() bool {
		return do(engine, http.MethodGet, "/api/v1/snapshot", nil, "").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	w := do(engine, http.MethodPost, "/api/v1/operations/breaker-on", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var outcome control.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, control.Succeeded, outcome.Result)
	assert.Equal(t, 7, outcome.BeforeCount)
	assert.Equal(t, 8, outcome.AfterCount)
	assert.True(t, m.Snapshot().BreakerClosed())

	// breaker already closed
	w = do(engine, http.MethodPost, "/api/v1/operations/breakerOn", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Eventually(t, func() bool {
		recs, err := m.Records(runtime.RecordCurve, 0)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = do(engine, http.MethodGet, "/api/v1/records/event?limit=50", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Records []*runtime.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	var names []string
	for _, rec := range events.Records {
		var e runtime.Event
		require.NoError(t, json.Unmarshal(rec.Payload, &e))
		names = append(names, string(e.Type)+":"+e.Name+":"+e.Result)
	}
	assert.Contains(t, names, "operation:breakerOn:succeeded")
	assert.Contains(t, names, "link:modbus:opened")
}

func TestHandlersRejectBadRequests(t *testing.T) {
	_, engine := startManager(t)

	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodPost, "/api/v1/operations/fly", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodPost, "/api/v1/plans/nope", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodGet, "/api/v1/records/bogus", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/api/v1/records/event?limit=x", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, do(engine, http.MethodDelete, "/api/v1/operations", nil, "").Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, do(engine, http.MethodPatch, "/api/v1/config/delays", []byte(`{}`), "text/plain").Code)
}

func TestPatchDelays(t *testing.T) {
	m, engine := startManager(t)

	w := do(engine, http.MethodPatch, "/api/v1/config/delays", []byte(`{"nextStepDelay":"2s","fault":{"chassisIn":40000}}`), "application/merge-patch+json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2*time.Second, m.Delays().NextStepDelay.Duration)
	assert.Equal(t, 40*time.Second, m.Delays().Fault.ChassisIn.Duration)

	w = do(engine, http.MethodPatch, "/api/v1/config/delays", []byte(`{"scanInterval":"0s"}`), "application/merge-patch+json")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(engine, http.MethodPatch, "/api/v1/config/delays", []byte(`{nope`), "application/merge-patch+json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2*time.Second, m.Delays().NextStepDelay.Duration)
}

func TestDiagnosticsAndLockReset(t *testing.T) {
	_, engine := startManager(t)

	require.Eventually(t, func() bool {
		w := do(engine, http.MethodGet, "/api/v1/dispatcher", nil, "")
		var d Diagnostics
		return w.Code == http.StatusOK && json.Unmarshal(w.Body.Bytes(), &d) == nil && d.Links["modbus"] && d.Polls > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, do(engine, http.MethodDelete, "/api/v1/dispatcher/lock", nil, "").Code)
}

func TestSecondInstanceRejected(t *testing.T) {
	root := t.TempDir()
	first := NewManager(testConfig(root))
	require.NoError(t, first.Init())
	defer first.instance.Release()

	second := NewManager(testConfig(root))
	assert.ErrorIs(t, second.Init(), ErrAlreadyRunning)
}
