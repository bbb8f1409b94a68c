package cabinet

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/klog/v2"
)

const (
	EnvelopeSnapshot = "snapshot"
	EnvelopeEvent    = "event"

	streamBuffer     = 32
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Envelope is one message on the live stream.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans snapshots and events out to WebSocket clients. A client that
// cannot keep up loses messages rather than slowing the others.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan Envelope]struct{}
}

var _ runtime.EventSink = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the touchscreen page is served from another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[chan Envelope]struct{}),
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(snap telemetry.Snapshot) {
	h.broadcast(Envelope{Type: EnvelopeSnapshot, Data: snap})
}

func (h *Hub) Emit(event runtime.Event) {
	h.broadcast(Envelope{Type: EnvelopeEvent, Data: event})
}

func (h *Hub) broadcast(e Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
			klog.V(4).InfoS("Dropped stream message for slow client", "type", e.Type)
		}
	}
}

func (h *Hub) register() chan Envelope {
	ch := make(chan Envelope, streamBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan Envelope) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// Serve upgrades the request and streams until the client goes away. The
// latest snapshot, if any, is sent first.
func (h *Hub) Serve(c *gin.Context, latest telemetry.Snapshot) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.V(2).InfoS("Failed to upgrade stream", "err", err)
		return
	}
	defer conn.Close()

	ch := h.register()
	defer h.unregister(ch)
	klog.V(3).InfoS("Stream client connected", "remote", c.Request.RemoteAddr)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e Envelope) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			klog.V(3).InfoS("Stream client write failed", "err", err)
			return false
		}
		return true
	}
	if !latest.IsZero() && !write(Envelope{Type: EnvelopeSnapshot, Data: latest}) {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			klog.V(3).InfoS("Stream client disconnected", "remote", c.Request.RemoteAddr)
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(streamWriteWait))
				return
			}
			if !write(e) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
