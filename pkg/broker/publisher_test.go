package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		ret = append(ret, m.topic)
	}
	return ret
}

func TestPublisherTopics(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "site", "unit1", WithHeartbeatInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Publish(telemetry.FromFields(map[string]string{telemetry.BreakerState: "1"}, time.Now()))
	p.Emit(runtime.Event{Type: runtime.EventOperation, Name: "breakerOn", Result: "succeeded"})
	rec, err := runtime.NewRecord(runtime.RecordCurve, map[string]int{"type": 1})
	require.NoError(t, err)
	require.NoError(t, p.Persist(ctx, rec))

	require.Eventually(t, func() bool { return len(client.topics()) >= 4 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"site/unit1/heartbeat",
		"site/unit1/telemetry",
		"site/unit1/events/operation",
		"site/unit1/records/curve",
	}, client.topics())

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, m := range client.msgs {
		if m.topic == "site/unit1/events/operation" {
			var e runtime.Event
			require.NoError(t, json.Unmarshal(m.payload, &e))
			assert.Equal(t, "breakerOn", e.Name)
		}
	}
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "", "unit1")
	for i := 0; i < defaultQueueSize+10; i++ {
		p.Emit(runtime.Event{Type: runtime.EventAlarm})
	}
	assert.Len(t, p.queue, defaultQueueSize)
}

func TestPublisherFailureDoesNotStop(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(client, "", "unit1", WithHeartbeatInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Emit(runtime.Event{Type: runtime.EventLink})
	p.Emit(runtime.Event{Type: runtime.EventLink})
	require.Eventually(t, func() bool { return len(client.topics()) >= 3 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, client.topics(), "harnscabinet/unit1/events/link")
}
