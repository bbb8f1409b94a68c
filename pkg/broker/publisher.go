package broker

import (
	"context"
	"encoding/json"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/telemetry"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultTopicPrefix       = "harnscabinet"
	DefaultPublishTimeout    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	defaultQueueSize         = 256
	disconnectQuiesce        = 2000
)

type Config struct {
	URL         string `json:"url"`
	ClientID    string `json:"clientId"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix"`
}

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NewClient connects to the broker described by config. Reconnection is
// left to the paho client.
func NewClient(config Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.URL)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWriteTimeout(DefaultPublishTimeout)
	opts.OnConnect = func(mqtt.Client) {
		klog.V(1).InfoS("Connected to MQTT broker", "broker", config.URL, "clientId", config.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		klog.V(2).InfoS("Lost connection to MQTT broker", "broker", config.URL, "err", err)
	}

	client := mqtt.NewClient(opts)
	// with ConnectRetry the token completes once the first attempt is queued
	if token := client.Connect(); token.WaitTimeout(DefaultPublishTimeout) && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

type message struct {
	topic   string
	payload interface{}
}

type Option func(p *Publisher)

func WithTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		p.timeout = timeout
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(p *Publisher) {
		p.heartbeat = interval
	}
}

// Publisher mirrors snapshots, events and records to MQTT. Publishing is
// queued so callers never wait on the network; a full queue drops the
// message.
type Publisher struct {
	client    Client
	prefix    string
	unitID    string
	timeout   time.Duration
	heartbeat time.Duration
	queue     chan message
}

var (
	_ runtime.EventSink = (*Publisher)(nil)
	_ runtime.Persister = (*Publisher)(nil)
)

func NewPublisher(client Client, prefix, unitID string, opts ...Option) *Publisher {
	if len(prefix) == 0 {
		prefix = DefaultTopicPrefix
	}
	p := &Publisher{
		client:    client,
		prefix:    prefix,
		unitID:    unitID,
		timeout:   DefaultPublishTimeout,
		heartbeat: DefaultHeartbeatInterval,
		queue:     make(chan message, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) topic(parts ...string) string {
	return path.Join(append([]string{p.prefix, p.unitID}, parts...)...)
}

func (p *Publisher) enqueue(topic string, payload interface{}) {
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		klog.V(2).InfoS("Dropped MQTT message, queue full", "topic", topic)
	}
}

// Publish mirrors a telemetry snapshot.
func (p *Publisher) Publish(snap telemetry.Snapshot) {
	p.enqueue(p.topic("telemetry"), snap)
}

func (p *Publisher) Emit(event runtime.Event) {
	p.enqueue(p.topic("events", string(event.Type)), event)
}

// Persist mirrors a stored record. It never fails the caller.
func (p *Publisher) Persist(_ context.Context, record *runtime.Record) error {
	p.enqueue(p.topic("records", string(record.Kind)), record)
	return nil
}

// Run publishes queued messages and a periodic heartbeat until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		p.enqueue(p.topic("heartbeat"), map[string]interface{}{
			"unitId": p.unitID,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}, p.heartbeat)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			p.send(m)
		}
	}
}

func (p *Publisher) send(m message) {
	data, err := json.Marshal(m.payload)
	if err != nil {
		klog.V(2).InfoS("Failed to marshal MQTT payload", "topic", m.topic, "err", err)
		return
	}
	token := p.client.Publish(m.topic, 1, false, data)
	if token.WaitTimeout(p.timeout) && token.Error() == nil {
		klog.V(5).InfoS("Succeed to publish MQTT", "topic", m.topic)
	} else {
		klog.V(2).InfoS("Failed to publish MQTT", "topic", m.topic, "err", token.Error())
	}
}

// Disconnect closes client when it is a full paho client.
func Disconnect(client Client) {
	if c, ok := client.(mqtt.Client); ok {
		c.Disconnect(disconnectQuiesce)
	}
}
