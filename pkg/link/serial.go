package link

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"harnscabinet/pkg/runtime/constant"
	"harnscabinet/pkg/utils/binutil"
	"k8s.io/klog/v2"
)

const (
	readTimeout = 50 * time.Millisecond
	readSize    = 300
)

// Port is the part of serial.Port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port; the default is go.bug.st/serial.
type Opener func(config constant.SerialConfig) (Port, error)

// Handler receives every chunk read from the port with its arrival time.
// Gap detection downstream relies on the timestamp.
type Handler func(chunk []byte, at time.Time)

type Option func(*SerialLink)

func WithOpener(opener Opener) Option {
	return func(l *SerialLink) {
		l.open = opener
	}
}

// SerialLink owns one physical port: it writes whole frames and pushes
// received bytes to a handler from a single reader goroutine.
type SerialLink struct {
	config  constant.SerialConfig
	open    Opener
	handler Handler

	mu   sync.Mutex
	port Port
	done chan struct{}
	wg   sync.WaitGroup
}

func NewSerialLink(config constant.SerialConfig, handler Handler, opts ...Option) *SerialLink {
	l := &SerialLink{
		config:  config,
		open:    openSerial,
		handler: handler,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func openSerial(config constant.SerialConfig) (Port, error) {
	parity, err := config.ParseParity()
	if err != nil {
		return nil, err
	}
	stopBits, err := config.ParseStopBits()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(config.Port, &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		Parity:   ParityToParity[parity],
		StopBits: StopBitsToStopBits[stopBits],
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (l *SerialLink) Config() constant.SerialConfig {
	return l.config
}

// Open is a no-op when the port is already open.
func (l *SerialLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}
	port, err := l.open(l.config)
	if err != nil {
		klog.V(2).InfoS("Failed to open serial port", "port", l.config.Port, "err", err)
		return errors.Wrapf(err, "open %s", l.config.Port)
	}
	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return errors.Wrapf(err, "set read timeout on %s", l.config.Port)
	}
	l.port = port
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.readLoop(port, l.done)
	klog.V(1).InfoS("Opened serial port", "config", l.config.String())
	return nil
}

func (l *SerialLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Send writes b as one frame.
func (l *SerialLink) Send(b []byte) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return ErrLinkUnavailable
	}
	n, err := port.Write(b)
	if err != nil {
		klog.V(2).InfoS("Failed to write byte to serial port", "port", l.config.Port, "err", err)
		l.drop(port)
		return errors.Wrap(ErrLinkUnavailable, err.Error())
	}
	klog.V(5).InfoS("Succeed to write byte to serial port", "bytes", binutil.EncodeHex(b), "length", n)
	return nil
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return nil
	}
	err := l.drop(port)
	l.wg.Wait()
	return err
}

// drop closes port if it is still the current one.
func (l *SerialLink) drop(port Port) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != port {
		return nil
	}
	l.port = nil
	close(l.done)
	return port.Close()
}

func (l *SerialLink) readLoop(port Port, done <-chan struct{}) {
	defer l.wg.Done()
	buf := make([]byte, readSize)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			klog.V(2).InfoS("Failed to read byte from serial port", "port", l.config.Port, "err", err)
			_ = l.drop(port)
			return
		}
		if n == 0 {
			continue
		}
		chunk := binutil.Dup(buf[:n])
		klog.V(5).InfoS("Received bytes", "port", l.config.Port, "bytes", binutil.EncodeHex(chunk))
		if l.handler != nil {
			l.handler(chunk, time.Now())
		}
	}
}
