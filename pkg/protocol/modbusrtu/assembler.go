package modbusrtu

import (
	"time"

	"go.uber.org/atomic"
	"harnscabinet/pkg/protocol/modbusrtu/runtime"
	"harnscabinet/pkg/utils/binutil"
	"k8s.io/klog/v2"
)

// DefaultFrameGap is the silence after which buffered bytes are stale.
const DefaultFrameGap = 200 * time.Millisecond

// Assembler turns receive callbacks into complete CRC-valid ADUs. It is
// not safe for concurrent use; the dispatcher owns one per link.
type Assembler struct {
	buf     []byte
	last    time.Time
	gap     time.Duration
	max     int
	dropped atomic.Uint64
}

func NewAssembler() *Assembler {
	return &Assembler{
		gap: DefaultFrameGap,
		max: runtime.MaxBufferSize,
	}
}

// Feed appends chunk received at the given instant and returns every
// complete frame now available, oldest first.
func (a *Assembler) Feed(chunk []byte, at time.Time) [][]byte {
	if len(a.buf) > 0 && !a.last.IsZero() && at.Sub(a.last) > a.gap {
		klog.V(4).InfoS("Discarded stale rtu bytes", "bytes", binutil.EncodeHex(a.buf), "gap", at.Sub(a.last))
		a.buf = a.buf[:0]
	}
	a.last = at
	a.buf = append(a.buf, chunk...)

	var frames [][]byte
	for len(a.buf) >= 4 {
		n := a.complete()
		if n == 0 {
			break
		}
		frames = append(frames, binutil.Dup(a.buf[:n]))
		a.buf = append(a.buf[:0], a.buf[n:]...)
	}

	if len(a.buf) > a.max {
		klog.V(2).InfoS("Rtu buffer overflow with invalid CRC, cleared", "size", len(a.buf))
		a.dropped.Inc()
		a.buf = a.buf[:0]
	}
	return frames
}

// complete returns the length of a valid frame at the head of the
// buffer, or 0 if more bytes are needed.
func (a *Assembler) complete() int {
	n := expectedLength(a.buf)
	if n == 0 {
		if ValidCrc(a.buf) {
			return len(a.buf)
		}
		return 0
	}
	if len(a.buf) >= n && ValidCrc(a.buf[:n]) {
		return n
	}
	if a.buf[1] == runtime.FunctionCodeReadHoldingRegisters {
		w := 4 + int(binutil.ParseUint16BigEndian(a.buf[2:4])) + crcSize
		if w <= a.max && len(a.buf) >= w && ValidCrc(a.buf[:w]) {
			return w
		}
	}
	return 0
}

// Reset drops any partial frame.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Buffered returns the number of bytes waiting for completion.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Dropped counts buffers discarded for overflow.
func (a *Assembler) Dropped() uint64 {
	return a.dropped.Load()
}
