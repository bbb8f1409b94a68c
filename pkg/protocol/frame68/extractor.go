package frame68

import (
	"bytes"
	"time"

	"go.uber.org/atomic"
	"harnscabinet/pkg/utils/crcutil"
	"k8s.io/klog/v2"
)

const (
	// MaxBufferSize caps the receive buffer; older bytes are dropped first.
	MaxBufferSize   = 512
	DefaultFrameGap = 200 * time.Millisecond
)

// Statistics counts anomalies that are recovered locally.
type Statistics struct {
	Frames         atomic.Uint64
	ChecksumErrors atomic.Uint64
	Malformed      atomic.Uint64
	Overflows      atomic.Uint64
}

type StatisticsSnapshot struct {
	Frames         uint64 `json:"frames"`
	ChecksumErrors uint64 `json:"checksumErrors"`
	Malformed      uint64 `json:"malformed"`
	Overflows      uint64 `json:"overflows"`
}

func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Frames:         s.Frames.Load(),
		ChecksumErrors: s.ChecksumErrors.Load(),
		Malformed:      s.Malformed.Load(),
		Overflows:      s.Overflows.Load(),
	}
}

// Extractor pulls frames out of a streaming buffer. DATA may contain the
// END byte, so every END candidate is tried until the checksum matches.
// Not safe for concurrent use.
type Extractor struct {
	layout Layout
	buf    []byte
	last   time.Time
	gap    time.Duration
	max    int
	stats  Statistics
}

func NewExtractor(layout Layout) *Extractor {
	return &Extractor{
		layout: layout,
		gap:    DefaultFrameGap,
		max:    MaxBufferSize,
	}
}

func (e *Extractor) Statistics() StatisticsSnapshot {
	return e.stats.Snapshot()
}

func (e *Extractor) Buffered() int {
	return len(e.buf)
}

func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
}

// Feed appends chunk received at the given instant and returns the frames
// completed by it.
func (e *Extractor) Feed(chunk []byte, at time.Time) []Message {
	if len(e.buf) > 0 && !e.last.IsZero() && at.Sub(e.last) > e.gap {
		klog.V(4).InfoS("Discarded stale frame68 bytes", "size", len(e.buf), "gap", at.Sub(e.last))
		e.buf = e.buf[:0]
	}
	e.last = at
	e.buf = append(e.buf, chunk...)

	var (
		messages []Message
		keep     = -1
		from     int
	)
	for {
		i := bytes.IndexByte(e.buf[from:], Start)
		if i < 0 {
			break
		}
		s := from + i
		end, v := e.findEnd(s)
		switch v {
		case accepted:
			messages = append(messages, e.layout.decode(e.buf[s:end]))
			e.stats.Frames.Inc()
			// an unfinished START before this frame can no longer complete
			keep = -1
			from = end
			continue
		case pending:
			if keep < 0 {
				keep = s
			}
		case badChecksum:
			e.stats.ChecksumErrors.Inc()
			klog.V(4).InfoS("Skipped frame68 start without valid end", "offset", s)
		case badLength:
			e.stats.Malformed.Inc()
			klog.V(4).InfoS("Dropped frame68 with checksum match but wrong length", "offset", s)
		}
		from = s + 1
	}

	// bytes before the first unfinished START can never form a frame
	cut := len(e.buf)
	if keep >= 0 {
		cut = keep
	}
	e.buf = append(e.buf[:0], e.buf[cut:]...)

	if len(e.buf) > e.max {
		e.stats.Overflows.Inc()
		klog.V(2).InfoS("Frame68 buffer overflow, dropped oldest bytes", "dropped", len(e.buf)-e.max)
		e.buf = append(e.buf[:0], e.buf[len(e.buf)-e.max:]...)
	}
	return messages
}

type verdict int

const (
	pending verdict = iota
	accepted
	badChecksum
	badLength
)

// findEnd tests END candidates after the START at s. A candidate is
// accepted when the checksum over START..DATA matches and the DATA length
// equals LEN. Once the buffer holds the whole LEN implied frame and no
// candidate was accepted, the START is rejected.
func (e *Extractor) findEnd(s int) (int, verdict) {
	h := e.layout.headerSize()
	if len(e.buf)-s < h+2 {
		return 0, pending
	}
	declared := int(e.buf[s+h-1])
	implied := h + declared + 2

	lengthMismatch := false
	for pos := s + h + 1; pos < len(e.buf); pos++ {
		if e.buf[pos] != End {
			continue
		}
		csAt := pos - 1
		if crcutil.Sum8(e.buf[s:csAt]) != e.buf[csAt] {
			continue
		}
		if csAt-(s+h) != declared {
			lengthMismatch = true
			continue
		}
		return pos + 1, accepted
	}

	if len(e.buf)-s < implied {
		return 0, pending
	}
	if lengthMismatch {
		return 0, badLength
	}
	return 0, badChecksum
}
