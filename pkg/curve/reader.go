package curve

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/protocol/modbusrtu"
	"k8s.io/klog/v2"
)

// Requester issues one on-demand read through the dispatcher.
type Requester interface {
	Enqueue(ctx context.Context, command []byte, policy modbusrtu.ParsePolicy) (*dispatcher.Reply, error)
}

// Reader pages a curve out of the controller: a three register header
// gives the valid range, then the samples follow in chunks. The header
// is unsigned; policy applies to the samples only.
type Reader struct {
	requester Requester
	slave     byte
	chunkSize int
	policy    modbusrtu.ParsePolicy
}

func NewReader(requester Requester, slave byte) *Reader {
	return &Reader{
		requester: requester,
		slave:     slave,
		chunkSize: ChunkSize,
		policy:    modbusrtu.Signed,
	}
}

func (r *Reader) ReadHeader(ctx context.Context, base uint16) (Header, error) {
	values, err := r.read(ctx, base, HeaderSize, modbusrtu.Unsigned)
	if err != nil {
		return Header{}, errors.Wrapf(err, "failed to read curve header at %#04x", base)
	}
	return Header{OperationCount: values[0], Start: values[1], End: values[2]}, nil
}

// checkRange rejects headers whose samples are empty or would run past
// the last register address.
func checkRange(ch Channel, header Header) error {
	if header.Start < 0 || header.End <= header.Start {
		return errors.Wrapf(ErrEmptyRange, "%s: start %d end %d", ch.Name, header.Start, header.End)
	}
	if last := int(ch.Base) + HeaderSize + header.End - 1; last > 0xFFFF {
		return errors.Wrapf(ErrRangeOverflow, "%s: start %d end %d", ch.Name, header.Start, header.End)
	}
	return nil
}

// Read returns every sample of ch in order. Any failed chunk fails the
// whole read.
func (r *Reader) Read(ctx context.Context, ch Channel) (*Series, error) {
	header, err := r.ReadHeader(ctx, ch.Base)
	if err != nil {
		return nil, err
	}
	if err = checkRange(ch, header); err != nil {
		return nil, err
	}
	length := header.Length()

	series := &Series{Channel: ch.Name, Header: header, Points: make([]Point, 0, length)}
	for offset := 0; offset < length; offset += r.chunkSize {
		count := r.chunkSize
		if remaining := length - offset; remaining < count {
			count = remaining
		}
		address := ch.Base + HeaderSize + uint16(header.Start+offset)
		values, err := r.read(ctx, address, count, r.policy)
		if err != nil {
			klog.V(2).InfoS("Failed to read curve chunk", "channel", ch.Name, "address", address, "count", count, "err", err)
			return nil, errors.Wrapf(err, "%s chunk at offset %d", ch.Name, offset)
		}
		for _, v := range values {
			i := len(series.Points)
			series.Points = append(series.Points, Point{Time: float64(i) * ch.Step, Value: v})
		}
	}
	series.ReadAt = time.Now()
	klog.V(3).InfoS("Read curve", "channel", ch.Name, "samples", length)
	return series, nil
}

func (r *Reader) read(ctx context.Context, address uint16, count int, policy modbusrtu.ParsePolicy) ([]int, error) {
	reply, err := r.requester.Enqueue(ctx, modbusrtu.ReadHoldingRegisters(r.slave, address, uint16(count)), policy)
	if err != nil {
		return nil, err
	}
	values := reply.Values()
	if len(values) < count {
		return nil, errors.Wrapf(ErrShortChunk, "got %d of %d registers", len(values), count)
	}
	return values[:count], nil
}
