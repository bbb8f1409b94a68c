package modbusrtu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"harnscabinet/pkg/protocol/modbusrtu/runtime"
)

func TestAssemblerWaitsForDeclaredLength(t *testing.T) {
	a := NewAssembler()
	reply := readReply(1, 1, 2, 3, 4)
	now := time.Now()

	for i := 0; i < len(reply)-1; i++ {
		frames := a.Feed(reply[i:i+1], now.Add(time.Duration(i)*time.Millisecond))
		assert.Empty(t, frames)
	}
	frames := a.Feed(reply[len(reply)-1:], now.Add(50*time.Millisecond))
	if assert.Len(t, frames, 1) {
		assert.Equal(t, reply, frames[0])
	}
	assert.Equal(t, 0, a.Buffered())
}

func TestAssemblerSplitsBackToBackFrames(t *testing.T) {
	a := NewAssembler()
	first := WriteSingleRegister(1, 0x3000, 1)
	second := readReply(1, 7)
	frames := a.Feed(append(append([]byte(nil), first...), second...), time.Now())
	assert.Equal(t, [][]byte{first, second}, frames)
}

func TestAssemblerResetsAfterGap(t *testing.T) {
	a := NewAssembler()
	reply := readReply(1, 1, 2)
	now := time.Now()

	a.Feed([]byte{0x01, 0x03, 0x10, 0x00}, now)
	assert.Equal(t, 4, a.Buffered())

	frames := a.Feed(reply, now.Add(DefaultFrameGap+time.Millisecond))
	if assert.Len(t, frames, 1) {
		assert.Equal(t, reply, frames[0])
	}
}

func TestAssemblerClearsOverflow(t *testing.T) {
	a := NewAssembler()
	junk := make([]byte, runtime.MaxBufferSize+1)
	for i := range junk {
		junk[i] = 0x55
	}
	assert.Empty(t, a.Feed(junk, time.Now()))
	assert.Equal(t, 0, a.Buffered())
	assert.Equal(t, uint64(1), a.Dropped())
}
