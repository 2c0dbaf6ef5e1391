package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeedThenReadByteDrainsInOrder(t *testing.T) {
	p := NewBufferedPort()
	p.Feed([]byte("hi"))

	b1, ok1 := p.ReadByte()
	b2, ok2 := p.ReadByte()
	_, ok3 := p.ReadByte()

	assert.True(t, ok1)
	assert.Equal(t, byte('h'), b1)
	assert.True(t, ok2)
	assert.Equal(t, byte('i'), b2)
	assert.False(t, ok3)
}

func TestFeedOverCapacityDropsOldestBytes(t *testing.T) {
	p := NewBufferedPort()
	overflow := make([]byte, bufferedPortCapacity+3)
	for i := range overflow {
		overflow[i] = byte(i % 256)
	}

	p.Feed(overflow)
	first, ok := p.ReadByte()

	assert.True(t, ok)
	assert.Equal(t, overflow[3], first)
}

func TestWriteByteThenDrainRoundTrips(t *testing.T) {
	p := NewBufferedPort()
	for _, b := range []byte("ack") {
		assert.True(t, p.WriteByte(b))
	}

	out := make([]byte, 8)
	n := p.Drain(out)

	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("ack"), out[:n])
}

func TestWriteByteRejectsWhenTXBufferFull(t *testing.T) {
	p := NewBufferedPort()
	for i := 0; i < bufferedPortCapacity; i++ {
		require := p.WriteByte(byte(i))
		assert.True(t, require)
	}

	assert.False(t, p.WriteByte(0xFF))
}
