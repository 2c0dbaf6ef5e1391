package virtio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMMIO struct {
	regs          map[uint32]uint32
	notifications []uint32
}

func newFakeMMIO() *fakeMMIO {
	return &fakeMMIO{regs: map[uint32]uint32{
		RegQueueNumMax: RingSize,
	}}
}

func (f *fakeMMIO) ReadReg32(offset uint32) uint32 { return f.regs[offset] }
func (f *fakeMMIO) WriteReg32(offset uint32, value uint32) {
	f.regs[offset] = value
	if offset == RegQueueNotify {
		f.notifications = append(f.notifications, value)
	}
}
func (f *fakeMMIO) Barrier() {}

func TestInitSequencesStatusToDriverOK(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)

	err := dev.Init()

	require.NoError(t, err)
	want := StatusAcknowledge | StatusDriver | StatusFeaturesOK | StatusDriverOK
	assert.Equal(t, want, mmio.regs[RegStatus])
}

func TestInitRejectsUndersizedQueueMax(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[RegQueueNumMax] = RingSize - 1
	dev := New(mmio)

	err := dev.Init()

	assert.Error(t, err)
}

func TestInitPopulatesAllRXBuffers(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())

	assert.Equal(t, uint16(RingSize), dev.rx.availIdx)
	for i := 0; i < RingSize; i++ {
		assert.Equal(t, int32(bufferQueued), dev.rxPool.states[i].Load())
	}
}

func TestPollRXReturnsCompletedFramesAndLoansBuffer(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())

	copy(dev.rxPool.frames[3][:], []byte("hello"))
	dev.rx.used[0] = usedElem{id: 3, len: 5}
	dev.rx.usedIdx = 1

	bufs, err := dev.PollRX(4)

	require.NoError(t, err)
	require.Len(t, bufs, 1)
	assert.Equal(t, "hello", string(bufs[0].Data()))
	assert.Equal(t, int32(bufferLoaned), dev.rxPool.states[3].Load())
}

func TestReleaseRequeuesRXBuffer(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())
	dev.rx.used[0] = usedElem{id: 3, len: 5}
	dev.rx.usedIdx = 1
	bufs, err := dev.PollRX(1)
	require.NoError(t, err)

	dev.Release(bufs[0])

	assert.Equal(t, int32(bufferQueued), dev.rxPool.states[3].Load())
}

func TestPollRXHonorsBudget(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())
	for i := uint16(0); i < 4; i++ {
		dev.rx.used[i] = usedElem{id: uint32(i), len: 1}
	}
	dev.rx.usedIdx = 4

	bufs, err := dev.PollRX(2)

	require.NoError(t, err)
	assert.Len(t, bufs, 2)
}

func TestEnqueueTXNotifiesDevice(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())

	err := dev.EnqueueTX([]byte("ping"))

	require.NoError(t, err)
	assert.Contains(t, mmio.notifications, queueTX)
}

func TestEnqueueTXRejectsOversizedFrame(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())

	err := dev.EnqueueTX(make([]byte, BufferBytes+1))

	assert.Error(t, err)
}

func TestEnqueueTXReturnsBusyWhenRingFull(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())
	for i := 0; i < RingSize; i++ {
		require.NoError(t, dev.EnqueueTX([]byte("x")))
	}

	err := dev.EnqueueTX([]byte("overflow"))

	assert.Error(t, err)
}

func TestServiceTXFreesCompletedBuffers(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())
	require.NoError(t, dev.EnqueueTX([]byte("x")))
	dev.tx.used[0] = usedElem{id: 0, len: 1}
	dev.tx.usedIdx = 1

	n := dev.ServiceTX(4)

	assert.Equal(t, 1, n)
	assert.Equal(t, int32(bufferFree), dev.txPool.states[0].Load())
}

func TestServiceTXPanicsOnOutOfRangeID(t *testing.T) {
	mmio := newFakeMMIO()
	dev := New(mmio)
	require.NoError(t, dev.Init())
	dev.tx.used[0] = usedElem{id: RingSize + 1, len: 1}
	dev.tx.usedIdx = 1

	assert.Panics(t, func() { dev.ServiceTX(1) })
}
