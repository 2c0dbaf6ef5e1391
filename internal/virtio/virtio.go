// Package virtio implements a deterministic modern-mode (v2) virtio-mmio
// network driver: bounded descriptor rings, pre-allocated DMA-style
// buffer pools, and the register status sequencing spec.md §4.7 requires.
// The MMIO region itself is an out-of-scope seL4 collaborator — this
// package defines it as an interface instead of touching real hardware.
//
// Grounded on go-ublk's internal/queue.Runner: the mmap'd descriptor
// array, atomic status tracking per buffer slot, and the "buffers are
// loaned out and only re-queued after the caller releases them"
// discipline come directly from its tagStates/FETCH_REQ lifecycle,
// replacing ublk's single command queue with paired RX/TX virtqueues.
package virtio

import (
	"sync/atomic"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/logger"
)

// MMIORegion is the virtio-mmio register window. Real hardware access is
// a root-task/seL4 concern outside this module; tests and the pump wire
// a fake or real implementation through this seam.
type MMIORegion interface {
	ReadReg32(offset uint32) uint32
	WriteReg32(offset uint32, value uint32)
	// Barrier issues the DSB/ISB pair spec.md §4.7 requires bracketing
	// every MMIO notify.
	Barrier()
}

// Register offsets, virtio-mmio v2 (modern) layout.
const (
	RegDeviceFeatures    uint32 = 0x010
	RegDriverFeatures    uint32 = 0x020
	RegQueueSel          uint32 = 0x030
	RegQueueNumMax       uint32 = 0x034
	RegQueueNum          uint32 = 0x038
	RegQueueReady        uint32 = 0x044
	RegQueueNotify       uint32 = 0x050
	RegInterruptStatus   uint32 = 0x060
	RegInterruptACK      uint32 = 0x064
	RegStatus            uint32 = 0x070
	RegQueueDescLow      uint32 = 0x080
	RegQueueDescHigh     uint32 = 0x084
	RegQueueDriverLow    uint32 = 0x090
	RegQueueDriverHigh   uint32 = 0x094
	RegQueueDeviceLow    uint32 = 0x0A0
	RegQueueDeviceHigh   uint32 = 0x0A4
)

// Status bits (virtio spec §2.1).
const (
	StatusAcknowledge      uint32 = 1
	StatusDriver           uint32 = 2
	StatusDriverOK         uint32 = 4
	StatusFeaturesOK       uint32 = 8
	StatusDeviceNeedsReset uint32 = 64
	StatusFailed           uint32 = 128
)

const (
	// RingSize is the fixed RX and TX descriptor count (spec.md §4.7).
	RingSize = 16
	// BufferBytes is the fixed size of each DMA frame.
	BufferBytes = 1536
)

const (
	queueRX uint32 = 0
	queueTX uint32 = 1
)

// bufferState tracks ownership of one slot in a BufferPool.
type bufferState int32

const (
	bufferFree bufferState = iota
	bufferQueued
	bufferLoaned
)

// BufferPool is a fixed pre-allocated set of DMA-style frames, standing
// in for page-aligned physical memory the root task would actually hand
// the device. Index i's physical address is simulated as i itself —
// real address translation is a root-task concern this module does not
// own.
type BufferPool struct {
	frames [RingSize][BufferBytes]byte
	states [RingSize]atomic.Int32
}

func newBufferPool() *BufferPool {
	return &BufferPool{}
}

func (p *BufferPool) addrOf(idx uint16) uint64 { return uint64(idx) }

// addrToIndex validates that addr names a real slot in this pool —
// spec.md §4.7: descriptor addresses outside the declared pool are
// fatal assertions, since a stray address means the driver or device
// corrupted ring state.
func (p *BufferPool) addrToIndex(addr uint64) uint16 {
	if addr >= RingSize {
		panic(cerr.Newf(cerr.Invalid, "virtio: descriptor address %d outside declared buffer pool", addr))
	}
	return uint16(addr)
}

// descriptor mirrors the virtqueue descriptor layout (virtio spec §2.6.5).
type descriptor struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

// usedElem mirrors one used-ring entry.
type usedElem struct {
	id  uint32
	len uint32
}

// ring is one virtqueue: descriptor table plus avail/used rings, sized
// to RingSize and never grown after Init.
type ring struct {
	desc      [RingSize]descriptor
	availIdx  uint16
	avail     [RingSize]uint16
	usedIdx   uint16
	lastUsed  uint16
	used      [RingSize]usedElem
}

// Device drives one virtio-net MMIO instance through its status
// handshake and services its RX/TX rings under a fixed per-tick budget.
type Device struct {
	mmio   MMIORegion
	rx, tx ring
	rxPool *BufferPool
	txPool *BufferPool
}

// New constructs a Device bound to region, with fresh RX/TX buffer
// pools. Init must be called before any RX/TX service call.
func New(region MMIORegion) *Device {
	return &Device{
		mmio:   region,
		rxPool: newBufferPool(),
		txPool: newBufferPool(),
	}
}

// Init runs the mandated status sequence: reset, ACKNOWLEDGE, DRIVER,
// FEATURES_OK, queue setup for both rings, RX population, DRIVER_OK.
func (d *Device) Init() error {
	d.mmio.WriteReg32(RegStatus, 0)
	d.mmio.WriteReg32(RegStatus, StatusAcknowledge)
	d.mmio.WriteReg32(RegStatus, StatusAcknowledge|StatusDriver)

	_ = d.mmio.ReadReg32(RegDeviceFeatures)
	d.mmio.WriteReg32(RegDriverFeatures, 0)
	d.mmio.WriteReg32(RegStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK)
	if d.mmio.ReadReg32(RegStatus)&StatusFeaturesOK == 0 {
		return cerr.New(cerr.Invalid, "virtio: device rejected FEATURES_OK")
	}

	if err := d.setupQueue(queueRX); err != nil {
		return err
	}
	if err := d.setupQueue(queueTX); err != nil {
		return err
	}

	d.populateRX()

	d.mmio.WriteReg32(RegStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK|StatusDriverOK)
	logger.Info("virtio device online")
	return nil
}

func (d *Device) setupQueue(queue uint32) error {
	d.mmio.WriteReg32(RegQueueSel, queue)
	max := d.mmio.ReadReg32(RegQueueNumMax)
	if max < RingSize {
		return cerr.Newf(cerr.Invalid, "virtio: queue %d max size %d below required %d", queue, max, RingSize)
	}
	d.mmio.WriteReg32(RegQueueNum, RingSize)
	d.mmio.WriteReg32(RegQueueDescLow, 0)
	d.mmio.WriteReg32(RegQueueDescHigh, 0)
	d.mmio.WriteReg32(RegQueueDriverLow, 0)
	d.mmio.WriteReg32(RegQueueDriverHigh, 0)
	d.mmio.WriteReg32(RegQueueDeviceLow, 0)
	d.mmio.WriteReg32(RegQueueDeviceHigh, 0)
	d.mmio.WriteReg32(RegQueueReady, 1)
	return nil
}

// populateRX hands every RX buffer to the device up front — the ring's
// avail entries are filled once at boot and only ever re-posted as
// buffers are released back by the caller.
func (d *Device) populateRX() {
	for i := uint16(0); i < RingSize; i++ {
		d.rx.desc[i] = descriptor{addr: d.rxPool.addrOf(i), len: BufferBytes, flags: 0, next: 0}
		d.rxPool.states[i].Store(int32(bufferQueued))
		d.rx.avail[d.rx.availIdx%RingSize] = i
		d.rx.availIdx++
	}
	// Release fence after descriptor writes and before the avail-index
	// update becomes visible to the device (spec.md §4.7).
	d.mmio.Barrier()
	d.mmio.WriteReg32(RegQueueNotify, queueRX)
	d.mmio.Barrier()
}

// PollRX services up to budget completed RX descriptors, returning the
// received payload slices. Returned buffers are on loan: the caller
// must call Release(buf) once done so the frame can be re-queued. No
// RX buffer is reused while on loan.
func (d *Device) PollRX(budget int) ([]RXBuffer, error) {
	out := make([]RXBuffer, 0, budget)
	for n := 0; n < budget && d.rx.lastUsed != d.rx.usedIdx; n++ {
		// Acquire on the used-header read (spec.md §4.7).
		d.mmio.Barrier()
		elem := d.rx.used[d.rx.lastUsed%RingSize]
		d.rx.lastUsed++

		idx := d.rxPool.addrToIndex(d.rx.desc[elem.id].addr)
		if uint32(idx) != elem.id {
			panic(cerr.Newf(cerr.Invalid, "virtio: rx used-ring id %d does not match descriptor addr", elem.id))
		}
		d.rxPool.states[idx].Store(int32(bufferLoaned))
		out = append(out, RXBuffer{pool: d.rxPool, index: idx, data: d.rxPool.frames[idx][:elem.len]})
	}
	return out, nil
}

// RXBuffer is one received frame on loan from the RX pool.
type RXBuffer struct {
	pool  *BufferPool
	index uint16
	data  []byte
}

// Data returns the received payload. Valid only until Release is called.
func (b RXBuffer) Data() []byte { return b.data }

// Release returns the buffer to the device's avail ring so it can
// receive another frame. Must be called exactly once per RXBuffer.
func (d *Device) Release(b RXBuffer) {
	b.pool.states[b.index].Store(int32(bufferQueued))
	d.rx.desc[b.index] = descriptor{addr: b.pool.addrOf(b.index), len: BufferBytes}
	d.rx.avail[d.rx.availIdx%RingSize] = b.index
	d.rx.availIdx++
	d.mmio.Barrier()
	d.mmio.WriteReg32(RegQueueNotify, queueRX)
	d.mmio.Barrier()
}

// EnqueueTX copies data into a free TX buffer and posts it to the
// device. Returns Busy if every TX buffer is currently in flight.
func (d *Device) EnqueueTX(data []byte) error {
	if len(data) > BufferBytes {
		return cerr.New(cerr.TooBig, "virtio: tx frame exceeds buffer size")
	}
	idx, err := d.freeTXSlot()
	if err != nil {
		return err
	}
	n := copy(d.txPool.frames[idx][:], data)
	d.txPool.states[idx].Store(int32(bufferQueued))
	d.tx.desc[idx] = descriptor{addr: d.txPool.addrOf(idx), len: uint32(n)}
	d.tx.avail[d.tx.availIdx%RingSize] = idx
	d.tx.availIdx++

	d.mmio.Barrier()
	d.mmio.WriteReg32(RegQueueNotify, queueTX)
	d.mmio.Barrier()
	return nil
}

func (d *Device) freeTXSlot() (uint16, error) {
	for i := uint16(0); i < RingSize; i++ {
		if bufferState(d.txPool.states[i].Load()) == bufferFree {
			return i, nil
		}
	}
	return 0, cerr.New(cerr.Busy, "virtio: tx ring full")
}

// ServiceTX reclaims up to budget completed TX descriptors, freeing
// their buffers for reuse. Out-of-range completion IDs are a forensic
// fault: they mean the device returned an index this driver never
// posted, so the process is stopped rather than limping on with
// corrupted ring state.
func (d *Device) ServiceTX(budget int) int {
	reclaimed := 0
	for reclaimed < budget && d.tx.lastUsed != d.tx.usedIdx {
		d.mmio.Barrier()
		elem := d.tx.used[d.tx.lastUsed%RingSize]
		d.tx.lastUsed++
		if elem.id >= RingSize {
			panic(cerr.Newf(cerr.Invalid, "virtio: tx used-ring id %d out of range", elem.id))
		}
		d.txPool.states[elem.id].Store(int32(bufferFree))
		reclaimed++
	}
	return reclaimed
}
