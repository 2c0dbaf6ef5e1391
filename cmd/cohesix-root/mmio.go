package main

import "github.com/cohesix/root/internal/virtio"

// loopbackMMIO is a software loopback standing in for the real
// virtio-mmio register window an seL4 root task would receive mapped
// through a capability at boot (out of scope per spec.md §1). It drives
// the device's status/queue-setup handshake identically to
// internal/virtio's own test fake, so Device.Init succeeds the same way
// it would against real hardware; it carries no network peer, so no
// frame ever actually arrives on the RX ring until something else feeds
// it (exercised only in tests).
type loopbackMMIO struct {
	regs map[uint32]uint32
}

func newLoopbackMMIO() *loopbackMMIO {
	return &loopbackMMIO{regs: map[uint32]uint32{
		virtio.RegQueueNumMax: virtio.RingSize,
	}}
}

func (m *loopbackMMIO) ReadReg32(offset uint32) uint32 { return m.regs[offset] }

func (m *loopbackMMIO) WriteReg32(offset uint32, value uint32) { m.regs[offset] = value }

func (m *loopbackMMIO) Barrier() {}
