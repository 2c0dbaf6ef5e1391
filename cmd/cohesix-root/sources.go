package main

import (
	"time"

	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/console"
	"github.com/cohesix/root/internal/manifest"
	"github.com/cohesix/root/internal/netstack"
	"github.com/cohesix/root/internal/serial"
	"github.com/cohesix/root/internal/virtio"
)

// authLimiterFactory builds a fresh per-connection AuthLimiter from the
// manifest's console.auth policy, falling back to spec.md §5's literal
// defaults (2 failures/60s, 90s cooldown) when the manifest leaves a
// field at its zero value.
func authLimiterFactory(clk *clock.NetworkClock, cfg manifest.ConsoleAuthLimit) func() *console.AuthLimiter {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 2
	}
	failureWindow := cfg.FailureWindow
	if failureWindow == 0 {
		failureWindow = 60 * time.Second
	}
	cooldown := cfg.CooldownPeriod
	if cooldown == 0 {
		cooldown = 90 * time.Second
	}
	return func() *console.AuthLimiter {
		return console.NewAuthLimiter(clk, maxFailures, failureWindow, cooldown)
	}
}

// This file adapts six of the pump's seven rotating duties (spec.md
// §4.6) to pump.Source, in the exact registration order main.go uses:
// serial RX, timer, virtio RX/TX, netstack poll, TCP console, serial TX.
// The fifth duty, NineDoor IPC, lives in ninedoor.go since it is
// substantial enough (the actual Secure9P wire server) to warrant its
// own file. Grounded on go-ublk's internal/queue.Runner
// Source-per-completion-class split, generalized from ublk's single
// io_uring queue to Cohesix's several independent collaborators.

// serialRXSource drains bytes from the serial port into the shared
// console framer/dispatcher, one line at a time.
type serialRXSource struct {
	port   *serial.BufferedPort
	disp   *console.Dispatcher
	conn   *console.Conn
	framer *console.Framer
}

func newSerialConn(clk *clock.NetworkClock, newLimiter func() *console.AuthLimiter) *console.Conn {
	return console.NewConn(0, newLimiter())
}

func (s *serialRXSource) Name() string { return "serial-rx" }

func (s *serialRXSource) Tick(budget int) (int, error) {
	if s.framer == nil {
		s.framer = console.NewSerialFramer()
	}
	chunk := make([]byte, 0, budget)
	for len(chunk) < budget {
		b, ok := s.port.ReadByte()
		if !ok {
			break
		}
		chunk = append(chunk, b)
	}
	if len(chunk) == 0 {
		return 0, nil
	}
	for _, line := range s.framer.Feed(chunk) {
		for _, reply := range s.disp.HandleLine(s.conn, line) {
			encoded, err := s.framer.EncodeLine(reply)
			if err != nil {
				continue
			}
			for _, b := range encoded {
				s.port.WriteByte(b)
			}
		}
	}
	return len(chunk), nil
}

// serialTXSource is a no-op placeholder slot: BufferedPort already
// queues transmitted bytes internally, and a real UART driver would
// drain its own FIFO here under the MMIO seam. Kept as a distinct
// rotation slot so the order matches spec.md §4.6 even though this
// stand-in has nothing further to do per tick.
type serialTXSource struct {
	port *serial.BufferedPort
}

func (s *serialTXSource) Name() string         { return "serial-tx" }
func (s *serialTXSource) Tick(int) (int, error) { return 0, nil }

// timerSource advances the network clock by one tick's worth of
// simulated time, driving IdleTracker/AuthLimiter deadlines forward in
// the absence of a wall clock.
type timerSource struct {
	clk  *clock.NetworkClock
	tick time.Duration
}

func (t *timerSource) Name() string { return "timer" }

func (t *timerSource) Tick(int) (int, error) {
	t.clk.Advance(t.tick)
	return 0, nil
}

// virtioRXSource holds the "virtio RX" rotation slot of spec.md §4.6's
// seven-source split. Its Tick does no work and reports 0: RX frames
// are pulled from the NIC (Device.PollRX) and parsed inside Stack.Poll.
type virtioRXSource struct {
	stack *netstack.Stack
}

func (v *virtioRXSource) Name() string          { return "virtio-rx" }
func (v *virtioRXSource) Tick(budget int) (int, error) {
	return 0, nil
}

// virtioTXSource reclaims completed TX descriptors so their buffers can
// be reused by a later EnqueueTX.
type virtioTXSource struct {
	dev *virtio.Device
}

func (v *virtioTXSource) Name() string { return "virtio-tx" }

func (v *virtioTXSource) Tick(budget int) (int, error) {
	return v.dev.ServiceTX(budget), nil
}

// netstackPollSource drives the IPv4/TCP state machine: services
// received frames (SYN/ACK/data/FIN) and flushes any data queued by the
// TCP console source since the last tick.
type netstackPollSource struct {
	stack *netstack.Stack
}

func (n *netstackPollSource) Name() string { return "netstack-poll" }

func (n *netstackPollSource) Tick(budget int) (int, error) {
	n.stack.Poll(budget)
	return 0, nil
}

// tcpConsoleSource accepts new console connections off the netstack's
// accept queue and services each established connection's pending
// bytes through the same Dispatcher/Framer pairing serialRXSource uses,
// attaching an IdleTracker so idle TCP clients are dropped per spec.md
// §4.8 while serial sessions (no tracker) stay open indefinitely.
type tcpConsoleSource struct {
	stack      *netstack.Stack
	port       uint16
	disp       *console.Dispatcher
	clk        *clock.NetworkClock
	newLimiter func() *console.AuthLimiter

	nextID uint64
	conns  []*tcpConsoleConn
}

type tcpConsoleConn struct {
	id      uint64
	netConn *netstack.Conn
	conn    *console.Conn
	framer  *console.Framer
	idle    *console.IdleTracker
}

func newTCPConsoleSource(stack *netstack.Stack, port uint16, disp *console.Dispatcher, clk *clock.NetworkClock, newLimiter func() *console.AuthLimiter) *tcpConsoleSource {
	return &tcpConsoleSource{stack: stack, port: port, disp: disp, clk: clk, newLimiter: newLimiter}
}

func (t *tcpConsoleSource) Name() string { return "tcp-console" }

func (t *tcpConsoleSource) Tick(budget int) (int, error) {
	t.acceptNew()

	used := 0
	live := t.conns[:0]
	for _, c := range t.conns {
		if c.netConn.Closed() {
			continue
		}
		if c.idle.ShouldClose() {
			c.netConn.Close()
			live = append(live, c)
			continue
		}
		used += t.service(c, budget)
		live = append(live, c)
	}
	t.conns = live
	return used, nil
}

func (t *tcpConsoleSource) acceptNew() {
	for {
		nc, ok := t.stack.AcceptOn(t.port)
		if !ok {
			return
		}
		t.nextID++
		conn := console.NewConn(t.nextID, t.newLimiter())
		idle := console.NewIdleTracker(t.clk)
		conn.SetIdleTracker(idle)
		t.conns = append(t.conns, &tcpConsoleConn{
			id:      t.nextID,
			netConn: nc,
			conn:    conn,
			framer:  console.NewTCPFramer(),
			idle:    idle,
		})
	}
}

func (t *tcpConsoleSource) service(c *tcpConsoleConn, budget int) int {
	buf := make([]byte, budget)
	n, _ := c.netConn.Read(buf)
	if n == 0 {
		return 0
	}
	for _, line := range c.framer.Feed(buf[:n]) {
		for _, reply := range t.disp.HandleLine(c.conn, line) {
			encoded, err := c.framer.EncodeLine(reply)
			if err != nil {
				continue
			}
			_, _ = c.netConn.Write(encoded)
		}
	}
	return n
}
