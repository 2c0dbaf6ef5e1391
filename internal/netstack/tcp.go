package netstack

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/logger"
	"github.com/cohesix/root/internal/virtio"
)

// MaxConns bounds the connection table to a fixed size, following the
// same no-heap-growth-after-boot discipline internal/session and
// internal/providers.Worker use for their own flat tables — the
// console never needs more than a handful of concurrent TCP clients.
const MaxConns = 8

// connState is this stack's (deliberately small) TCP state subset —
// enough for one accept, one data phase, and a clean close.
type connState int

const (
	stateFree connState = iota
	stateListen
	stateSynReceived
	stateEstablished
	stateFinWait
	stateCloseWait
	stateLastAck
	stateClosed
)

// Conn is one TCP connection's control block plus its bounded
// recv/send buffers. The console transport layer reads and writes
// through Read/Write; the stack's Poll drives the state machine and
// segment transmission. Segments are not retransmitted.
type Conn struct {
	state      connState
	remoteIP   [4]byte
	remotePort uint16
	localPort  uint16

	sndNext uint32
	rcvNext uint32
	finSent bool

	recvBuf []byte
	sendBuf []byte
}

// Read drains up to len(p) bytes already received and reassembled.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.recvBuf) == 0 {
		return 0, nil
	}
	n := copy(p, c.recvBuf)
	c.recvBuf = c.recvBuf[n:]
	return n, nil
}

// Write queues data to be sent on the next Poll. Returns Busy if the
// bounded send buffer is already full — callers (the console transport)
// retry on a later tick.
func (c *Conn) Write(data []byte) (int, error) {
	const maxSendBuf = 16 * 1024
	if len(c.sendBuf)+len(data) > maxSendBuf {
		return 0, cerr.New(cerr.Busy, "netstack: connection send buffer full")
	}
	c.sendBuf = append(c.sendBuf, data...)
	return len(data), nil
}

// Established reports whether the connection has completed its
// handshake and is ready for application data.
func (c *Conn) Established() bool { return c.state == stateEstablished }

// Closed reports whether the connection has finished its close
// sequence and its slot can be reused.
func (c *Conn) Closed() bool { return c.state == stateClosed || c.state == stateFree }

// Close begins a graceful shutdown (FIN) of the connection.
func (c *Conn) Close() {
	if c.state == stateEstablished {
		c.state = stateFinWait
	}
}

// Stack is a bounded IPv4/TCP listener driven entirely by the pump:
// Poll(budget) services at most budget incoming frames per tick and
// flushes queued outgoing data, mirroring go-ublk's bounded
// processRequests/handleCompletion split that internal/pump also
// follows for its other sources.
type Stack struct {
	dev        *virtio.Device
	localMAC   MAC
	localIP    [4]byte
	listenPort uint16
	extraPorts map[uint16]bool

	conns       [MaxConns]Conn
	acceptQueue []int
}

// Config configures a Stack's fixed identity — no DHCP and no ARP; frames
// other than IPv4 are dropped.
type Config struct {
	LocalMAC   [6]byte
	LocalIP    [4]byte
	ListenPort uint16
}

// New builds a Stack bound to dev, listening on cfg.ListenPort.
func New(dev *virtio.Device, cfg Config) *Stack {
	return &Stack{dev: dev, localMAC: MAC(cfg.LocalMAC), localIP: cfg.LocalIP, listenPort: cfg.ListenPort}
}

// AddListenPort opens an additional TCP port on the same device and
// address, so one Stack (and the single virtio-net device behind it)
// can serve more than one in-VM service — the human console and
// NineDoor's Secure9P listener both live on one interface, distinguished
// only by destination port, the way a single host NIC serves many
// sockets.
func (s *Stack) AddListenPort(port uint16) {
	if s.extraPorts == nil {
		s.extraPorts = make(map[uint16]bool)
	}
	s.extraPorts[port] = true
}

// Poll services up to budget received frames, advancing connection
// state machines and generating ACKs/data as needed. It never blocks;
// absence of traffic is a zero-length no-op, matching the pump's
// cooperative-scheduling contract (spec.md §4.6).
func (s *Stack) Poll(budget int) {
	bufs, _ := s.dev.PollRX(budget)
	for _, b := range bufs {
		s.handleFrame(b.Data())
		s.dev.Release(b)
	}
	s.flushSendBuffers()
}

func (s *Stack) handleFrame(frame []byte) {
	eth, ok := parseEthernet(frame)
	if !ok || eth.EtherType != ethTypeIPv4 {
		return
	}
	ip, ipPayload, ok := parseIPv4(eth.Payload)
	if !ok || ip.Protocol != ipProtoTCP {
		return
	}
	if ip.Dst != s.localIP {
		return
	}
	tcp, payload, ok := parseTCP(ipPayload)
	if !ok || (tcp.DstPort != s.listenPort && !s.extraPorts[tcp.DstPort]) {
		return
	}
	s.handleSegment(ip, tcp, payload)
}

func (s *Stack) handleSegment(ip IPv4Header, tcp TCPHeader, payload []byte) {
	idx := s.findConn(ip.Src, tcp.SrcPort)
	switch {
	case idx < 0 && tcp.Flags&flagSYN != 0:
		s.acceptNew(ip, tcp)
	case idx >= 0:
		s.advance(idx, tcp, payload)
	default:
		logger.Warn("netstack: segment for unknown connection dropped")
	}
}

func (s *Stack) findConn(ip [4]byte, port uint16) int {
	for i := range s.conns {
		c := &s.conns[i]
		if c.state != stateFree && c.remoteIP == ip && c.remotePort == port {
			return i
		}
	}
	return -1
}

func (s *Stack) freeSlot() int {
	for i := range s.conns {
		if s.conns[i].state == stateFree {
			return i
		}
	}
	return -1
}

func (s *Stack) acceptNew(ip IPv4Header, tcp TCPHeader) {
	idx := s.freeSlot()
	if idx < 0 {
		logger.Warn("netstack: connection table full, SYN dropped")
		return
	}
	c := &s.conns[idx]
	*c = Conn{
		state:      stateSynReceived,
		remoteIP:   ip.Src,
		remotePort: tcp.SrcPort,
		localPort:  tcp.DstPort,
		rcvNext:    tcp.Seq + 1,
		sndNext:    1,
	}
	s.sendSegment(c, flagSYN|flagACK, nil)
	c.sndNext++
	s.acceptQueue = append(s.acceptQueue, idx)
}

func (s *Stack) advance(idx int, tcp TCPHeader, payload []byte) {
	c := &s.conns[idx]
	switch c.state {
	case stateSynReceived:
		if tcp.Flags&flagACK != 0 {
			c.state = stateEstablished
		}
	case stateEstablished:
		if len(payload) > 0 {
			c.recvBuf = append(c.recvBuf, payload...)
			c.rcvNext += uint32(len(payload))
			s.sendSegment(c, flagACK, nil)
		}
		if tcp.Flags&flagFIN != 0 {
			c.rcvNext++
			s.sendSegment(c, flagACK, nil)
			c.state = stateCloseWait
		}
	case stateFinWait:
		if tcp.Flags&flagACK != 0 {
			c.state = stateClosed
		}
	case stateCloseWait:
		// Application-driven close happens via Conn.Close, handled in
		// flushSendBuffers.
	case stateLastAck:
		if tcp.Flags&flagACK != 0 {
			c.state = stateClosed
		}
	}
}

// flushSendBuffers drains any application data queued via Conn.Write
// and advances half-closed connections toward their FIN handshake.
func (s *Stack) flushSendBuffers() {
	for i := range s.conns {
		c := &s.conns[i]
		if c.state == stateFree || c.state == stateClosed {
			continue
		}
		if len(c.sendBuf) > 0 {
			const maxSegment = 1024
			n := len(c.sendBuf)
			if n > maxSegment {
				n = maxSegment
			}
			s.sendSegment(c, flagACK|flagPSH, c.sendBuf[:n])
			c.sndNext += uint32(n)
			c.sendBuf = c.sendBuf[n:]
		}
		if c.state == stateCloseWait && len(c.sendBuf) == 0 {
			s.sendSegment(c, flagFIN|flagACK, nil)
			c.sndNext++
			c.state = stateLastAck
		}
		if c.state == stateFinWait && !c.finSent && len(c.sendBuf) == 0 {
			s.sendSegment(c, flagFIN|flagACK, nil)
			c.sndNext++
			c.finSent = true
		}
	}
}

func (s *Stack) sendSegment(c *Conn, flags uint8, payload []byte) {
	h := TCPHeader{
		SrcPort: c.localPort,
		DstPort: c.remotePort,
		Seq:     c.sndNext,
		Ack:     c.rcvNext,
		Flags:   flags,
		Window:  8192,
	}
	var buf [virtio.BufferBytes]byte
	tcpLen := writeTCP(buf[ethHeaderLen+ipv4MinLen:], h, s.localIP, c.remoteIP, payload)
	ipLen := writeIPv4(buf[ethHeaderLen:], IPv4Header{
		Protocol: ipProtoTCP,
		TTL:      64,
		Src:      s.localIP,
		Dst:      c.remoteIP,
	}, buf[ethHeaderLen+ipv4MinLen:ethHeaderLen+ipv4MinLen+tcpLen])
	total := writeEthernet(buf[:], s.localMAC, s.localMAC, ethTypeIPv4, buf[ethHeaderLen:ethHeaderLen+ipLen])
	if err := s.dev.EnqueueTX(buf[:total]); err != nil {
		logger.Warn("netstack: tx enqueue failed", logger.Err(err))
	}
}

// Accept returns the next queued connection, if any SYN has arrived
// since the last call, regardless of which listen port it landed on. The
// returned connection may still be in SYN-received state.
func (s *Stack) Accept() (*Conn, bool) {
	if len(s.acceptQueue) == 0 {
		return nil, false
	}
	idx := s.acceptQueue[0]
	s.acceptQueue = s.acceptQueue[1:]
	return &s.conns[idx], true
}

// AcceptOn is Accept scoped to a single listen port, letting two
// services (the console and NineDoor's Secure9P listener) share one
// Stack and pull only the connections meant for them.
func (s *Stack) AcceptOn(port uint16) (*Conn, bool) {
	for i, idx := range s.acceptQueue {
		if s.conns[idx].localPort == port {
			s.acceptQueue = append(s.acceptQueue[:i:i], s.acceptQueue[i+1:]...)
			return &s.conns[idx], true
		}
	}
	return nil, false
}
