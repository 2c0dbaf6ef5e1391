// Package netstack is a minimal, bounded IPv4/TCP stack sized for
// exactly one purpose: serving the dual console's TCP listener over the
// virtio-net device (spec.md §4.7's "smoltcp configuration: IPv4/TCP
// only"). No ICMP, no UDP, no fragmentation, no routing — anything the
// console doesn't need is out of scope.
//
// No pack repo or ecosystem library ships a Go equivalent of Rust's
// smoltcp (a bump-allocated, no_std-style embedded TCP/IP stack); every
// candidate examined (golang.org/x/net only provides raw packet
// primitives, gVisor's gonet/tcpip is a multi-thousand-file
// general-purpose stack wildly out of scope for one console listener)
// is either too shallow or far too heavy. This package is therefore
// necessarily hand-rolled against the stdlib encoding/binary primitives
// — the justification DESIGN.md calls for when no third-party library
// can serve a concern.
package netstack

import "encoding/binary"

const (
	ethHeaderLen  = 14
	ipv4MinLen    = 20
	tcpMinLen     = 20
	ethTypeIPv4   = 0x0800
	ipProtoTCP    = 6
)

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

// EthernetFrame is a parsed (not copied) view over one Ethernet frame.
type EthernetFrame struct {
	Dst, Src MAC
	EtherType uint16
	Payload  []byte
}

func parseEthernet(frame []byte) (EthernetFrame, bool) {
	if len(frame) < ethHeaderLen {
		return EthernetFrame{}, false
	}
	var f EthernetFrame
	copy(f.Dst[:], frame[0:6])
	copy(f.Src[:], frame[6:12])
	f.EtherType = binary.BigEndian.Uint16(frame[12:14])
	f.Payload = frame[ethHeaderLen:]
	return f, true
}

func writeEthernet(buf []byte, dst, src MAC, etherType uint16, payload []byte) int {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
	n := copy(buf[ethHeaderLen:], payload)
	return ethHeaderLen + n
}

// IPv4Header is a parsed IPv4 header (options are not supported; IHL
// must be exactly 5).
type IPv4Header struct {
	TotalLen       uint16
	Identification uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	Src, Dst       [4]byte
}

func parseIPv4(data []byte) (IPv4Header, []byte, bool) {
	if len(data) < ipv4MinLen {
		return IPv4Header{}, nil, false
	}
	verIHL := data[0]
	if verIHL>>4 != 4 || verIHL&0x0F != 5 {
		return IPv4Header{}, nil, false
	}
	var h IPv4Header
	h.TotalLen = binary.BigEndian.Uint16(data[2:4])
	h.Identification = binary.BigEndian.Uint16(data[4:6])
	h.TTL = data[8]
	h.Protocol = data[9]
	h.Checksum = binary.BigEndian.Uint16(data[10:12])
	copy(h.Src[:], data[12:16])
	copy(h.Dst[:], data[16:20])
	if int(h.TotalLen) > len(data) {
		return IPv4Header{}, nil, false
	}
	return h, data[ipv4MinLen:h.TotalLen], true
}

func writeIPv4(buf []byte, h IPv4Header, payload []byte) int {
	buf[0] = 0x45
	buf[1] = 0
	total := uint16(ipv4MinLen + len(payload))
	binary.BigEndian.PutUint16(buf[2:4], total)
	binary.BigEndian.PutUint16(buf[4:6], h.Identification)
	binary.BigEndian.PutUint16(buf[6:8], 0x4000) // don't fragment
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0)
	copy(buf[12:16], h.Src[:])
	copy(buf[16:20], h.Dst[:])
	binary.BigEndian.PutUint16(buf[10:12], checksum16(buf[0:20]))
	n := copy(buf[ipv4MinLen:], payload)
	return ipv4MinLen + n
}

// TCPHeader is a parsed TCP header (options are not supported).
type TCPHeader struct {
	SrcPort, DstPort   uint16
	Seq, Ack           uint32
	Flags              uint8
	Window             uint16
}

const (
	flagFIN uint8 = 1 << 0
	flagSYN uint8 = 1 << 1
	flagRST uint8 = 1 << 2
	flagPSH uint8 = 1 << 3
	flagACK uint8 = 1 << 4
)

func parseTCP(data []byte) (TCPHeader, []byte, bool) {
	if len(data) < tcpMinLen {
		return TCPHeader{}, nil, false
	}
	dataOff := (data[12] >> 4) * 4
	if int(dataOff) < tcpMinLen || int(dataOff) > len(data) {
		return TCPHeader{}, nil, false
	}
	var h TCPHeader
	h.SrcPort = binary.BigEndian.Uint16(data[0:2])
	h.DstPort = binary.BigEndian.Uint16(data[2:4])
	h.Seq = binary.BigEndian.Uint32(data[4:8])
	h.Ack = binary.BigEndian.Uint32(data[8:12])
	h.Flags = data[13]
	h.Window = binary.BigEndian.Uint16(data[14:16])
	return h, data[dataOff:], true
}

// writeTCP serializes a TCP segment (no options) into buf, including
// the IPv4 pseudo-header checksum, and returns the segment length.
func writeTCP(buf []byte, h TCPHeader, src, dst [4]byte, payload []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = 5 << 4
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], 0)
	binary.BigEndian.PutUint16(buf[18:20], 0)
	n := copy(buf[tcpMinLen:], payload)
	segLen := tcpMinLen + n

	pseudo := make([]byte, 12+segLen)
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = ipProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(segLen))
	copy(pseudo[12:], buf[:segLen])
	binary.BigEndian.PutUint16(buf[16:18], checksum16(pseudo))
	return segLen
}

// checksum16 computes the Internet checksum (RFC 1071) over data.
func checksum16(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
