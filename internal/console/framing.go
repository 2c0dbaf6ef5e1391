package console

import (
	"encoding/binary"
	"time"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
)

// MaxLineBytes bounds a single console command line, header included on
// TCP (spec.md §4.8: "one line per command, max 256 bytes").
const MaxLineBytes = 256

// IdleTimeout is how long a TCP session may go without traffic before
// the pump closes it (spec.md §5: "idle TCP sessions time out after
// 60 s").
const IdleTimeout = 60 * time.Second

// HeartbeatInterval is how often an idle TCP client is expected to send
// PING (spec.md §4.8: "TCP clients send PING every 15s of idleness").
const HeartbeatInterval = 15 * time.Second

// frameHeaderBytes is the TCP length-prefix header size; the prefix
// counts itself (spec.md §6: "4-byte LE length header including
// itself").
const frameHeaderBytes = 4

// Framer turns a raw transport byte stream into discrete command lines
// and back, matching internal/codec's 9P framing idiom (4-byte LE
// length prefix including the header) for the TCP transport, and a
// pass-through (newline-delimited, unframed) decoder for serial —
// spec.md §4.8's "same grammar without framing" requirement.
//
// A Framer is stateful across calls: TCP input may arrive split across
// multiple reads, so Feed buffers a partial frame until a complete one
// is available.
type Framer struct {
	framed bool
	buf    []byte
}

// NewTCPFramer builds a Framer that decodes 4-byte length-prefixed
// frames, as the TCP console transport requires.
func NewTCPFramer() *Framer { return &Framer{framed: true} }

// NewSerialFramer builds a Framer that treats input as already
// newline-delimited UTF-8 text with no length prefix.
func NewSerialFramer() *Framer { return &Framer{framed: false} }

// Feed appends newly read bytes and returns every complete line now
// available, in order. For a framed (TCP) Framer, a frame whose
// declared length is absurd (zero, exceeding MaxLineBytes, or smaller
// than the header itself) yields a FRAME error sentinel line instead
// of closing the connection (spec.md §4.8: "Oversized frames on
// authenticated sessions return ERR FRAME reason=invalid-length
// without closing"); everything buffered at that point is discarded and
// framing restarts with the next chunk fed in.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)
	if f.framed {
		return f.feedFramed()
	}
	return f.feedUnframed()
}

func (f *Framer) feedFramed() []string {
	var lines []string
	for {
		if len(f.buf) < frameHeaderBytes {
			return lines
		}
		size := binary.LittleEndian.Uint32(f.buf[0:frameHeaderBytes])
		if size < frameHeaderBytes || size > MaxLineBytes {
			lines = append(lines, "ERR FRAME reason=invalid-length")
			f.buf = nil
			return lines
		}
		if uint32(len(f.buf)) < size {
			return lines
		}
		payload := f.buf[frameHeaderBytes:size]
		lines = append(lines, string(payload))
		f.buf = f.buf[size:]
	}
}

func (f *Framer) feedUnframed() []string {
	var lines []string
	for {
		i := indexByte(f.buf, '\n')
		if i < 0 {
			return lines
		}
		line := f.buf[:i]
		line = trimCR(line)
		f.buf = f.buf[i+1:]
		lines = append(lines, string(line))
	}
}

// EncodeLine frames line for the wire: a 4-byte LE length-prefixed
// frame (including the header) on TCP, or the line plus a trailing
// newline on serial.
func (f *Framer) EncodeLine(line string) ([]byte, error) {
	if f.framed {
		total := frameHeaderBytes + len(line)
		if total > MaxLineBytes {
			return nil, cerr.New(cerr.TooBig, "console: encoded line exceeds max frame size")
		}
		out := make([]byte, total)
		binary.LittleEndian.PutUint32(out[0:frameHeaderBytes], uint32(total))
		copy(out[frameHeaderBytes:], line)
		return out, nil
	}
	return append([]byte(line), '\n'), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// IdleTracker watches one TCP connection's last-activity time against
// NetworkClock and decides when a heartbeat is due or the session must
// be closed for inactivity. Serial connections never use one — spec.md
// §4.8's heartbeat/idle-timeout rules are TCP-only ("serial stays
// open").
type IdleTracker struct {
	clk          *clock.NetworkClock
	lastActivity clock.Deadline
}

// NewIdleTracker builds a tracker anchored to clk's current time.
func NewIdleTracker(clk *clock.NetworkClock) *IdleTracker {
	return &IdleTracker{clk: clk, lastActivity: clk.Now()}
}

// Touch records activity (a received line, or an AUTH/ATTACH/etc ack
// sent), resetting the idle clock.
func (t *IdleTracker) Touch() { t.lastActivity = t.clk.Now() }

// ShouldClose reports whether the connection has been idle past
// IdleTimeout and must be closed.
func (t *IdleTracker) ShouldClose() bool {
	return t.clk.Now().Sub(t.lastActivity) >= IdleTimeout
}

// HeartbeatDue reports whether HeartbeatInterval has elapsed since the
// last activity without the connection having been closed, meaning the
// client is expected to send a PING.
func (t *IdleTracker) HeartbeatDue() bool {
	return t.clk.Now().Sub(t.lastActivity) >= HeartbeatInterval
}
