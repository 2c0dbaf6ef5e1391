// Package codec implements the bounded Secure9P2000.L wire subset:
// {version, attach, walk, open, read, write, clunk, stat, flush}. Framing is
// little-endian length-prefixed, distinct from the XDR big-endian
// 4-byte-aligned encoding internal/xdrcodec uses for ticket claims.
//
// Grounded on dittofs's internal/protocol/xdr binary.Read-based helpers
// (bounded opaque decoding, length-prefixed strings) adapted from XDR's
// big-endian alignment to 9P2000.L's little-endian, unaligned framing. Every
// frame is bounded by MaxMsize; decoders allocate only the decoded message
// and its copied strings and data.
package codec

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/cohesix/root/internal/cerr"
)

// MsgType is the 1-byte Secure9P message type tag.
type MsgType uint8

const (
	TypeTversion MsgType = iota + 1
	TypeRversion
	TypeTattach
	TypeRattach
	TypeTwalk
	TypeRwalk
	TypeTopen
	TypeRopen
	TypeTread
	TypeRread
	TypeTwrite
	TypeRwrite
	TypeTclunk
	TypeRclunk
	TypeTstat
	TypeRstat
	TypeTflush
	TypeRflush
	TypeRerror
)

// Wire limits from spec.md §3.
const (
	MaxMsize     = 8192
	MaxWalkDepth = 8
	MaxNameBytes = 255
)

// headerLen is size(4) + type(1) + tag(2).
const headerLen = 7

// NodeKind is a QidMeta's kind, determining allowed operations.
type NodeKind uint8

const (
	KindDir NodeKind = iota + 1
	KindRegReadOnly
	KindRegAppendOnly
)

// OpenMode is the mode a fid was opened with.
type OpenMode uint8

const (
	ModeNone OpenMode = iota
	ModeReadOnly
	ModeWriteOnlyAppend
)

// QidMeta identifies a namespace node's kind and version for 9P-style
// change detection.
type QidMeta struct {
	Qid     uint64
	Kind    NodeKind
	Version uint32
}

// Message is any decoded Secure9P message. Encode writes the full
// length-prefixed frame (header + body) into out and returns the number of
// bytes written.
type Message interface {
	Type() MsgType
	Tag() uint16
	Encode(out []byte) (int, error)
}

// Decode parses exactly one frame from buf. buf must contain precisely one
// frame (its first 4 bytes are the little-endian total frame length, which
// must equal len(buf)) — framing mismatches are a caller bug, not a wire
// error, because DecodeBatch is responsible for slicing frames out of a
// byte stream.
func Decode(buf []byte) (Message, error) {
	if len(buf) < headerLen {
		return nil, cerr.New(cerr.Invalid, "frame shorter than header")
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	if size > MaxMsize {
		return nil, cerr.New(cerr.TooBig, "frame exceeds maximum msize")
	}
	if int(size) != len(buf) {
		return nil, cerr.Newf(cerr.Invalid, "frame length header %d != buffer length %d", size, len(buf))
	}

	typ := MsgType(buf[4])
	tag := binary.LittleEndian.Uint16(buf[5:7])
	body := buf[headerLen:]

	switch typ {
	case TypeTversion:
		return decodeTversion(tag, body)
	case TypeRversion:
		return decodeRversion(tag, body)
	case TypeTattach:
		return decodeTattach(tag, body)
	case TypeRattach:
		return decodeRattach(tag, body)
	case TypeTwalk:
		return decodeTwalk(tag, body)
	case TypeRwalk:
		return decodeRwalk(tag, body)
	case TypeTopen:
		return decodeTopen(tag, body)
	case TypeRopen:
		return decodeRopen(tag, body)
	case TypeTread:
		return decodeTread(tag, body)
	case TypeRread:
		return decodeRread(tag, body)
	case TypeTwrite:
		return decodeTwrite(tag, body)
	case TypeRwrite:
		return decodeRwrite(tag, body)
	case TypeTclunk:
		return decodeTclunk(tag, body)
	case TypeRclunk:
		return decodeRclunk(tag, body)
	case TypeTstat:
		return decodeTstat(tag, body)
	case TypeRstat:
		return decodeRstat(tag, body)
	case TypeTflush:
		return decodeTflush(tag, body)
	case TypeRflush:
		return decodeRflush(tag, body)
	case TypeRerror:
		return decodeRerror(tag, body)
	default:
		return nil, cerr.Newf(cerr.Invalid, "unknown opcode %d", typ)
	}
}

// Encode writes msg's full length-prefixed frame into out and returns the
// byte count. Fails TooBig if the encoded frame would exceed msize.
func Encode(msg Message, msize uint32, out []byte) (int, error) {
	n, err := msg.Encode(out)
	if err != nil {
		return 0, err
	}
	if uint32(n) > msize {
		return 0, cerr.New(cerr.TooBig, "encoded frame exceeds negotiated msize")
	}
	return n, nil
}

// DecodeBatch yields decoded frames from buf until the input is exhausted
// or a length-header mismatch is found (the remainder is an incomplete
// trailing frame, returned as leftover for the caller to buffer). Each
// frame's tag supports out-of-order reply matching.
func DecodeBatch(buf []byte, maxFrames int) (msgs []Message, leftover []byte, err error) {
	pos := 0
	for len(msgs) < maxFrames {
		if len(buf)-pos < headerLen {
			break
		}
		size := binary.LittleEndian.Uint32(buf[pos : pos+4])
		if size < headerLen || size > MaxMsize {
			return msgs, buf[pos:], cerr.New(cerr.Invalid, "bad frame length header in batch")
		}
		if pos+int(size) > len(buf) {
			break // incomplete trailing frame
		}
		m, derr := Decode(buf[pos : pos+int(size)])
		if derr != nil {
			return msgs, buf[pos:], derr
		}
		msgs = append(msgs, m)
		pos += int(size)
	}
	return msgs, buf[pos:], nil
}

// putHeader writes the frame header (size filled in after body length is
// known) and returns the offset body encoding should continue at.
func putHeader(out []byte, typ MsgType, tag uint16) int {
	out[4] = byte(typ)
	binary.LittleEndian.PutUint16(out[5:7], tag)
	return headerLen
}

func finishFrame(out []byte, n int) (int, error) {
	if n > MaxMsize {
		return 0, cerr.New(cerr.TooBig, "encoded frame exceeds maximum msize")
	}
	binary.LittleEndian.PutUint32(out[0:4], uint32(n))
	return n, nil
}

// putString writes a length-prefixed (2-byte LE) UTF-8 string.
func putString(out []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(out[off:off+2], uint16(len(s)))
	off += 2
	copy(out[off:], s)
	return off + len(s)
}

// getString reads a length-prefixed (2-byte LE) UTF-8 string, validating it
// has no NUL and is valid UTF-8, per spec.md's path-safety invariants.
func getString(buf []byte, off int) (string, int, error) {
	if len(buf)-off < 2 {
		return "", 0, cerr.New(cerr.Invalid, "truncated string length")
	}
	n := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf)-off < n {
		return "", 0, cerr.New(cerr.Invalid, "truncated string data")
	}
	s := string(buf[off : off+n])
	if !utf8.ValidString(s) {
		return "", 0, cerr.New(cerr.Invalid, "non-UTF-8 string")
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return "", 0, cerr.New(cerr.Invalid, "NUL byte in string")
		}
	}
	return s, off + n, nil
}
