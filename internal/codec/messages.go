package codec

import (
	"encoding/binary"

	"github.com/cohesix/root/internal/cerr"
)

// Tversion negotiates the maximum message size and protocol version string.
type Tversion struct {
	TagVal   uint16
	Msize    uint32
	Version  string
}

func (m *Tversion) Type() MsgType { return TypeTversion }
func (m *Tversion) Tag() uint16   { return m.TagVal }
func (m *Tversion) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTversion, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Msize)
	off += 4
	off = putString(out, off, m.Version)
	return finishFrame(out, off)
}

func decodeTversion(tag uint16, body []byte) (*Tversion, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Tversion")
	}
	msize := binary.LittleEndian.Uint32(body[0:4])
	version, _, err := getString(body, 4)
	if err != nil {
		return nil, err
	}
	return &Tversion{TagVal: tag, Msize: msize, Version: version}, nil
}

// Rversion is the server's reply, carrying the agreed msize (≤ the
// client's proposal, ≤ MaxMsize).
type Rversion struct {
	TagVal  uint16
	Msize   uint32
	Version string
}

func (m *Rversion) Type() MsgType { return TypeRversion }
func (m *Rversion) Tag() uint16   { return m.TagVal }
func (m *Rversion) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRversion, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Msize)
	off += 4
	off = putString(out, off, m.Version)
	return finishFrame(out, off)
}

func decodeRversion(tag uint16, body []byte) (*Rversion, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Rversion")
	}
	msize := binary.LittleEndian.Uint32(body[0:4])
	version, _, err := getString(body, 4)
	if err != nil {
		return nil, err
	}
	return &Rversion{TagVal: tag, Msize: msize, Version: version}, nil
}

// Tattach authenticates a new session with an encoded ticket token.
type Tattach struct {
	TagVal uint16
	Fid    uint32
	Ticket string
}

func (m *Tattach) Type() MsgType { return TypeTattach }
func (m *Tattach) Tag() uint16   { return m.TagVal }
func (m *Tattach) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTattach, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	off = putString(out, off, m.Ticket)
	return finishFrame(out, off)
}

func decodeTattach(tag uint16, body []byte) (*Tattach, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Tattach")
	}
	fid := binary.LittleEndian.Uint32(body[0:4])
	ticket, _, err := getString(body, 4)
	if err != nil {
		return nil, err
	}
	return &Tattach{TagVal: tag, Fid: fid, Ticket: ticket}, nil
}

// Rattach confirms attach, returning the root node's QidMeta.
type Rattach struct {
	TagVal uint16
	Qid    QidMeta
}

func (m *Rattach) Type() MsgType { return TypeRattach }
func (m *Rattach) Tag() uint16   { return m.TagVal }
func (m *Rattach) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRattach, m.TagVal)
	off = putQid(out, off, m.Qid)
	return finishFrame(out, off)
}

func decodeRattach(tag uint16, body []byte) (*Rattach, error) {
	qid, _, err := getQid(body, 0)
	if err != nil {
		return nil, err
	}
	return &Rattach{TagVal: tag, Qid: qid}, nil
}

// Twalk resolves Names starting from Fid, binding the result to NewFid.
// Depth is capped at MaxWalkDepth.
type Twalk struct {
	TagVal uint16
	Fid    uint32
	NewFid uint32
	Names  []string
}

func (m *Twalk) Type() MsgType { return TypeTwalk }
func (m *Twalk) Tag() uint16   { return m.TagVal }
func (m *Twalk) Encode(out []byte) (int, error) {
	if len(m.Names) > MaxWalkDepth {
		return 0, cerr.New(cerr.Invalid, "walk depth exceeds maximum")
	}
	off := putHeader(out, TypeTwalk, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	binary.LittleEndian.PutUint32(out[off:off+4], m.NewFid)
	off += 4
	out[off] = byte(len(m.Names))
	off++
	for _, n := range m.Names {
		off = putString(out, off, n)
	}
	return finishFrame(out, off)
}

func decodeTwalk(tag uint16, body []byte) (*Twalk, error) {
	if len(body) < 9 {
		return nil, cerr.New(cerr.Invalid, "short Twalk")
	}
	fid := binary.LittleEndian.Uint32(body[0:4])
	newFid := binary.LittleEndian.Uint32(body[4:8])
	count := int(body[8])
	if count > MaxWalkDepth {
		return nil, cerr.New(cerr.Invalid, "walk depth exceeds maximum")
	}
	off := 9
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var name string
		var err error
		name, off, err = getString(body, off)
		if err != nil {
			return nil, err
		}
		if err := validateNameElement(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return &Twalk{TagVal: tag, Fid: fid, NewFid: newFid, Names: names}, nil
}

// validateNameElement enforces spec.md §3's path-element invariants: not
// empty, no NUL, no '/', not "..", ≤ MaxNameBytes UTF-8 bytes.
func validateNameElement(name string) error {
	if name == "" {
		return cerr.New(cerr.Invalid, "empty path element")
	}
	if name == ".." {
		return cerr.New(cerr.Invalid, "path element is \"..\"")
	}
	if len(name) > MaxNameBytes {
		return cerr.New(cerr.Invalid, "path element exceeds maximum length")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return cerr.New(cerr.Invalid, "path element contains '/'")
		}
	}
	return nil
}

// Rwalk returns one QidMeta per successfully resolved name; a short
// Qids slice (fewer than requested) signals a walk that failed partway.
type Rwalk struct {
	TagVal uint16
	Qids   []QidMeta
}

func (m *Rwalk) Type() MsgType { return TypeRwalk }
func (m *Rwalk) Tag() uint16   { return m.TagVal }
func (m *Rwalk) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRwalk, m.TagVal)
	out[off] = byte(len(m.Qids))
	off++
	for _, q := range m.Qids {
		off = putQid(out, off, q)
	}
	return finishFrame(out, off)
}

func decodeRwalk(tag uint16, body []byte) (*Rwalk, error) {
	if len(body) < 1 {
		return nil, cerr.New(cerr.Invalid, "short Rwalk")
	}
	count := int(body[0])
	off := 1
	qids := make([]QidMeta, 0, count)
	for i := 0; i < count; i++ {
		var q QidMeta
		var err error
		q, off, err = getQid(body, off)
		if err != nil {
			return nil, err
		}
		qids = append(qids, q)
	}
	return &Rwalk{TagVal: tag, Qids: qids}, nil
}

// Topen opens Fid with the requested mode; RO nodes reject write modes,
// append-only nodes only accept ModeWriteOnlyAppend.
type Topen struct {
	TagVal uint16
	Fid    uint32
	Mode   OpenMode
}

func (m *Topen) Type() MsgType { return TypeTopen }
func (m *Topen) Tag() uint16   { return m.TagVal }
func (m *Topen) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTopen, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	out[off] = byte(m.Mode)
	off++
	return finishFrame(out, off)
}

func decodeTopen(tag uint16, body []byte) (*Topen, error) {
	if len(body) < 5 {
		return nil, cerr.New(cerr.Invalid, "short Topen")
	}
	fid := binary.LittleEndian.Uint32(body[0:4])
	return &Topen{TagVal: tag, Fid: fid, Mode: OpenMode(body[4])}, nil
}

// Ropen confirms open, returning the opened node's QidMeta.
type Ropen struct {
	TagVal uint16
	Qid    QidMeta
}

func (m *Ropen) Type() MsgType { return TypeRopen }
func (m *Ropen) Tag() uint16   { return m.TagVal }
func (m *Ropen) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRopen, m.TagVal)
	off = putQid(out, off, m.Qid)
	return finishFrame(out, off)
}

func decodeRopen(tag uint16, body []byte) (*Ropen, error) {
	qid, _, err := getQid(body, 0)
	if err != nil {
		return nil, err
	}
	return &Ropen{TagVal: tag, Qid: qid}, nil
}

// Tread requests up to Count bytes starting at Offset. Append-only nodes
// ignore Offset on writes but reads still honor it; Count is clipped to
// msize minus header by the caller, not by this type.
type Tread struct {
	TagVal uint16
	Fid    uint32
	Offset uint64
	Count  uint32
}

func (m *Tread) Type() MsgType { return TypeTread }
func (m *Tread) Tag() uint16   { return m.TagVal }
func (m *Tread) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTread, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	binary.LittleEndian.PutUint64(out[off:off+8], m.Offset)
	off += 8
	binary.LittleEndian.PutUint32(out[off:off+4], m.Count)
	off += 4
	return finishFrame(out, off)
}

func decodeTread(tag uint16, body []byte) (*Tread, error) {
	if len(body) < 16 {
		return nil, cerr.New(cerr.Invalid, "short Tread")
	}
	fid := binary.LittleEndian.Uint32(body[0:4])
	offset := binary.LittleEndian.Uint64(body[4:12])
	count := binary.LittleEndian.Uint32(body[12:16])
	return &Tread{TagVal: tag, Fid: fid, Offset: offset, Count: count}, nil
}

// Rread carries the bytes actually read.
type Rread struct {
	TagVal uint16
	Data   []byte
}

func (m *Rread) Type() MsgType { return TypeRread }
func (m *Rread) Tag() uint16   { return m.TagVal }
func (m *Rread) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRread, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(m.Data)))
	off += 4
	off += copy(out[off:], m.Data)
	return finishFrame(out, off)
}

func decodeRread(tag uint16, body []byte) (*Rread, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Rread")
	}
	n := int(binary.LittleEndian.Uint32(body[0:4]))
	if len(body)-4 < n {
		return nil, cerr.New(cerr.Invalid, "truncated Rread data")
	}
	data := make([]byte, n)
	copy(data, body[4:4+n])
	return &Rread{TagVal: tag, Data: data}, nil
}

// Twrite carries Data to write at Offset (ignored by append-only nodes).
type Twrite struct {
	TagVal uint16
	Fid    uint32
	Offset uint64
	Data   []byte
}

func (m *Twrite) Type() MsgType { return TypeTwrite }
func (m *Twrite) Tag() uint16   { return m.TagVal }
func (m *Twrite) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTwrite, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	binary.LittleEndian.PutUint64(out[off:off+8], m.Offset)
	off += 8
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(m.Data)))
	off += 4
	off += copy(out[off:], m.Data)
	return finishFrame(out, off)
}

func decodeTwrite(tag uint16, body []byte) (*Twrite, error) {
	if len(body) < 16 {
		return nil, cerr.New(cerr.Invalid, "short Twrite")
	}
	fid := binary.LittleEndian.Uint32(body[0:4])
	offset := binary.LittleEndian.Uint64(body[4:12])
	n := int(binary.LittleEndian.Uint32(body[12:16]))
	if len(body)-16 < n {
		return nil, cerr.New(cerr.Invalid, "truncated Twrite data")
	}
	data := make([]byte, n)
	copy(data, body[16:16+n])
	return &Twrite{TagVal: tag, Fid: fid, Offset: offset, Data: data}, nil
}

// Rwrite reports the number of bytes actually written.
type Rwrite struct {
	TagVal uint16
	Count  uint32
}

func (m *Rwrite) Type() MsgType { return TypeRwrite }
func (m *Rwrite) Tag() uint16   { return m.TagVal }
func (m *Rwrite) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRwrite, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Count)
	off += 4
	return finishFrame(out, off)
}

func decodeRwrite(tag uint16, body []byte) (*Rwrite, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Rwrite")
	}
	return &Rwrite{TagVal: tag, Count: binary.LittleEndian.Uint32(body[0:4])}, nil
}

// Tclunk releases Fid. A second clunk of the same fid returns Closed.
type Tclunk struct {
	TagVal uint16
	Fid    uint32
}

func (m *Tclunk) Type() MsgType { return TypeTclunk }
func (m *Tclunk) Tag() uint16   { return m.TagVal }
func (m *Tclunk) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTclunk, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	return finishFrame(out, off)
}

func decodeTclunk(tag uint16, body []byte) (*Tclunk, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Tclunk")
	}
	return &Tclunk{TagVal: tag, Fid: binary.LittleEndian.Uint32(body[0:4])}, nil
}

// Rclunk confirms the fid was released; it carries no body.
type Rclunk struct {
	TagVal uint16
}

func (m *Rclunk) Type() MsgType { return TypeRclunk }
func (m *Rclunk) Tag() uint16   { return m.TagVal }
func (m *Rclunk) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRclunk, m.TagVal)
	return finishFrame(out, off)
}

func decodeRclunk(tag uint16, _ []byte) (*Rclunk, error) {
	return &Rclunk{TagVal: tag}, nil
}

// Tstat requests node metadata.
type Tstat struct {
	TagVal uint16
	Fid    uint32
}

func (m *Tstat) Type() MsgType { return TypeTstat }
func (m *Tstat) Tag() uint16   { return m.TagVal }
func (m *Tstat) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTstat, m.TagVal)
	binary.LittleEndian.PutUint32(out[off:off+4], m.Fid)
	off += 4
	return finishFrame(out, off)
}

func decodeTstat(tag uint16, body []byte) (*Tstat, error) {
	if len(body) < 4 {
		return nil, cerr.New(cerr.Invalid, "short Tstat")
	}
	return &Tstat{TagVal: tag, Fid: binary.LittleEndian.Uint32(body[0:4])}, nil
}

// Stat is a node's metadata snapshot. Size is always deterministic to
// support fixed-size reads, per spec.md §4.1's edge case.
type Stat struct {
	Qid  QidMeta
	Size uint64
	Mode OpenMode
}

// Rstat carries a Stat.
type Rstat struct {
	TagVal uint16
	Stat   Stat
}

func (m *Rstat) Type() MsgType { return TypeRstat }
func (m *Rstat) Tag() uint16   { return m.TagVal }
func (m *Rstat) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRstat, m.TagVal)
	off = putQid(out, off, m.Stat.Qid)
	binary.LittleEndian.PutUint64(out[off:off+8], m.Stat.Size)
	off += 8
	out[off] = byte(m.Stat.Mode)
	off++
	return finishFrame(out, off)
}

func decodeRstat(tag uint16, body []byte) (*Rstat, error) {
	qid, off, err := getQid(body, 0)
	if err != nil {
		return nil, err
	}
	if len(body)-off < 9 {
		return nil, cerr.New(cerr.Invalid, "short Rstat")
	}
	size := binary.LittleEndian.Uint64(body[off : off+8])
	mode := OpenMode(body[off+8])
	return &Rstat{TagVal: tag, Stat: Stat{Qid: qid, Size: size, Mode: mode}}, nil
}

// Tflush cancels an outstanding request identified by OldTag.
type Tflush struct {
	TagVal uint16
	OldTag uint16
}

func (m *Tflush) Type() MsgType { return TypeTflush }
func (m *Tflush) Tag() uint16   { return m.TagVal }
func (m *Tflush) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeTflush, m.TagVal)
	binary.LittleEndian.PutUint16(out[off:off+2], m.OldTag)
	off += 2
	return finishFrame(out, off)
}

func decodeTflush(tag uint16, body []byte) (*Tflush, error) {
	if len(body) < 2 {
		return nil, cerr.New(cerr.Invalid, "short Tflush")
	}
	return &Tflush{TagVal: tag, OldTag: binary.LittleEndian.Uint16(body[0:2])}, nil
}

// Rflush confirms the flush; it carries no body.
type Rflush struct {
	TagVal uint16
}

func (m *Rflush) Type() MsgType { return TypeRflush }
func (m *Rflush) Tag() uint16   { return m.TagVal }
func (m *Rflush) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRflush, m.TagVal)
	return finishFrame(out, off)
}

func decodeRflush(tag uint16, _ []byte) (*Rflush, error) {
	return &Rflush{TagVal: tag}, nil
}

// Rerror carries one of the seven wire error kinds (internal/cerr.Kind).
type Rerror struct {
	TagVal uint16
	Kind   cerr.Kind
}

func (m *Rerror) Type() MsgType { return TypeRerror }
func (m *Rerror) Tag() uint16   { return m.TagVal }
func (m *Rerror) Encode(out []byte) (int, error) {
	off := putHeader(out, TypeRerror, m.TagVal)
	out[off] = byte(m.Kind)
	off++
	return finishFrame(out, off)
}

func decodeRerror(tag uint16, body []byte) (*Rerror, error) {
	if len(body) < 1 {
		return nil, cerr.New(cerr.Invalid, "short Rerror")
	}
	return &Rerror{TagVal: tag, Kind: cerr.Kind(body[0])}, nil
}

// putQid writes a QidMeta: 8-byte qid, 1-byte kind, 4-byte version.
func putQid(out []byte, off int, q QidMeta) int {
	binary.LittleEndian.PutUint64(out[off:off+8], q.Qid)
	off += 8
	out[off] = byte(q.Kind)
	off++
	binary.LittleEndian.PutUint32(out[off:off+4], q.Version)
	off += 4
	return off
}

func getQid(buf []byte, off int) (QidMeta, int, error) {
	if len(buf)-off < 13 {
		return QidMeta{}, 0, cerr.New(cerr.Invalid, "truncated qid")
	}
	q := QidMeta{
		Qid:     binary.LittleEndian.Uint64(buf[off : off+8]),
		Kind:    NodeKind(buf[off+8]),
		Version: binary.LittleEndian.Uint32(buf[off+9 : off+13]),
	}
	return q, off + 13, nil
}
