package main

import (
	"testing"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/manifest"
	"github.com/cohesix/root/internal/metrics"
	"github.com/cohesix/root/internal/session"
	"github.com/cohesix/root/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a loopback ninedoorTransport: bytes written by the
// source land in outbox, bytes queued in inbox are what the next Read
// returns, mirroring fakeNamespace's role in internal/session's tests.
type fakeTransport struct {
	inbox  []byte
	outbox []byte
	closed bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	n := copy(p, f.inbox)
	f.inbox = f.inbox[n:]
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.outbox = append(f.outbox, p...)
	return len(p), nil
}

func (f *fakeTransport) Closed() bool { return f.closed }

// fakeNinedoorNamespace is a two-node tree: "/" and "/queen/ctl".
type fakeNinedoorNamespace struct{}

func (fakeNinedoorNamespace) Root(mounts []string) (codec.QidMeta, error) {
	return codec.QidMeta{Qid: 1, Kind: codec.KindDir}, nil
}

func (fakeNinedoorNamespace) Walk(mounts, path []string, name string) (codec.QidMeta, []string, error) {
	if name != "ctl" {
		return codec.QidMeta{}, nil, cerr.New(cerr.NotFound, "no such node")
	}
	return codec.QidMeta{Qid: 2, Kind: codec.KindRegAppendOnly}, append(append([]string{}, path...), name), nil
}

func (fakeNinedoorNamespace) Open(role string, path []string, mode codec.OpenMode) (codec.QidMeta, error) {
	return codec.QidMeta{Qid: 2, Kind: codec.KindRegAppendOnly}, nil
}

func (fakeNinedoorNamespace) Read(role string, path []string, offset uint64, count uint32) ([]byte, error) {
	return []byte("queen says hi"), nil
}

func (fakeNinedoorNamespace) Write(role string, path []string, offset uint64, data []byte) (uint32, error) {
	return uint32(len(data)), nil
}

func (fakeNinedoorNamespace) Stat(role string, path []string) (codec.Stat, error) {
	return codec.Stat{Qid: codec.QidMeta{Qid: 2, Kind: codec.KindRegAppendOnly}}, nil
}

func testSecure9PConfig() manifest.Secure9PConfig {
	return manifest.Secure9PConfig{
		Msize:             8192,
		WalkDepth:         8,
		TagsPerSession:    4,
		BatchFrames:       4,
		MaxSessions:       4,
		MaxFidsPerSession: 8,
	}
}

func newTestNinedoorSource(t *testing.T) (*ninedoorSource, string) {
	t.Helper()
	issuer := ticket.NewIssuer(nil, []manifest.TicketConfig{{Role: "queen", Secret: "0123456789abcdef"}})
	token, err := issuer.Issue(ticket.RoleQueen, "hive-01", 1000, []string{"/queen"}, 0)
	require.NoError(t, err)

	src := newNinedoorSource(nil, 5640, fakeNinedoorNamespace{}, issuer, testSecure9PConfig(), metrics.New())
	return src, token
}

// newSession builds a fresh Session against src's namespace and fid/tag
// limits, the same way ninedoorSource.acceptNew does for a real accept.
func newSession(src *ninedoorSource) *session.Session {
	return session.New(1, src.ns, src.cfg.MaxFidsPerSession, src.cfg.TagsPerSession)
}

func newSessionHarness(src *ninedoorSource) (*ninedoorSource, *session.Session) {
	return src, newSession(src)
}

func TestVersionNegotiatesMsize(t *testing.T) {
	src, _ := newTestNinedoorSource(t)
	c := &ninedoorConn{msize: src.cfg.Msize}

	reply := src.dispatch(c, &codec.Tversion{TagVal: 1, Msize: 4096, Version: "9P2000.secure"})

	rv, ok := reply.(*codec.Rversion)
	require.True(t, ok)
	assert.Equal(t, uint32(4096), rv.Msize)
	assert.Equal(t, uint32(4096), c.msize)
}

func TestVersionClampsToConfiguredMsize(t *testing.T) {
	src, _ := newTestNinedoorSource(t)
	c := &ninedoorConn{msize: src.cfg.Msize}

	reply := src.dispatch(c, &codec.Tversion{TagVal: 1, Msize: 65535, Version: "9P2000.secure"})

	rv, ok := reply.(*codec.Rversion)
	require.True(t, ok)
	assert.Equal(t, src.cfg.Msize, rv.Msize)
}

func TestAttachWithValidTicketBindsRootFid(t *testing.T) {
	src, token := newTestNinedoorSource(t)
	_, sess := newSessionHarness(src)
	c := &ninedoorConn{sess: sess, msize: src.cfg.Msize}

	reply := src.dispatch(c, &codec.Tattach{TagVal: 1, Fid: 0, Ticket: token})

	ra, ok := reply.(*codec.Rattach)
	require.True(t, ok)
	assert.Equal(t, codec.KindDir, ra.Qid.Kind)

	walk := src.dispatch(c, &codec.Twalk{TagVal: 2, Fid: 0, NewFid: 1, Names: []string{"ctl"}})
	rw, ok := walk.(*codec.Rwalk)
	require.True(t, ok)
	require.Len(t, rw.Qids, 1)
	assert.Equal(t, codec.KindRegAppendOnly, rw.Qids[0].Kind)
}

func TestAttachWithBogusTicketReturnsRerror(t *testing.T) {
	src, _ := newTestNinedoorSource(t)
	_, sess := newSessionHarness(src)
	c := &ninedoorConn{sess: sess, msize: src.cfg.Msize}

	reply := src.dispatch(c, &codec.Tattach{TagVal: 1, Fid: 0, Ticket: "cohesix-ticket-deadbeef.00"})

	re, ok := reply.(*codec.Rerror)
	require.True(t, ok)
	assert.Equal(t, cerr.Invalid, re.Kind)
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	src, token := newTestNinedoorSource(t)
	_, sess := newSessionHarness(src)
	c := &ninedoorConn{sess: sess, msize: src.cfg.Msize}

	_ = src.dispatch(c, &codec.Tattach{TagVal: 1, Fid: 0, Ticket: token})
	_ = src.dispatch(c, &codec.Twalk{TagVal: 2, Fid: 0, NewFid: 1, Names: []string{"ctl"}})

	openReply := src.dispatch(c, &codec.Topen{TagVal: 3, Fid: 1, Mode: codec.ModeWriteOnlyAppend})
	_, ok := openReply.(*codec.Ropen)
	require.True(t, ok)

	writeReply := src.dispatch(c, &codec.Twrite{TagVal: 4, Fid: 1, Offset: 0, Data: []byte("spawn worker-1\n")})
	rwr, ok := writeReply.(*codec.Rwrite)
	require.True(t, ok)
	assert.Equal(t, uint32(len("spawn worker-1\n")), rwr.Count)

	statReply := src.dispatch(c, &codec.Tstat{TagVal: 5, Fid: 1})
	_, ok = statReply.(*codec.Rstat)
	require.True(t, ok)

	clunkReply := src.dispatch(c, &codec.Tclunk{TagVal: 6, Fid: 1})
	_, ok = clunkReply.(*codec.Rclunk)
	require.True(t, ok)

	secondClunk := src.dispatch(c, &codec.Tclunk{TagVal: 7, Fid: 1})
	re, ok := secondClunk.(*codec.Rerror)
	require.True(t, ok)
	assert.Equal(t, cerr.Closed, re.Kind)
}

func TestFlushReleasesTargetedTag(t *testing.T) {
	src, token := newTestNinedoorSource(t)
	_, sess := newSessionHarness(src)
	c := &ninedoorConn{sess: sess, msize: src.cfg.Msize, netConn: &fakeTransport{}}
	_ = src.dispatch(c, &codec.Tattach{TagVal: 1, Fid: 0, Ticket: token})

	require.NoError(t, sess.BeginTag(9))

	src.handle(c, &codec.Tflush{TagVal: 10, OldTag: 9})

	require.NoError(t, sess.BeginTag(9))
}

func TestHandleRecordsMetricsAndRepliesOverTransport(t *testing.T) {
	src, token := newTestNinedoorSource(t)
	_, sess := newSessionHarness(src)
	tr := &fakeTransport{}
	c := &ninedoorConn{sess: sess, msize: src.cfg.Msize, netConn: tr}
	src.conns = []*ninedoorConn{c}

	src.handle(c, &codec.Tattach{TagVal: 1, Fid: 0, Ticket: token})

	assert.NotEmpty(t, tr.outbox)
	decoded, err := codec.Decode(tr.outbox)
	require.NoError(t, err)
	_, ok := decoded.(*codec.Rattach)
	assert.True(t, ok)
}

func TestTickServicesBufferedFrame(t *testing.T) {
	src, _ := newTestNinedoorSource(t)
	tr := &fakeTransport{}
	src.conns = []*ninedoorConn{{sess: newSession(src), msize: src.cfg.Msize, netConn: tr}}
	// acceptNew's capacity guard trips before it ever touches the (nil,
	// in this test) netstack.Stack, since the table already looks full.
	src.cfg.MaxSessions = len(src.conns)

	req := &codec.Tversion{TagVal: 1, Msize: 8192, Version: "9P2000.secure"}
	buf := make([]byte, codec.MaxMsize)
	n, err := codec.Encode(req, codec.MaxMsize, buf)
	require.NoError(t, err)
	tr.inbox = buf[:n]

	used, err := src.Tick(64)
	require.NoError(t, err)
	assert.Greater(t, used, 0)
	assert.NotEmpty(t, tr.outbox)
}
