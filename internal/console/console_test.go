package console

import (
	"strings"
	"testing"
	"time"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTree struct {
	files map[string][]byte
}

func newFakeTree() *fakeTree {
	return &fakeTree{files: map[string][]byte{
		"queen/ctl":     []byte("hello\n"),
		"log/queen.log": []byte("booted\nattached\n"),
	}}
}

func (f *fakeTree) Walk(mounts, path []string, name string) (codec.QidMeta, []string, error) {
	return codec.QidMeta{}, append(append([]string{}, path...), name), nil
}

func (f *fakeTree) Open(role string, path []string, mode codec.OpenMode) (codec.QidMeta, error) {
	if _, ok := f.files[strings.Join(path, "/")]; !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	return codec.QidMeta{Kind: codec.KindRegReadOnly}, nil
}

func (f *fakeTree) Read(role string, path []string, offset uint64, count uint32) ([]byte, error) {
	data, ok := f.files[strings.Join(path, "/")]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "no such node")
	}
	if offset >= uint64(len(data)) {
		return nil, nil
	}
	end := offset + uint64(count)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end], nil
}

func (f *fakeTree) Write(role string, path []string, offset uint64, data []byte) (uint32, error) {
	key := strings.Join(path, "/")
	f.files[key] = append(f.files[key], data...)
	return uint32(len(data)), nil
}

type fakeTickets struct {
	valid map[string]ticket.Claims
}

func (f *fakeTickets) Verify(token string) (ticket.Claims, error) {
	c, ok := f.valid[token]
	if !ok {
		return ticket.Claims{}, cerr.New(cerr.Permission, "unknown ticket")
	}
	return c, nil
}

func newTestDispatcher() (*Dispatcher, *HostAuth) {
	auth := NewHostAuth("test-secret")
	tree := newFakeTree()
	tickets := &fakeTickets{valid: map[string]ticket.Claims{
		"worker-ticket": {Role: "worker-heartbeat", Subject: "worker-1", Mounts: []string{"/worker"}},
	}}
	control := func(line []byte) error { return nil }
	defaults := map[string][]string{"queen": {"/queen", "/proc"}}
	return New(auth, tree, tickets, control, defaults), auth
}

func authenticatedConn(t *testing.T, d *Dispatcher, auth *HostAuth, role string) *Conn {
	t.Helper()
	clk := clock.New()
	conn := NewConn(1, NewAuthLimiter(clk, 2, time.Minute, 90*time.Second))
	token, err := auth.Issue("operator-1")
	require.NoError(t, err)
	resp := d.HandleLine(conn, "AUTH "+token)
	require.Equal(t, "OK AUTH", resp[0])
	if role != "" {
		resp = d.HandleLine(conn, "ATTACH "+role)
		require.Contains(t, resp[0], "OK ATTACH")
	}
	return conn
}

func TestAuthThenAttachWithNoTicketUsesDefaultMounts(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "ATTACH queen")

	assert.Equal(t, "OK ATTACH role=queen session=1", resp[0])
	assert.Equal(t, "queen", conn.role)
}

func TestAttachWithoutAuthIsRejected(t *testing.T) {
	d, _ := newTestDispatcher()
	conn := NewConn(1, NewAuthLimiter(clock.New(), 2, time.Minute, 90*time.Second))

	resp := d.HandleLine(conn, "ATTACH queen")

	assert.Equal(t, "ERR ATTACH reason=Permission", resp[0])
}

func TestAttachUnknownRoleWithoutTicketIsRejected(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "ATTACH worker-heartbeat")

	assert.Equal(t, "ERR ATTACH reason=Permission", resp[0])
}

func TestAttachWithValidTicketGrantsRole(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "ATTACH worker-heartbeat worker-ticket")

	assert.Equal(t, "OK ATTACH role=worker-heartbeat session=1", resp[0])
}

func TestAttachWithInvalidTicketIsRejected(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "ATTACH worker-heartbeat bogus-ticket")

	assert.Equal(t, "ERR ATTACH reason=Permission", resp[0])
}

func TestAuthRateLimiterEntersCooldownAfterThreeFailures(t *testing.T) {
	d, _ := newTestDispatcher()
	conn := NewConn(1, NewAuthLimiter(clock.New(), 2, time.Minute, 90*time.Second))

	d.HandleLine(conn, "AUTH bad-token-1")
	d.HandleLine(conn, "AUTH bad-token-2")
	resp := d.HandleLine(conn, "AUTH bad-token-3")
	assert.Equal(t, "ERR AUTH", resp[0])

	resp = d.HandleLine(conn, "AUTH bad-token-4")
	assert.Equal(t, "ERR AUTH reason=RateLimited", resp[0])
}

func TestCatReadsFileContent(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "CAT queen/ctl")

	assert.Equal(t, "OK CAT path=queen/ctl data=hello\\n", resp[0])
}

func TestCatOnMissingPathReturnsNotFound(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "CAT queen/missing")

	assert.Equal(t, "ERR CAT reason=NotFound", resp[0])
}

func TestCatWithoutAttachIsRejected(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "CAT queen/ctl")

	assert.Equal(t, "ERR CAT reason=Permission", resp[0])
}

func TestTailStreamsLinesThenEnd(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "TAIL log/queen.log")

	require.Len(t, resp, 4)
	assert.Equal(t, "OK TAIL path=log/queen.log", resp[0])
	assert.Equal(t, "booted", resp[1])
	assert.Equal(t, "attached", resp[2])
	assert.Equal(t, "END", resp[3])
}

func TestEchoAppendsThroughToTree(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "ECHO hello world > queen/ctl")

	assert.Equal(t, "OK WRITE n=12", resp[0])
}

func TestEchoMissingRedirectIsInvalid(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "ECHO hello world")

	assert.Equal(t, "ERR WRITE reason=Invalid", resp[0])
}

func TestSpawnForwardsToControlDispatcher(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "queen")

	resp := d.HandleLine(conn, "SPAWN worker-7")

	assert.Equal(t, "OK SPAWN", resp[0])
}

func TestSpawnWithoutAttachIsRejected(t *testing.T) {
	d, auth := newTestDispatcher()
	conn := authenticatedConn(t, d, auth, "")

	resp := d.HandleLine(conn, "SPAWN worker-7")

	assert.Equal(t, "ERR SPAWN reason=Permission", resp[0])
}

func TestPingReturnsPong(t *testing.T) {
	d, _ := newTestDispatcher()
	conn := NewConn(1, NewAuthLimiter(clock.New(), 2, time.Minute, 90*time.Second))

	resp := d.HandleLine(conn, "PING")

	assert.Equal(t, []string{"PONG"}, resp)
}

func TestQuitAcknowledges(t *testing.T) {
	d, _ := newTestDispatcher()
	conn := NewConn(1, NewAuthLimiter(clock.New(), 2, time.Minute, 90*time.Second))

	resp := d.HandleLine(conn, "QUIT")

	assert.Equal(t, []string{"OK QUIT"}, resp)
}

func TestUnknownVerbReturnsError(t *testing.T) {
	d, _ := newTestDispatcher()
	conn := NewConn(1, NewAuthLimiter(clock.New(), 2, time.Minute, 90*time.Second))

	resp := d.HandleLine(conn, "FROB something")

	assert.Equal(t, "ERR FROB reason=unknown-verb", resp[0])
}
