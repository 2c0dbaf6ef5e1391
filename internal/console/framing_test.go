package console

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/cohesix/root/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(payload string) []byte {
	total := frameHeaderBytes + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	copy(buf[4:], payload)
	return buf
}

func TestTCPFramerDecodesOneCompleteFrame(t *testing.T) {
	f := NewTCPFramer()

	lines := f.Feed(frameOf("PING"))

	assert.Equal(t, []string{"PING"}, lines)
}

func TestTCPFramerBuffersPartialFrameAcrossFeeds(t *testing.T) {
	f := NewTCPFramer()
	frame := frameOf("AUTH tok")

	assert.Empty(t, f.Feed(frame[:3]))
	lines := f.Feed(frame[3:])

	assert.Equal(t, []string{"AUTH tok"}, lines)
}

func TestTCPFramerDecodesMultipleFramesInOneFeed(t *testing.T) {
	f := NewTCPFramer()
	both := append(frameOf("PING"), frameOf("QUIT")...)

	lines := f.Feed(both)

	assert.Equal(t, []string{"PING", "QUIT"}, lines)
}

func TestTCPFramerRejectsOversizedLengthWithoutClosing(t *testing.T) {
	f := NewTCPFramer()
	bad := make([]byte, 4)
	binary.LittleEndian.PutUint32(bad, MaxLineBytes+100)

	lines := f.Feed(bad)
	require.Equal(t, []string{"ERR FRAME reason=invalid-length"}, lines)

	more := f.Feed(frameOf("PING"))
	assert.Equal(t, []string{"PING"}, more)
}

func TestTCPFramerRejectsHeaderSmallerThanItself(t *testing.T) {
	f := NewTCPFramer()
	bad := make([]byte, 4)
	binary.LittleEndian.PutUint32(bad, 2)

	lines := f.Feed(bad)

	assert.Equal(t, []string{"ERR FRAME reason=invalid-length"}, lines)
}

func TestTCPFramerEncodeLineRoundTrips(t *testing.T) {
	f := NewTCPFramer()

	wire, err := f.EncodeLine("OK PING")
	require.NoError(t, err)

	decoded := NewTCPFramer().Feed(wire)
	assert.Equal(t, []string{"OK PING"}, decoded)
}

func TestTCPFramerEncodeLineRejectsOversizedPayload(t *testing.T) {
	f := NewTCPFramer()
	huge := make([]byte, MaxLineBytes)

	_, err := f.EncodeLine(string(huge))

	assert.Error(t, err)
}

func TestSerialFramerDecodesNewlineDelimitedLines(t *testing.T) {
	f := NewSerialFramer()

	lines := f.Feed([]byte("PING\r\nAUTH tok\n"))

	assert.Equal(t, []string{"PING", "AUTH tok"}, lines)
}

func TestSerialFramerBuffersPartialLineAcrossFeeds(t *testing.T) {
	f := NewSerialFramer()

	assert.Empty(t, f.Feed([]byte("ATT")))
	lines := f.Feed([]byte("ACH queen\n"))

	assert.Equal(t, []string{"ATTACH queen"}, lines)
}

func TestSerialFramerEncodeLineAppendsNewline(t *testing.T) {
	f := NewSerialFramer()

	wire, err := f.EncodeLine("OK QUIT")

	require.NoError(t, err)
	assert.Equal(t, []byte("OK QUIT\n"), wire)
}

func TestIdleTrackerShouldCloseAfterTimeout(t *testing.T) {
	clk := clock.New()
	it := NewIdleTracker(clk)

	clk.Advance(IdleTimeout - time.Second)
	assert.False(t, it.ShouldClose())

	clk.Advance(2 * time.Second)
	assert.True(t, it.ShouldClose())
}

func TestIdleTrackerTouchResetsIdleClock(t *testing.T) {
	clk := clock.New()
	it := NewIdleTracker(clk)

	clk.Advance(IdleTimeout - time.Second)
	it.Touch()
	clk.Advance(IdleTimeout - time.Second)

	assert.False(t, it.ShouldClose())
}

func TestIdleTrackerHeartbeatDueBeforeClose(t *testing.T) {
	clk := clock.New()
	it := NewIdleTracker(clk)

	clk.Advance(HeartbeatInterval + time.Second)

	assert.True(t, it.HeartbeatDue())
	assert.False(t, it.ShouldClose())
}

func TestHandleLineTouchesAttachedIdleTracker(t *testing.T) {
	d, _ := newTestDispatcher()
	clk := clock.New()
	conn := NewConn(1, NewAuthLimiter(clk, 2, time.Minute, 90*time.Second))
	idle := NewIdleTracker(clk)
	conn.SetIdleTracker(idle)

	clk.Advance(HeartbeatInterval + time.Second)
	require.True(t, idle.HeartbeatDue())

	d.HandleLine(conn, "PING")

	assert.False(t, idle.HeartbeatDue())
}
