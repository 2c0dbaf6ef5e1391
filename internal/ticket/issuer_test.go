package ticket

import (
	"testing"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *Issuer {
	return NewIssuer(clock.New(), []manifest.TicketConfig{
		{Role: "queen", Secret: "0123456789abcdef0123456789abcdef"},
		{Role: "worker-heartbeat", Secret: "fedcba9876543210fedcba9876543210"},
	})
}

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	iss := newTestIssuer()

	tok, err := iss.Issue(RoleQueen, "hive-01", 100, []string{"/queen", "/proc"}, 1000)
	require.NoError(t, err)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, string(RoleQueen), claims.Role)
	assert.Equal(t, "hive-01", claims.Subject)
	assert.Equal(t, uint32(100), claims.Budget)
	assert.Equal(t, []string{"/queen", "/proc"}, claims.Mounts)
	assert.Equal(t, uint64(1000), claims.IssuedAtMs)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	iss := newTestIssuer()
	other := NewIssuer(clock.New(), []manifest.TicketConfig{
		{Role: "observer", Secret: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	})

	tok, err := other.Issue("observer", "snoop", 1, nil, 0)
	require.NoError(t, err)

	_, err = iss.Verify(tok)

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Permission))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.Issue(RoleWorkerHeartbeat, "worker-3", 5, nil, 42)
	require.NoError(t, err)

	tampered := tok[:len(tok)-1] + "0"
	if tampered == tok {
		tampered = tok[:len(tok)-1] + "1"
	}

	_, err = iss.Verify(tampered)

	require.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	iss := newTestIssuer()

	_, err := iss.Verify("not-a-ticket")

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Invalid))
}

func TestRevokeRejectsFutureVerify(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.Issue(RoleQueen, "hive-01", 100, nil, 0)
	require.NoError(t, err)

	_, err = iss.Verify(tok)
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(tok))

	_, err = iss.Verify(tok)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Closed))
}

func TestIssueRejectsUnconfiguredRole(t *testing.T) {
	iss := newTestIssuer()

	_, err := iss.Issue("overlord", "x", 1, nil, 0)

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Permission))
}
