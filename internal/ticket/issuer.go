package ticket

import (
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/manifest"
	"lukechampine.com/blake3"
)

// Issuer mints and verifies tickets against a fixed set of per-role
// secrets loaded from the manifest at boot. There is no ticket renewal
// RPC (see DESIGN.md's Open Question decision): a ticket's budget/mounts
// are fixed for its lifetime and it simply stops being accepted once
// revoked.
type Issuer struct {
	clock *clock.NetworkClock

	mu       sync.RWMutex
	secrets  map[string][]byte // role -> secret
	revoked  map[string]struct{} // mac hex -> revoked
}

// NewIssuer builds an Issuer from the manifest's tickets table.
func NewIssuer(c *clock.NetworkClock, tickets []manifest.TicketConfig) *Issuer {
	secrets := make(map[string][]byte, len(tickets))
	for _, t := range tickets {
		secrets[t.Role] = []byte(t.Secret)
	}
	return &Issuer{
		clock:   c,
		secrets: secrets,
		revoked: make(map[string]struct{}),
	}
}

// Issue mints a new ticket for role/subject with the given budget and
// mount list, stamped with the caller-supplied issuedAtMs.
func (i *Issuer) Issue(role Role, subject string, budget uint32, mounts []string, issuedAtMs uint64) (string, error) {
	i.mu.RLock()
	secret, ok := i.secrets[string(role)]
	i.mu.RUnlock()
	if !ok {
		return "", cerr.Newf(cerr.Permission, "no secret configured for role %q", role)
	}

	claims := Claims{
		Role:       string(role),
		Budget:     budget,
		Subject:    subject,
		Mounts:     mounts,
		IssuedAtMs: issuedAtMs,
	}
	payload, err := marshalClaims(claims)
	if err != nil {
		return "", err
	}
	mac := macFor(secret, payload)
	return encodeToken(payload, mac), nil
}

// Verify decodes and authenticates token, returning its Claims. Verify
// fails Permission if the MAC does not match, Invalid if the token is
// malformed, and Closed if the ticket has been revoked.
func (i *Issuer) Verify(token string) (Claims, error) {
	payloadHex, macHex, err := splitToken(token)
	if err != nil {
		return Claims{}, err
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	gotMac, err := hex.DecodeString(macHex)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	if len(gotMac) != macLen {
		return Claims{}, cerr.New(cerr.Invalid, "malformed ticket mac length")
	}

	claims, err := unmarshalClaims(payload)
	if err != nil {
		return Claims{}, err
	}

	i.mu.RLock()
	secret, ok := i.secrets[claims.Role]
	_, isRevoked := i.revoked[macHex]
	i.mu.RUnlock()

	if !ok {
		return Claims{}, cerr.Newf(cerr.Permission, "unknown ticket role %q", claims.Role)
	}
	if isRevoked {
		return Claims{}, cerr.New(cerr.Closed, "ticket revoked")
	}

	wantMac := macFor(secret, payload)
	if subtle.ConstantTimeCompare(wantMac, gotMac) != 1 {
		return Claims{}, cerr.New(cerr.Permission, "ticket mac mismatch")
	}

	return claims, nil
}

// Revoke marks token's MAC as rejected for all future Verify calls. The
// revocation set is an in-memory flat map sized by ticket churn, not
// ticket count — there is no persistence across a reboot, matching
// spec.md's no-heap-growth-after-boot posture (revocation is an
// allow/deny bit per issued ticket, not a growing log).
func (i *Issuer) Revoke(token string) error {
	_, macHex, err := splitToken(token)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.revoked[macHex] = struct{}{}
	i.mu.Unlock()
	return nil
}

func macFor(secret, payload []byte) []byte {
	h := blake3.New(macLen, secret)
	h.Write(payload)
	return h.Sum(nil)
}
