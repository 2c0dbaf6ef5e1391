// Package ticket implements Cohesix's capability tickets: opaque
// 32-byte-MAC-bearing tokens of the form
// "cohesix-ticket-<payload_hex>.<mac_hex>" that every Secure9P Tattach
// carries instead of a username/password pair.
//
// The claims payload is XDR-encoded (internal/xdrcodec's primitives) so
// the encoding is stable across the root task and every worker regardless
// of Go struct layout, and MACed with a per-role keyed BLAKE3 hash
// (lukechampine.com/blake3) so workers can verify a ticket without
// round-tripping to an issuer service.
//
// Grounded on dittofs's pkg/controlplane/api/auth (jwt_service.go /
// claims.go) for the claims-struct-plus-issuer shape, replacing JWT's
// header.payload.signature with XDR-payload.MAC, and JWT's HMAC-SHA256
// with a keyed BLAKE3 hash (spec.md §5 names BLAKE3 explicitly).
package ticket

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/xdrcodec"
)

const (
	tokenPrefix = "cohesix-ticket-"
	macLen      = 32
	// maxMounts bounds a claims payload's mount-list length so a
	// corrupt or hostile token can't force a huge slice preallocation
	// before DecodeString has a chance to fail on missing bytes.
	maxMounts = 64
)

// Role identifies a ticket holder's capability class (spec.md §5).
type Role string

const (
	RoleQueen          Role = "queen"
	RoleRegionalQueen   Role = "regional-queen"
	RoleBareMetalQueen  Role = "bare-metal-queen"
	RoleWorkerHeartbeat Role = "worker-heartbeat"
	RoleWorkerGpu       Role = "worker-gpu"
	RoleWorkerBus       Role = "worker-bus"
	RoleWorkerLora      Role = "worker-lora"
	RoleObserver        Role = "observer"
)

// Claims is the XDR-encoded payload a ticket's MAC covers.
type Claims struct {
	Role       string
	Budget     uint32
	Subject    string
	Mounts     []string
	IssuedAtMs uint64
}

// marshalClaims lays out a Claims struct field-by-field in XDR: two
// strings, a uint32, a length-prefixed string array, and a uint64 — the
// fixed order both Issue and Verify agree on.
func marshalClaims(c Claims) ([]byte, error) {
	var buf bytes.Buffer
	if err := xdrcodec.WriteXDRString(&buf, c.Role); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	if err := xdrcodec.WriteUint32(&buf, c.Budget); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	if err := xdrcodec.WriteXDRString(&buf, c.Subject); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	if err := xdrcodec.WriteUint32(&buf, uint32(len(c.Mounts))); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	for _, m := range c.Mounts {
		if err := xdrcodec.WriteXDRString(&buf, m); err != nil {
			return nil, cerr.Wrap(cerr.Invalid, err)
		}
	}
	if err := xdrcodec.WriteUint64(&buf, c.IssuedAtMs); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	return buf.Bytes(), nil
}

func unmarshalClaims(payload []byte) (Claims, error) {
	r := bytes.NewReader(payload)

	role, err := xdrcodec.DecodeString(r)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	budget, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	subject, err := xdrcodec.DecodeString(r)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	count, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}
	if count > maxMounts {
		return Claims{}, cerr.New(cerr.Invalid, "claims mount list too long")
	}
	mounts := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		m, err := xdrcodec.DecodeString(r)
		if err != nil {
			return Claims{}, cerr.Wrap(cerr.Invalid, err)
		}
		mounts = append(mounts, m)
	}
	issuedAtMs, err := xdrcodec.DecodeUint64(r)
	if err != nil {
		return Claims{}, cerr.Wrap(cerr.Invalid, err)
	}

	return Claims{Role: role, Budget: budget, Subject: subject, Mounts: mounts, IssuedAtMs: issuedAtMs}, nil
}

// encodeToken formats a payload and its MAC as the wire token string.
func encodeToken(payload, mac []byte) string {
	return tokenPrefix + hex.EncodeToString(payload) + "." + hex.EncodeToString(mac)
}

// splitToken extracts the hex payload and mac segments from a token
// string, failing Invalid on any structural mismatch.
func splitToken(token string) (payloadHex, macHex string, err error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", "", cerr.New(cerr.Invalid, "missing ticket prefix")
	}
	rest := strings.TrimPrefix(token, tokenPrefix)
	idx := strings.IndexByte(rest, '.')
	if idx < 0 {
		return "", "", cerr.New(cerr.Invalid, "missing ticket separator")
	}
	return rest[:idx], rest[idx+1:], nil
}
