package console

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/golang-jwt/jwt/v5"
)

// HostAuth verifies the console's AUTH token: a host-operator bearer
// token, distinct from the per-role capability tickets internal/ticket
// issues to workers and queens. A single shared HMAC secret is enough —
// the console has one class of operator, not per-role claims.
//
// Grounded on internal/controlplane/api/auth's JWTService (HMAC-signed
// bearer tokens via golang-jwt/jwt/v5), narrowed from an access/refresh
// token pair per user to a single long-lived operator secret, since the
// console has no user directory to issue tokens against.
type HostAuth struct {
	secret []byte
}

// NewHostAuth builds a HostAuth verifying tokens signed with secret.
func NewHostAuth(secret string) *HostAuth {
	return &HostAuth{secret: []byte(secret)}
}

// Verify parses and validates token, returning its subject claim.
func (a *HostAuth) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cerr.New(cerr.Permission, "unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", cerr.Wrap(cerr.Permission, err)
	}
	if !parsed.Valid {
		return "", cerr.New(cerr.Permission, "token is not valid")
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", cerr.Wrap(cerr.Permission, err)
	}
	return subject, nil
}

// Issue signs a token for subject, for use by operator-provisioning
// tooling (not exercised in the VM's own boot path).
func (a *HostAuth) Issue(subject string) (string, error) {
	claims := jwt.MapClaims{"sub": subject}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", cerr.Wrap(cerr.Invalid, err)
	}
	return signed, nil
}
