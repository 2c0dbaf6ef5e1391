package console

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostAuthIssueThenVerifyRoundTrips(t *testing.T) {
	a := NewHostAuth("test-operator-secret")

	token, err := a.Issue("operator-1")
	require.NoError(t, err)

	subject, err := a.Verify(token)

	require.NoError(t, err)
	assert.Equal(t, "operator-1", subject)
}

func TestHostAuthVerifyRejectsWrongSecret(t *testing.T) {
	a := NewHostAuth("correct-secret")
	other := NewHostAuth("wrong-secret")
	token, err := other.Issue("operator-1")
	require.NoError(t, err)

	_, err = a.Verify(token)

	assert.Error(t, err)
}

func TestHostAuthVerifyRejectsNonHMACSigningMethod(t *testing.T) {
	a := NewHostAuth("test-operator-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "operator-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Verify(signed)

	assert.Error(t, err)
}

func TestHostAuthVerifyRejectsGarbageToken(t *testing.T) {
	a := NewHostAuth("test-operator-secret")

	_, err := a.Verify("not-a-jwt")

	assert.Error(t, err)
}
