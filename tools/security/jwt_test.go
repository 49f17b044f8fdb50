package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret-for-realtime")

func TestGenerateAndParse(t *testing.T) {
	tok, err := Generate(DefaultOptions(secret), "alice")
	require.NoError(t, err)

	id, err := ParseIdentity(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), id.ExpiresAt, time.Minute)

	// "Bearer " 前缀也能识别
	id2, err := ParseIdentity("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	verified, err := Verify(DefaultOptions(secret), tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", verified.Username)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := Generate(DefaultOptions(secret), "bob")
	require.NoError(t, err)
	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.Error(t, err)
}

func TestParseIdentitySubOnly(t *testing.T) {
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "carol"}).SignedString(secret)
	require.NoError(t, err)
	id, err := ParseIdentity(tok)
	require.NoError(t, err)
	assert.Equal(t, "carol", id.Username)
	assert.True(t, id.ExpiresAt.IsZero())
}

func TestParseIdentityErrors(t *testing.T) {
	_, err := ParseIdentity("")
	assert.Error(t, err)
	_, err = ParseIdentity("not-a-jwt")
	assert.Error(t, err)

	tok, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"foo": 1}).SignedString(secret)
	_, err = ParseIdentity(tok)
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, err := Generate(Options{Secret: secret, Alg: "RS256"}, "x")
	assert.Error(t, err)
	assert.Len(t, HashToken("abc"), len("sha256:")+16)
}
