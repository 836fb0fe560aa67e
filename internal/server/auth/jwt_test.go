package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken("acct-123", secret, time.Hour)
	require.NoError(t, err)

	got, err := AccountFromToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "acct-123", got)
}

func TestAccountFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := GenerateToken("a1", secret, -time.Minute)
	require.NoError(t, err)

	_, err = AccountFromToken(tok, secret)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestAccountFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("a2", []byte("right-secret"), time.Hour)
	require.NoError(t, err)

	_, err = AccountFromToken(tok, []byte("wrong-secret"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestAccountFromToken_Malformed(t *testing.T) {
	t.Parallel()

	_, err := AccountFromToken("not-a-token", []byte("s"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestAccountFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "a3"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = AccountFromToken(s, []byte("s"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestAccountFromToken_MissingSubject(t *testing.T) {
	t.Parallel()

	secret := []byte("s")
	tok, err := GenerateToken("", secret, time.Hour)
	require.NoError(t, err)

	_, err = AccountFromToken(tok, secret)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
