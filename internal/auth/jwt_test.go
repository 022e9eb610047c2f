package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("super-secret-key", "coachchat", time.Hour)
	identity := Identity{UserID: "user-123", TenantID: "tenant-1", Role: RoleTrainer}

	token, err := authenticator.GenerateToken(identity)
	req.NoError(err)
	req.NotEmpty(token)

	claims, err := authenticator.ValidateToken(token)
	req.NoError(err)
	req.Equal(ID("user-123"), claims.UserID)
	req.Equal(ID("tenant-1"), claims.TenantID)
	req.Equal(RoleTrainer, claims.Role)
	req.Equal("coachchat", claims.Issuer)
}

func TestAuthenticate_ReturnsIdentityAndExpiry(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("secret", "coachchat", time.Hour)
	identity := Identity{UserID: "7", TenantID: "2", Role: RoleCustomer}
	token, err := authenticator.GenerateToken(identity)
	req.NoError(err)

	session, err := authenticator.Authenticate(token)
	req.NoError(err)
	req.Equal(identity, session.Identity)
	req.WithinDuration(time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestExpiredToken(t *testing.T) {
	authenticator := NewAuthenticator("super-secret-key", "coachchat", -time.Minute)

	token, err := authenticator.GenerateToken(Identity{UserID: "u1", Role: RoleCustomer})
	require.NoError(t, err)

	_, err = authenticator.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestInvalidSignature(t *testing.T) {
	auth1 := NewAuthenticator("secret1", "coachchat", time.Hour)
	auth2 := NewAuthenticator("secret2", "coachchat", time.Hour)

	token, err := auth1.GenerateToken(Identity{UserID: "u1", Role: RoleCustomer})
	require.NoError(t, err)

	_, err = auth2.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongIssuer(t *testing.T) {
	issuerA := NewAuthenticator("secret", "issuer-a", time.Hour)
	issuerB := NewAuthenticator("secret", "issuer-b", time.Hour)

	token, err := issuerA.GenerateToken(Identity{UserID: "u1", Role: RoleCustomer})
	require.NoError(t, err)

	_, err = issuerB.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMalformedAndMissingToken(t *testing.T) {
	authenticator := NewAuthenticator("secret", "coachchat", time.Hour)

	_, err := authenticator.ValidateToken("not.a.jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = authenticator.ValidateToken("")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestUnknownRoleRejected(t *testing.T) {
	authenticator := NewAuthenticator("secret", "coachchat", time.Hour)

	token, err := authenticator.GenerateToken(Identity{UserID: "u1", Role: Role("owner")})
	require.NoError(t, err)

	_, err = authenticator.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNumericClaimsFromLoginFlow(t *testing.T) {
	req := require.New(t)
	secret := "secret"
	authenticator := NewAuthenticator(secret, "", time.Hour)

	// Given a token signed with numeric ids, as the login flow issues them
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       42,
		"tenantId": 3,
		"role":     "customer",
		"email":    "a@example.com",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	req.NoError(err)

	// When it is authenticated
	session, err := authenticator.Authenticate(signed)

	// Then the ids are read as opaque strings
	req.NoError(err)
	req.Equal("42", session.UserID)
	req.Equal("3", session.TenantID)
}

func TestAuthenticator_RejectsTokenWithoutExpiry(t *testing.T) {
	secret := "secret"
	authenticator := NewAuthenticator(secret, "", time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "u1",
		"role": "trainer",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = authenticator.Authenticate(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	req.Equal("header-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws?token=query-token", nil)
	req.Equal("query-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	req.Empty(TokenFromRequest(r))
}
