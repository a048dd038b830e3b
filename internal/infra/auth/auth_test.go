package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, userID, role string, ttl time.Duration) string {
	t.Helper()
	claims := domain.CustomClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestParseRSAPublicKey(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	parsed, err := ParseRSAPublicKey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))

	// из ENV ключ обычно приходит в base64
	encoded := base64.StdEncoding.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	parsed, err = ParseRSAPublicKey([]byte(encoded + "\n"))
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPublicKey([]byte("%%%"))
	assert.Error(t, err)
}

func TestVerifyToken(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	claims, err := v.VerifyToken(sign(t, key, "42", "editor", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "editor", claims.Role)

	_, err = v.VerifyToken(sign(t, key, "42", "editor", -time.Hour))
	assert.Error(t, err, "expired")

	_, err = v.VerifyToken(sign(t, newKey(t), "42", "admin", time.Hour))
	assert.Error(t, err, "foreign key")

	_, err = v.VerifyToken(sign(t, key, "", "admin", time.Hour))
	assert.ErrorIs(t, err, ErrEmptySubject)

	claims, err = v.VerifyToken(sign(t, key, "7", " Admin ", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
}

func TestVerifyTokenRejectsWeakTokens(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	// без exp
	forever, err := jwt.NewWithClaims(jwt.SigningMethodRS256, domain.CustomClaims{UserID: "42", Role: "admin"}).SignedString(key)
	require.NoError(t, err)
	_, err = v.VerifyToken("Bearer " + forever)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)

	// HMAC, подписанный байтами публичного ключа
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, domain.CustomClaims{
		UserID:           "42",
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	require.NoError(t, err)
	_, err = v.VerifyToken("Bearer " + hs)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = v.VerifyToken("Bearer ")
	assert.Error(t, err)
}

func TestIdentityMiddleware(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	var got domain.Caller
	h := IdentityMiddleware(v, zap.NewNop())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = CallerFromContext(r.Context())
	}))

	cases := []struct {
		name     string
		header   string
		identity string
		role     domain.Role
	}{
		{"valid token", sign(t, key, "42", "editor", time.Hour), "user:42", domain.RoleEditor},
		{"no token", "", "ip:203.0.113.9", domain.RoleGuest},
		{"garbage token", "Bearer garbage", "ip:203.0.113.9", domain.RoleGuest},
		{"unknown role", sign(t, key, "7", "superuser", time.Hour), "user:7", domain.RoleGuest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.9:41234"
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.identity, got.Identity.String())
			assert.Equal(t, tc.role, got.Role)
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		v      TokenValidator
		header string
		code   int
	}{
		{"admin", v, sign(t, key, "1", "admin", time.Hour), http.StatusNoContent},
		{"editor", v, sign(t, key, "2", "editor", time.Hour), http.StatusForbidden},
		{"no token", v, "", http.StatusUnauthorized},
		{"invalid token", v, "Bearer garbage", http.StatusUnauthorized},
		{"no validator", nil, sign(t, key, "1", "admin", time.Hour), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/limits/reset", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			NewMiddleware(tc.v, domain.RoleAdmin, zap.NewNop())(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", "", "2001:db8::/32"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, got)

	_, err = ParseTrustedProxies([]string{"not-a-network"})
	assert.Error(t, err)
}

func TestTrustedRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	cases := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		want    string
	}{
		{"no trusted proxies", nil, "203.0.113.9:51000", "203.0.113.9"},
		{"untrusted peer", trusted, "203.0.113.9:51000", "203.0.113.9"},
		{"trusted proxy", trusted, "10.1.2.3:40000", "198.51.100.7"},
		{"mapped ipv4 proxy", trusted, "[::ffff:10.1.2.3]:40000", "198.51.100.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tc.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientAddress(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set("X-Forwarded-For", "198.51.100.7")
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.want, got)
		})
	}
}
