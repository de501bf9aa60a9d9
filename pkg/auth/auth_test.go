package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHMAC(t *testing.T, subject string, exp time.Time, extra map[string]any) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, "https://issuer.test"))
	require.NoError(t, token.Set(jwt.AudienceKey, "conductor"))
	if subject != "" {
		require.NoError(t, token.Set(jwt.SubjectKey, subject))
	}
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now().Add(-2*time.Hour)))
	require.NoError(t, token.Set(jwt.ExpirationKey, exp))
	for k, v := range extra {
		require.NoError(t, token.Set(k, v))
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func hmacValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(context.Background(), Config{
		Secret:   testSecret,
		Issuer:   "https://issuer.test",
		Audience: "conductor",
	})
	require.NoError(t, err)
	return v
}

func TestNewValidator_RequiresOneKeySource(t *testing.T) {
	_, err := NewValidator(context.Background(), Config{})
	assert.Error(t, err)

	_, err = NewValidator(context.Background(), Config{Secret: "s", JWKSURL: "http://x"})
	assert.Error(t, err)
}

func TestValidator_HMAC(t *testing.T) {
	v := hmacValidator(t)
	ctx := context.Background()

	claims, err := v.ValidateToken(ctx, signHMAC(t, "alice", time.Now().Add(time.Hour), map[string]any{
		"email":     "alice@example.com",
		"role":      "admin",
		"tenant_id": "acme",
		"team":      "core",
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "core", claims.GetStringClaim("team"))
	assert.True(t, claims.HasAnyRole("viewer", "admin"))

	_, err = v.ValidateToken(ctx, signHMAC(t, "alice", time.Now().Add(-time.Hour), nil))
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = v.ValidateToken(ctx, signHMAC(t, "", time.Now().Add(time.Hour), nil))
	assert.ErrorIs(t, err, ErrMissingClaims)

	_, err = v.ValidateToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_AudienceMismatch(t *testing.T) {
	v, err := NewValidator(context.Background(), Config{Secret: testSecret, Audience: "someone-else"})
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), signHMAC(t, "alice", time.Now().Add(time.Hour), nil))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_JWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := NewValidator(ctx, Config{JWKSURL: srv.URL})
	require.NoError(t, err)

	priv, err := jwk.FromRaw(privateKey)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "test-key"))

	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, "bob"))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)

	claims, err := v.ValidateToken(ctx, string(signed))
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)
}

func TestMiddleware(t *testing.T) {
	v := hmacValidator(t)
	var seen string
	handler := Middleware(v, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		status int
		user   string
	}{
		{name: "valid token", path: "/api", header: "Bearer " + signHMAC(t, "alice", time.Now().Add(time.Hour), nil), status: http.StatusOK, user: "alice"},
		{name: "missing header", path: "/api", status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", path: "/api", header: "Bearer junk", status: http.StatusUnauthorized},
		{name: "public path", path: "/health/", status: http.StatusOK, user: AnonymousUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "detail")
			}
		})
	}
}

func TestMiddleware_DisabledUsesHeader(t *testing.T) {
	var seen string
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r)
		_, ok := AuthenticatedUser(r)
		assert.False(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set(HeaderUserID, "carol")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "carol", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, AnonymousUser, seen)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithClaims(req.Context(), &Claims{Subject: "u", Role: "viewer"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewValidatorFromConfig(t *testing.T) {
	v, err := NewValidatorFromConfig(context.Background(), &config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = NewValidatorFromConfig(context.Background(), &config.AuthConfig{Enabled: true, Secret: testSecret})
	require.NoError(t, err)
	assert.NotNil(t, v)
}
