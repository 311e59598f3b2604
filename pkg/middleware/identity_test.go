package middleware

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

const testIssuer = "https://issuer.example.com"

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

// echoIdentity reports the acting user seen by the wrapped handler.
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := ActingUser(r)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": ok,
			"user_id":       id,
			"log_user_id":   observability.GetUserID(r.Context()),
		})
	})
}

type identityResult struct {
	Authenticated bool   `json:"authenticated"`
	UserID        int64  `json:"user_id"`
	LogUserID     string `json:"log_user_id"`
}

func decodeIdentity(t *testing.T, rec *httptest.ResponseRecorder) identityResult {
	t.Helper()
	var res identityResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestHeaderIdentity(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantID     int64
	}{
		{"anonymous", "", http.StatusOK, 0},
		{"valid", "42", http.StatusOK, 42},
		{"padded", " 7 ", http.StatusOK, 7},
		{"not a number", "alice", http.StatusUnauthorized, 0},
		{"zero", "0", http.StatusUnauthorized, 0},
		{"negative", "-3", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/organizations", nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			HeaderIdentity(echoIdentity()).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			res := decodeIdentity(t, rec)
			assert.Equal(t, tt.wantID != 0, res.Authenticated)
			assert.Equal(t, tt.wantID, res.UserID)
		})
	}
}

type fakeVerifier struct {
	email string
	err   error
}

func (f fakeVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.email, nil
}

type fakeResolver struct {
	ids map[string]int64
	err error
}

func (f fakeResolver) IDByEmail(ctx context.Context, email string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	id, ok := f.ids[email]
	if !ok {
		return 0, apperrors.NotFoundf("user not found")
	}
	return id, nil
}

func TestOIDCIdentity(t *testing.T) {
	resolver := fakeResolver{ids: map[string]int64{"alice@example.com": 11}}

	tests := []struct {
		name       string
		header     string
		verifier   TokenVerifier
		resolver   EmailResolver
		wantStatus int
		wantID     int64
	}{
		{"anonymous", "", fakeVerifier{}, resolver, http.StatusOK, 0},
		{"valid token", "Bearer token", fakeVerifier{email: "alice@example.com"}, resolver, http.StatusOK, 11},
		{"lowercase scheme", "bearer token", fakeVerifier{email: "alice@example.com"}, resolver, http.StatusOK, 11},
		{"basic auth", "Basic dXNlcjpwYXNz", fakeVerifier{}, resolver, http.StatusUnauthorized, 0},
		{"empty token", "Bearer ", fakeVerifier{}, resolver, http.StatusUnauthorized, 0},
		{"rejected token", "Bearer token", fakeVerifier{err: errors.New("expired")}, resolver, http.StatusUnauthorized, 0},
		{"unknown user", "Bearer token", fakeVerifier{email: "bob@example.com"}, resolver, http.StatusUnauthorized, 0},
		{"directory down", "Bearer token", fakeVerifier{email: "alice@example.com"}, fakeResolver{err: errors.New("db down")}, http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/organizations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			OIDCIdentity(tt.verifier, tt.resolver, testLogger())(echoIdentity()).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			res := decodeIdentity(t, rec)
			assert.Equal(t, tt.wantID, res.UserID)
			if tt.wantID != 0 {
				assert.Equal(t, "11", res.LogUserID)
			}
		})
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	object, err := signer.Sign(payload)
	require.NoError(t, err)
	raw, err := object.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := NewOIDCVerifierFromKeySet(oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: "tenancy"}))

	now := time.Now()
	claims := func(overrides map[string]interface{}) map[string]interface{} {
		c := map[string]interface{}{
			"iss":   testIssuer,
			"aud":   "tenancy",
			"sub":   "user-1",
			"iat":   now.Unix(),
			"exp":   now.Add(time.Hour).Unix(),
			"email": "alice@example.com",
		}
		for k, v := range overrides {
			if v == nil {
				delete(c, k)
				continue
			}
			c[k] = v
		}
		return c
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", signToken(t, key, claims(nil)), "alice@example.com", false},
		{"verified email", signToken(t, key, claims(map[string]interface{}{"email_verified": true})), "alice@example.com", false},
		{"unverified email", signToken(t, key, claims(map[string]interface{}{"email_verified": false})), "", true},
		{"missing email", signToken(t, key, claims(map[string]interface{}{"email": nil})), "", true},
		{"wrong audience", signToken(t, key, claims(map[string]interface{}{"aud": "other"})), "", true},
		{"wrong issuer", signToken(t, key, claims(map[string]interface{}{"iss": "https://evil.example.com"})), "", true},
		{"expired", signToken(t, key, claims(map[string]interface{}{"exp": now.Add(-time.Hour).Unix()})), "", true},
		{"foreign key", signToken(t, otherKey, claims(nil)), "", true},
		{"garbage", "not.a.jwt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := verifier.Verify(context.Background(), tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, email)
		})
	}
}
