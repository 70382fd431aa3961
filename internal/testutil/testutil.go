package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// MockTime provides a controllable time source for deterministic testing.
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time { return m.now }

// Advance moves the mock time forward by the given duration.
func (m *MockTime) Advance(d time.Duration) { m.now = m.now.Add(d) }

// GenerateRSAKey generates a 2048-bit RSA key for signing test tokens.
func GenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// JWKSJSON renders the public half of key as a JWKS document under the given
// key ID, in the shape an identity provider publishes at its jwks_uri.
func JWKSJSON(t *testing.T, key *rsa.PrivateKey, keyID string) []byte {
	t.Helper()

	pub, err := jwk.FromRaw(key.Public())
	if err != nil {
		t.Fatalf("failed to build JWK from public key: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, keyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		t.Fatalf("failed to set alg: %v", err)
	}
	if err := pub.Set(jwk.KeyUsageKey, "sig"); err != nil {
		t.Fatalf("failed to set use: %v", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal key set: %v", err)
	}
	return data
}

// SignToken signs the given claims as an RS256 JWT carrying keyID in the
// token header.
func SignToken(t *testing.T, key *rsa.PrivateKey, keyID string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// IdentityServer simulates an Entra ID tenant: it serves the OpenID
// discovery document, the JWKS endpoint, and the OAuth2 token endpoint.
type IdentityServer struct {
	Server   *httptest.Server
	Key      *rsa.PrivateKey
	KeyID    string
	TenantID string

	// TokenHandler overrides the token endpoint behavior. When nil the
	// endpoint answers every grant with a static successful response.
	TokenHandler http.HandlerFunc

	tokenRequests atomic.Int64
}

// NewIdentityServer starts a mock identity provider for the given tenant.
// The server is shut down automatically when the test finishes.
func NewIdentityServer(t *testing.T, tenantID string) *IdentityServer {
	t.Helper()

	idp := &IdentityServer{
		Key:      GenerateRSAKey(t),
		KeyID:    "test-key-1",
		TenantID: tenantID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET /%s/v2.0/.well-known/openid-configuration", tenantID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":         fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID),
			"token_endpoint": idp.Server.URL + "/" + tenantID + "/oauth2/v2.0/token",
			"jwks_uri":       idp.Server.URL + "/" + tenantID + "/discovery/v2.0/keys",
		})
	})
	mux.HandleFunc(fmt.Sprintf("GET /%s/discovery/v2.0/keys", tenantID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(JWKSJSON(t, idp.Key, idp.KeyID))
	})
	mux.HandleFunc(fmt.Sprintf("POST /%s/oauth2/v2.0/token", tenantID), func(w http.ResponseWriter, r *http.Request) {
		idp.tokenRequests.Add(1)
		if idp.TokenHandler != nil {
			idp.TokenHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "downstream-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Server.Close)

	return idp
}

// TokenRequests returns the number of calls the token endpoint has received.
func (s *IdentityServer) TokenRequests() int {
	return int(s.tokenRequests.Load())
}

// TokenURL returns the mock tenant's OAuth2 token endpoint.
func (s *IdentityServer) TokenURL() string {
	return s.Server.URL + "/" + s.TenantID + "/oauth2/v2.0/token"
}

// ValidClaims returns a claim set that passes validation for the given
// client ID and tenant: correct audience and issuer, unexpired, with an oid.
// Tests mutate the returned map to produce specific failure modes.
func (s *IdentityServer) ValidClaims(clientID, oid string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"aud": "api://" + clientID,
		"iss": fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", s.TenantID),
		"oid": oid,
		"sub": oid,
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// IssueToken signs a token with the server's key. A nil mutate leaves the
// valid claim set untouched.
func (s *IdentityServer) IssueToken(t *testing.T, clientID, oid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := s.ValidClaims(clientID, oid)
	if mutate != nil {
		mutate(claims)
	}
	return SignToken(t, s.Key, s.KeyID, claims)
}
