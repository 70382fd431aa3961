package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/obo-broker/internal/testutil"
)

const testTenant = "11111111-2222-3333-4444-555555555555"

func TestProvider_SigningMaterial(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)

	p := NewProvider(idp.Server.URL, nil, 0, nil)

	material, err := p.SigningMaterial(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("SigningMaterial() error = %v", err)
	}

	if material.Metadata.JWKSURI == "" {
		t.Error("expected jwks_uri in metadata")
	}
	if material.Metadata.TokenEndpoint != idp.TokenURL() {
		t.Errorf("token_endpoint = %q, want %q", material.Metadata.TokenEndpoint, idp.TokenURL())
	}
	if material.Keys.Len() != 1 {
		t.Errorf("Keys.Len() = %d, want 1", material.Keys.Len())
	}
	if _, found := material.Keys.LookupKeyID(idp.KeyID); !found {
		t.Errorf("key %q not found in set", idp.KeyID)
	}
}

func TestProvider_CachesWithinTTL(t *testing.T) {
	var fetches atomic.Int64
	srv := newCountingIDP(t, &fetches)

	recorder := &fakeRecorder{outcomes: map[string]int{}}
	p := NewProvider(srv.URL, nil, time.Hour, nil)
	p.SetMetrics(recorder)

	for i := 0; i < 3; i++ {
		if _, err := p.SigningMaterial(context.Background(), testTenant); err != nil {
			t.Fatalf("SigningMaterial() call %d error = %v", i+1, err)
		}
	}

	// One discovery call plus one JWKS call, all repeats served from cache.
	if got := fetches.Load(); got != 2 {
		t.Errorf("upstream fetches = %d, want 2", got)
	}
	if recorder.outcomes["fetched"] != 1 || recorder.outcomes["cache_hit"] != 2 {
		t.Errorf("lookup outcomes = %v, want 1 fetched and 2 cache hits", recorder.outcomes)
	}
}

type fakeRecorder struct {
	outcomes map[string]int
}

func (f *fakeRecorder) RecordKeyFetch(ctx context.Context, outcome string) {
	f.outcomes[outcome]++
}

func TestProvider_Invalidate(t *testing.T) {
	var fetches atomic.Int64
	srv := newCountingIDP(t, &fetches)

	p := NewProvider(srv.URL, nil, time.Hour, nil)

	if _, err := p.SigningMaterial(context.Background(), testTenant); err != nil {
		t.Fatalf("SigningMaterial() error = %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("upstream fetches = %d, want 2", got)
	}

	p.Invalidate(testTenant)

	if _, err := p.SigningMaterial(context.Background(), testTenant); err != nil {
		t.Fatalf("SigningMaterial() after invalidate error = %v", err)
	}
	if got := fetches.Load(); got != 4 {
		t.Errorf("upstream fetches after invalidate = %d, want 4", got)
	}
}

// newCountingIDP serves a minimal discovery document and key set, counting
// every request.
func newCountingIDP(t *testing.T, fetches *atomic.Int64) *httptest.Server {
	t.Helper()

	key := testutil.GenerateRSAKey(t)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/keys" {
			_, _ = w.Write(testutil.JWKSJSON(t, key, "test-key-1"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":         "https://login.microsoftonline.com/" + testTenant + "/v2.0",
			"token_endpoint": srv.URL + "/" + testTenant + "/oauth2/v2.0/token",
			"jwks_uri":       srv.URL + "/keys",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(srv.URL, nil, 0, nil)

	_, err := p.SigningMaterial(context.Background(), testTenant)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fetchErr.Op != "discovery" {
		t.Errorf("Op = %q, want discovery", fetchErr.Op)
	}
}

func TestProvider_MissingJWKSURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer": "https://login.microsoftonline.com/" + testTenant + "/v2.0",
		})
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(srv.URL, nil, 0, nil)

	_, err := p.SigningMaterial(context.Background(), testTenant)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fetchErr.Op != "discovery" {
		t.Errorf("Op = %q, want discovery", fetchErr.Op)
	}
}

func TestProvider_MalformedKeySet(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/keys" {
			_, _ = w.Write([]byte(`{"keys": "not-an-array"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://login.microsoftonline.com/" + testTenant + "/v2.0",
			"jwks_uri": srv.URL + "/keys",
		})
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(srv.URL, nil, 0, nil)

	_, err := p.SigningMaterial(context.Background(), testTenant)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fetchErr.Op != "jwks" {
		t.Errorf("Op = %q, want jwks", fetchErr.Op)
	}
}
