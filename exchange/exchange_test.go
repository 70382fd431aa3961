package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/giantswarm/obo-broker/internal/testutil"
)

const (
	testTenant   = "11111111-2222-3333-4444-555555555555"
	testClientID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

func newTestExchanger(t *testing.T, idp *testutil.IdentityServer) *Exchanger {
	t.Helper()

	e, err := New(Config{
		TenantID:     testTenant,
		ClientID:     testClientID,
		ClientSecret: "client-secret",
		Authority:    idp.Server.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestNew_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing tenant ID", Config{ClientID: testClientID, ClientSecret: "s"}},
		{"missing client ID", Config{TenantID: testTenant, ClientSecret: "s"}},
		{"missing client secret", Config{TenantID: testTenant, ClientID: testClientID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestExchange_Success(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)
	e := newTestExchanger(t, idp)

	token, err := e.Exchange(context.Background(), "user-assertion-token", []string{"https://example.net/.default"})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if token.AccessToken != "downstream-access-token" {
		t.Errorf("AccessToken = %q", token.AccessToken)
	}
	if token.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", token.TokenType)
	}
	if token.Expiry.Before(time.Now().Add(30 * time.Minute)) {
		t.Errorf("Expiry = %v, want roughly an hour out", token.Expiry)
	}
	if got := idp.TokenRequests(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestExchange_SendsOBOGrant(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)

	var form map[string]string
	idp.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "downstream-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}

	e := newTestExchanger(t, idp)

	// A "Bearer " prefix on the assertion is stripped before sending.
	if _, err := e.Exchange(context.Background(), "Bearer user-assertion-token", []string{"scope-a", "scope-b"}); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	want := map[string]string{
		"grant_type":          "urn:ietf:params:oauth:grant-type:jwt-bearer",
		"client_id":           testClientID,
		"client_secret":       "client-secret",
		"assertion":           "user-assertion-token",
		"scope":               "scope-a scope-b",
		"requested_token_use": "on_behalf_of",
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%q] = %q, want %q", k, form[k], v)
		}
	}
}

func TestExchange_FailsFastWithoutNetwork(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)
	e := newTestExchanger(t, idp)

	tests := []struct {
		name      string
		userToken string
		scopes    []string
	}{
		{"empty token", "", []string{"scope"}},
		{"whitespace token", "   ", []string{"scope"}},
		{"bearer prefix only", "Bearer ", []string{"scope"}},
		{"no scopes", "user-token", nil},
		{"empty scope slice", "user-token", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Exchange(context.Background(), tt.userToken, tt.scopes)
			var oboErr *OboTokenError
			if !errors.As(err, &oboErr) {
				t.Fatalf("error = %v, want *OboTokenError", err)
			}
		})
	}

	if got := idp.TokenRequests(); got != 0 {
		t.Errorf("token endpoint calls = %d, want 0", got)
	}
}

func TestExchange_ProviderRejection(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)
	idp.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "AADSTS65001: The user or administrator has not consented.",
		})
	}

	e := newTestExchanger(t, idp)

	_, err := e.Exchange(context.Background(), "user-token", []string{"scope"})
	var oboErr *OboTokenError
	if !errors.As(err, &oboErr) {
		t.Fatalf("error = %v, want *OboTokenError", err)
	}
	if oboErr.Code != "invalid_grant" {
		t.Errorf("Code = %q, want invalid_grant", oboErr.Code)
	}
	if oboErr.Description != "AADSTS65001: The user or administrator has not consented." {
		t.Errorf("Description = %q", oboErr.Description)
	}
}

func TestExchange_MissingAccessToken(t *testing.T) {
	idp := testutil.NewIdentityServer(t, testTenant)
	idp.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
	}

	e := newTestExchanger(t, idp)

	_, err := e.Exchange(context.Background(), "user-token", []string{"scope"})
	var oboErr *OboTokenError
	if !errors.As(err, &oboErr) {
		t.Fatalf("error = %v, want *OboTokenError", err)
	}
	if oboErr.Description != "Unknown error" {
		t.Errorf("Description = %q, want Unknown error", oboErr.Description)
	}
}

func TestExchange_TransportFailure(t *testing.T) {
	e, err := New(Config{
		TenantID:     testTenant,
		ClientID:     testClientID,
		ClientSecret: "client-secret",
		Authority:    "http://127.0.0.1:1", // nothing listens here
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = e.Exchange(context.Background(), "user-token", []string{"scope"})
	var oboErr *OboTokenError
	if !errors.As(err, &oboErr) {
		t.Fatalf("error = %v, want *OboTokenError", err)
	}
	if oboErr.Err == nil {
		t.Error("transport failure should carry the underlying error")
	}
}

func TestExchange_ErrorStringOmitsSecrets(t *testing.T) {
	err := &OboTokenError{Code: "invalid_grant", Description: "consent required"}
	if got := err.Error(); got != "failed to acquire OBO token: invalid_grant: consent required" {
		t.Errorf("Error() = %q", got)
	}
}
