package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/obo-broker/internal/util"
	"github.com/giantswarm/obo-broker/security"
)

const (
	// grantTypeJWTBearer is the assertion grant type used by the
	// On-Behalf-Of flow.
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// requestedTokenUse marks the assertion grant as an OBO exchange.
	requestedTokenUse = "on_behalf_of"

	// defaultExchangeTimeout bounds the token endpoint call.
	defaultExchangeTimeout = 60 * time.Second
)

// OboTokenError indicates that the On-Behalf-Of token acquisition failed.
// Description carries the provider's error_description when one was
// returned. The error never contains token material.
type OboTokenError struct {
	Code        string // provider error code, e.g. "invalid_grant" (may be empty)
	Description string
	Err         error // underlying transport error (may be nil)
}

func (e *OboTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to acquire OBO token: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("failed to acquire OBO token: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("failed to acquire OBO token: %s", e.Description)
}

func (e *OboTokenError) Unwrap() error { return e.Err }

// Config holds the exchanger configuration.
type Config struct {
	// TenantID is the Entra ID tenant the confidential client belongs to.
	TenantID string

	// ClientID is the confidential client's application ID.
	ClientID string

	// ClientSecret authenticates the confidential client at the token
	// endpoint.
	ClientSecret security.Secret

	// Authority is the identity provider base URL (empty uses the
	// public Entra ID endpoint).
	Authority string

	// HTTPClient is a custom HTTP client for token requests. Nil uses a
	// default client with a 60s timeout.
	HTTPClient *http.Client

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger
}

// Exchanger performs the OAuth2 On-Behalf-Of grant: it presents a user's
// token as an assertion and obtains an access token scoped to a downstream
// resource, preserving the user's identity.
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret security.Secret
	httpClient   *http.Client
	logger       *slog.Logger
}

// New creates an Exchanger. TenantID, ClientID, and ClientSecret are
// required; credential rotation is the caller's concern.
func New(cfg Config) (*Exchanger, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret.IsZero() {
		return nil, errors.New("client secret is required")
	}

	authority := cfg.Authority
	if authority == "" {
		authority = "https://login.microsoftonline.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultExchangeTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Exchanger{
		tokenURL:     strings.TrimSuffix(authority, "/") + "/" + cfg.TenantID + "/oauth2/v2.0/token",
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// tokenResponse is the token endpoint's JSON body, success or error.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange trades a user's token for a downstream access token with the
// requested scopes. The user token may carry a "Bearer " prefix.
//
// Preconditions fail fast without any network call: an empty token or an
// empty scope list produce an *OboTokenError immediately. Every other
// failure mode (transport error, provider error response, response without
// an access token) is also an *OboTokenError.
//
// The returned token is a secret with a short provider-defined lifetime. It
// is not cached here: each call performs a fresh exchange.
func (e *Exchanger) Exchange(ctx context.Context, userToken string, scopes []string) (*oauth2.Token, error) {
	assertion := util.StripBearer(userToken)
	if assertion == "" {
		return nil, &OboTokenError{Description: "invalid user token: empty or whitespace"}
	}
	if len(scopes) == 0 {
		return nil, &OboTokenError{Description: "scopes are required"}
	}

	e.logger.Debug("acquiring OBO token", "scopes", scopes)

	form := url.Values{
		"grant_type":          {grantTypeJWTBearer},
		"client_id":           {e.clientID},
		"client_secret":       {e.clientSecret.Value()},
		"assertion":           {assertion},
		"scope":               {strings.Join(scopes, " ")},
		"requested_token_use": {requestedTokenUse},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &OboTokenError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &OboTokenError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &OboTokenError{Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &OboTokenError{Err: fmt.Errorf("failed to decode token response (status %d): %w", resp.StatusCode, err)}
	}

	if tr.AccessToken == "" {
		description := tr.ErrorDescription
		if description == "" {
			description = "Unknown error"
		}
		e.logger.Warn("OBO token acquisition rejected",
			"error", tr.Error,
			"status", resp.StatusCode)
		return nil, &OboTokenError{Code: tr.Error, Description: description}
	}

	e.logger.Info("OBO token acquired", "scopes", scopes)

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}
