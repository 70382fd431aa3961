package obo

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/giantswarm/obo-broker/security"
)

// Config holds the broker configuration.
type Config struct {
	// TenantID is the Entra ID tenant whose users this broker serves (required).
	TenantID string

	// ClientID is the confidential client's application ID (required).
	// Inbound tokens must carry the audience "api://" + ClientID.
	ClientID string

	// ClientSecret authenticates the confidential client during the
	// On-Behalf-Of exchange (required).
	ClientSecret security.Secret

	// Authority is the identity provider base URL.
	// Default: https://login.microsoftonline.com
	Authority string

	// KeyCacheTTL is how long fetched signing material is cached per
	// tenant before a refresh. Default: 24 hours.
	KeyCacheTTL time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// MetadataHTTPClient is used for discovery and JWKS fetches.
	// If not provided, a client with a 10s timeout is used.
	MetadataHTTPClient *http.Client

	// ExchangeHTTPClient is used for token endpoint calls.
	// If not provided, a client with a 60s timeout is used.
	ExchangeHTTPClient *http.Client
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return errors.New("tenant ID is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	if c.ClientSecret.IsZero() {
		return errors.New("client secret is required")
	}
	return nil
}

// Environment variable names recognized by FromEnv.
const (
	EnvTenantID     = "TENANT_ID"
	EnvClientID     = "CLIENT_ID"
	EnvClientSecret = "CLIENT_SECRET"
)

// FromEnv builds a Config from the process environment. All three variables
// are required; a missing one is a startup error, not a condition to limp
// along under.
func FromEnv() (*Config, error) {
	cfg := &Config{
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: security.Secret(os.Getenv(EnvClientSecret)),
	}

	for _, v := range []struct {
		name  string
		isSet bool
	}{
		{EnvTenantID, cfg.TenantID != ""},
		{EnvClientID, cfg.ClientID != ""},
		{EnvClientSecret, !cfg.ClientSecret.IsZero()},
	} {
		if !v.isSet {
			return nil, fmt.Errorf("environment variable %s is required", v.name)
		}
	}

	return cfg, nil
}
