package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	// DefaultAuthority is the Entra ID (Azure AD) login endpoint base URL.
	DefaultAuthority = "https://login.microsoftonline.com"

	// DefaultCacheTTL is how long fetched signing material is served from
	// cache before a refetch. Signing keys rotate infrequently; 24 hours
	// bounds the staleness window while keeping the fetch rate negligible.
	DefaultCacheTTL = 24 * time.Hour

	// defaultFetchTimeout bounds each metadata/JWKS HTTP call.
	defaultFetchTimeout = 10 * time.Second
)

// Metadata holds the subset of the OIDC discovery document the broker needs.
type Metadata struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

// SigningMaterial is a tenant's provider metadata together with its parsed
// JSON Web Key Set.
type SigningMaterial struct {
	Metadata  Metadata
	Keys      jwk.Set
	FetchedAt time.Time
}

// FetchError indicates that identity-provider metadata or keys could not be
// retrieved. This is an infrastructure failure, distinct from an untrusted
// token: callers should surface it as a 5xx-class condition.
type FetchError struct {
	Op  string // "discovery" or "jwks"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("identity provider %s fetch failed: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// cachedMaterial holds signing material with its fetch timestamp.
type cachedMaterial struct {
	material  *SigningMaterial
	fetchedAt time.Time
}

// Provider fetches and caches identity-provider signing material per tenant.
//
// The provider is safe for concurrent use. The cache is read-mostly: a race
// to populate on cold start is harmless since the refetch is idempotent.
// MetricsRecorder receives lookup outcomes ("cache_hit", "fetched",
// "error"). *instrumentation.Metrics implements it.
type MetricsRecorder interface {
	RecordKeyFetch(ctx context.Context, outcome string)
}

type Provider struct {
	authority  string
	httpClient *http.Client
	cache      sync.Map // tenantID -> *cachedMaterial
	cacheTTL   time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// NewProvider creates a signing-material provider.
//
// Parameters:
//   - authority: identity provider base URL (empty uses DefaultAuthority)
//   - httpClient: HTTP client for metadata fetches (nil uses default with 10s timeout)
//   - cacheTTL: time-to-live for cached material (0 uses DefaultCacheTTL)
//   - logger: logger for debug/info messages (nil uses default logger)
func NewProvider(authority string, httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger) *Provider {
	if authority == "" {
		authority = DefaultAuthority
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		authority:  strings.TrimSuffix(authority, "/"),
		httpClient: httpClient,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// SigningMaterial returns the discovery metadata and key set for a tenant,
// serving from cache when the cached copy is younger than the TTL.
//
// Failures are returned as *FetchError; no retries are performed here, the
// caller decides the retry policy.
func (p *Provider) SigningMaterial(ctx context.Context, tenantID string) (*SigningMaterial, error) {
	if cached, ok := p.cache.Load(tenantID); ok {
		entry := cached.(*cachedMaterial)
		if time.Since(entry.fetchedAt) < p.cacheTTL {
			p.logger.Debug("signing material cache hit", "tenant_id", tenantID)
			p.recordLookup(ctx, "cache_hit")
			return entry.material, nil
		}
		p.logger.Debug("signing material cache expired", "tenant_id", tenantID)
	}

	material, err := p.fetch(ctx, tenantID)
	if err != nil {
		p.recordLookup(ctx, "error")
		return nil, err
	}
	p.recordLookup(ctx, "fetched")

	p.cache.Store(tenantID, &cachedMaterial{
		material:  material,
		fetchedAt: material.FetchedAt,
	})

	p.logger.Info("signing material refreshed",
		"tenant_id", tenantID,
		"jwks_uri", material.Metadata.JWKSURI,
		"keys", material.Keys.Len())

	return material, nil
}

// SetMetrics attaches a lookup-outcome recorder. Call before the provider is
// shared between goroutines.
func (p *Provider) SetMetrics(m MetricsRecorder) {
	p.metrics = m
}

func (p *Provider) recordLookup(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordKeyFetch(ctx, outcome)
	}
}

// Invalidate drops the cached material for a tenant, forcing a refetch on
// the next SigningMaterial call.
func (p *Provider) Invalidate(tenantID string) {
	p.cache.Delete(tenantID)
	p.logger.Debug("signing material cache invalidated", "tenant_id", tenantID)
}

// fetch retrieves the discovery document and then the key set it points at.
func (p *Provider) fetch(ctx context.Context, tenantID string) (*SigningMaterial, error) {
	discoveryURL := fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration", p.authority, tenantID)

	p.logger.Debug("fetching OpenID configuration", "url", discoveryURL)

	var meta Metadata
	if err := p.getJSON(ctx, discoveryURL, &meta); err != nil {
		return nil, &FetchError{Op: "discovery", Err: err}
	}

	if meta.JWKSURI == "" {
		return nil, &FetchError{Op: "discovery", Err: errors.New("jwks_uri missing from discovery document")}
	}

	p.logger.Debug("fetching signing keys", "url", meta.JWKSURI)

	body, err := p.get(ctx, meta.JWKSURI)
	if err != nil {
		return nil, &FetchError{Op: "jwks", Err: err}
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, &FetchError{Op: "jwks", Err: fmt.Errorf("failed to parse key set: %w", err)}
	}

	return &SigningMaterial{
		Metadata:  meta,
		Keys:      keys,
		FetchedAt: time.Now(),
	}, nil
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	body, err := p.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (p *Provider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}
