package datatool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/obo-broker/instrumentation"
)

// ValidContainers are the data containers the tool may query. Anything else
// is rejected before a single network call is made.
var ValidContainers = []string{"Finance", "HR", "Sales"}

const (
	// DefaultQuery is used when the caller does not supply one.
	DefaultQuery = "SELECT * FROM c"

	// defaultCallTimeout bounds the downstream data call.
	defaultCallTimeout = 60 * time.Second
)

// TokenBroker is the slice of the broker the tool needs. *obo.Broker
// implements it; tests substitute fakes.
type TokenBroker interface {
	ValidateAndExchange(ctx context.Context, authorizationHeader string, scopes []string) (string, *oauth2.Token, error)
}

// Config holds the tool configuration.
type Config struct {
	// Broker validates the caller and acquires the delegated token (required).
	Broker TokenBroker

	// FunctionURL is the base URL of the data backend (required).
	FunctionURL string

	// Scope is the resource scope requested for delegation, e.g.
	// "https://data.example/user_impersonation" (required).
	Scope string

	// HTTPClient is a custom HTTP client for downstream calls.
	// If not provided, a client with a 60s timeout is used.
	HTTPClient *http.Client

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation records downstream call metrics (optional).
	Instrumentation *instrumentation.Instrumentation
}

// Tool queries data containers on behalf of the calling user. Every query
// runs under a freshly delegated token, so the backend applies the user's
// own container-level permissions.
type Tool struct {
	broker      TokenBroker
	functionURL string
	scope       string
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// New creates a Tool. Broker, FunctionURL, and Scope are required.
func New(cfg Config) (*Tool, error) {
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if cfg.FunctionURL == "" {
		return nil, errors.New("function URL is required")
	}
	if cfg.Scope == "" {
		return nil, errors.New("delegation scope is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCallTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics *instrumentation.Metrics
	if cfg.Instrumentation != nil {
		metrics = cfg.Instrumentation.Metrics()
	}

	return &Tool{
		broker:      cfg.Broker,
		functionURL: strings.TrimSuffix(cfg.FunctionURL, "/"),
		scope:       cfg.Scope,
		httpClient:  httpClient,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// queryRequest is the payload sent to the data backend.
type queryRequest struct {
	ContainerName string `json:"containerName"`
	Query         string `json:"query"`
}

// backendResponse mirrors the data function's reply body.
type backendResponse struct {
	Success      bool              `json:"Success"`
	ItemCount    int               `json:"ItemCount"`
	Data         []json.RawMessage `json:"Data"`
	ErrorMessage string            `json:"errorMessage"`
}

// QueryData queries a container on behalf of the user identified by
// bearerToken. An empty query defaults to DefaultQuery.
//
// Downstream and precondition failures come back as a structured *Result
// whose Kind is a stable discriminant; the error return is reserved for the
// broker's typed failures (*obo.TokenValidationError, *obo.OboTokenError),
// which the HTTP layer maps to response codes itself.
func (t *Tool) QueryData(ctx context.Context, bearerToken, container, query string) (*Result, error) {
	t.logger.Debug("starting container query", "container", container)

	if !containerAllowed(container) {
		t.logger.Warn("invalid container requested", "container", container)
		return invalidContainerResult(container), nil
	}

	subject, token, err := t.broker.ValidateAndExchange(ctx, bearerToken, []string{t.scope})
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return &Result{
			Kind:  KindUnauthenticated,
			Error: "Unauthorized: Invalid or missing authentication token",
		}, nil
	}

	if query == "" {
		query = DefaultQuery
	}

	result := t.callBackend(ctx, token, container, query)
	t.logger.Info("container query finished",
		"container", container,
		"subject", subject,
		"kind", result.Kind)
	return result, nil
}

// callBackend posts the query to the data function with the delegated token
// attached and classifies the outcome.
func (t *Tool) callBackend(ctx context.Context, token *oauth2.Token, container, query string) *Result {
	apiURL := t.functionURL + "/api/containers/query"

	payload, err := json.Marshal(queryRequest{ContainerName: container, Query: query})
	if err != nil {
		return t.record(ctx, 0, &Result{Kind: KindUnexpected, Error: fmt.Sprintf("Unexpected error: %v", err)})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return t.record(ctx, 0, &Result{Kind: KindUnexpected, Error: fmt.Sprintf("Unexpected error: %v", err)})
	}
	req.Header.Set("Content-Type", "application/json")

	// oauth2.Transport attaches the delegated token; it never appears in a
	// log line or an error string.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return t.record(ctx, elapsed, classifyTransportError(err, apiURL))
	}
	defer func() { _ = resp.Body.Close() }()

	return t.record(ctx, elapsed, t.classifyResponse(resp, container))
}

func (t *Tool) record(ctx context.Context, elapsedMs float64, result *Result) *Result {
	t.metrics.RecordDownstreamCall(ctx, string(result.Kind), elapsedMs)
	return result
}

// classifyResponse maps the backend's HTTP response onto a structured result.
func (t *Tool) classifyResponse(resp *http.Response, container string) *Result {
	switch resp.StatusCode {
	case http.StatusOK:
		var body backendResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &Result{Kind: KindUnexpected, Error: fmt.Sprintf("Unexpected error: %v", err)}
		}
		if !body.Success {
			msg := body.ErrorMessage
			if msg == "" {
				msg = "Unknown error"
			}
			return &Result{Kind: KindQueryFailed, Error: msg}
		}
		return &Result{
			Success:   true,
			Kind:      KindOK,
			Container: container,
			ItemCount: body.ItemCount,
			Data:      body.Data,
		}
	case http.StatusUnauthorized:
		return &Result{
			Kind:  KindUnauthorized,
			Error: "Unauthorized: Invalid or missing authentication token",
		}
	case http.StatusForbidden:
		return &Result{
			Kind:  KindForbidden,
			Error: fmt.Sprintf("Forbidden: You do not have access to the %s container", container),
		}
	case http.StatusNotFound:
		return &Result{
			Kind:  KindNotFound,
			Error: fmt.Sprintf("Not found: Container '%s' does not exist", container),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Result{
			Kind:  KindHTTPError,
			Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
}

// classifyTransportError maps a transport-level failure onto a structured
// result: timeouts and connection errors get their own kinds so callers can
// branch without parsing prose.
func classifyTransportError(err error, apiURL string) *Result {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return &Result{
			Kind:  KindTimeout,
			Error: "Request timeout: data backend did not respond in time",
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Result{
			Kind:  KindConnectionError,
			Error: fmt.Sprintf("Connection error: Could not connect to data backend at %s", apiURL),
		}
	}

	return &Result{Kind: KindUnexpected, Error: fmt.Sprintf("Unexpected error: %v", err)}
}

func containerAllowed(container string) bool {
	for _, c := range ValidContainers {
		if container == c {
			return true
		}
	}
	return false
}

func invalidContainerResult(container string) *Result {
	return &Result{
		Kind: KindInvalidContainer,
		Error: fmt.Sprintf("Invalid container '%s'. Must be one of: %s",
			container, strings.Join(ValidContainers, ", ")),
	}
}
