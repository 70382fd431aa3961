package datatool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// stubBroker returns a fixed identity and delegated token, or a fixed error.
type stubBroker struct {
	subject string
	token   *oauth2.Token
	err     error

	calls atomic.Int64
}

func (s *stubBroker) ValidateAndExchange(ctx context.Context, authorizationHeader string, scopes []string) (string, *oauth2.Token, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", nil, s.err
	}
	return s.subject, s.token, nil
}

func happyBroker() *stubBroker {
	return &stubBroker{
		subject: "user-oid",
		token:   &oauth2.Token{AccessToken: "delegated-token", TokenType: "Bearer"},
	}
}

func newTestTool(t *testing.T, broker TokenBroker, backendURL string) *Tool {
	t.Helper()

	tool, err := New(Config{
		Broker:      broker,
		FunctionURL: backendURL,
		Scope:       "https://data.example/user_impersonation",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tool
}

func TestNew_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing broker", Config{FunctionURL: "http://x", Scope: "s"}},
		{"missing function URL", Config{Broker: happyBroker(), Scope: "s"}},
		{"missing scope", Config{Broker: happyBroker(), FunctionURL: "http://x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestQueryData_Success(t *testing.T) {
	var gotAuth string
	var gotBody queryRequest

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding backend request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Success":   true,
			"ItemCount": 2,
			"Data":      []map[string]string{{"id": "1"}, {"id": "2"}},
		})
	}))
	t.Cleanup(backend.Close)

	tool := newTestTool(t, happyBroker(), backend.URL)

	result, err := tool.QueryData(context.Background(), "Bearer user-token", "HR", "")
	if err != nil {
		t.Fatalf("QueryData() error = %v", err)
	}

	if result.Kind != KindOK || !result.Success {
		t.Errorf("result = %+v, want ok", result)
	}
	if result.Container != "HR" {
		t.Errorf("Container = %q, want HR", result.Container)
	}
	if result.ItemCount != 2 || len(result.Data) != 2 {
		t.Errorf("ItemCount = %d, len(Data) = %d, want 2 and 2", result.ItemCount, len(result.Data))
	}

	if gotAuth != "Bearer delegated-token" {
		t.Errorf("backend Authorization = %q, want the delegated token", gotAuth)
	}
	if gotBody.ContainerName != "HR" {
		t.Errorf("containerName = %q, want HR", gotBody.ContainerName)
	}
	if gotBody.Query != DefaultQuery {
		t.Errorf("query = %q, want default %q", gotBody.Query, DefaultQuery)
	}
}

func TestQueryData_PassesCustomQuery(t *testing.T) {
	var gotBody queryRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"Success": true, "ItemCount": 0})
	}))
	t.Cleanup(backend.Close)

	tool := newTestTool(t, happyBroker(), backend.URL)

	custom := "SELECT c.name FROM c WHERE c.amount > 100"
	if _, err := tool.QueryData(context.Background(), "t", "Finance", custom); err != nil {
		t.Fatalf("QueryData() error = %v", err)
	}
	if gotBody.Query != custom {
		t.Errorf("query = %q, want %q", gotBody.Query, custom)
	}
}

func TestQueryData_InvalidContainerSkipsEverything(t *testing.T) {
	broker := happyBroker()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for an invalid container")
	}))
	t.Cleanup(backend.Close)

	tool := newTestTool(t, broker, backend.URL)

	for _, container := range []string{"Legal", "finance", "", "HR; DROP TABLE"} {
		t.Run(container, func(t *testing.T) {
			result, err := tool.QueryData(context.Background(), "t", container, "")
			if err != nil {
				t.Fatalf("QueryData() error = %v", err)
			}
			if result.Kind != KindInvalidContainer {
				t.Errorf("Kind = %q, want %q", result.Kind, KindInvalidContainer)
			}
			if !strings.Contains(result.Error, "Finance, HR, Sales") {
				t.Errorf("Error = %q, should list the valid containers", result.Error)
			}
		})
	}

	if got := broker.calls.Load(); got != 0 {
		t.Errorf("broker calls = %d, want 0", got)
	}
}

func TestQueryData_UnauthenticatedCaller(t *testing.T) {
	broker := &stubBroker{} // empty subject, nil error: untrusted token
	tool := newTestTool(t, broker, "http://unused.invalid")

	result, err := tool.QueryData(context.Background(), "bad-token", "HR", "")
	if err != nil {
		t.Fatalf("QueryData() error = %v", err)
	}
	if result.Kind != KindUnauthenticated {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUnauthenticated)
	}
	if result.Error != "Unauthorized: Invalid or missing authentication token" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestQueryData_BrokerErrorPropagates(t *testing.T) {
	wantErr := errors.New("identity provider unreachable")
	tool := newTestTool(t, &stubBroker{err: wantErr}, "http://unused.invalid")

	_, err := tool.QueryData(context.Background(), "t", "HR", "")
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestQueryData_BackendStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  ResultKind
		wantError string
	}{
		{
			name:      "backend 401",
			status:    http.StatusUnauthorized,
			wantKind:  KindUnauthorized,
			wantError: "Unauthorized: Invalid or missing authentication token",
		},
		{
			name:      "backend 403",
			status:    http.StatusForbidden,
			wantKind:  KindForbidden,
			wantError: "Forbidden: You do not have access to the HR container",
		},
		{
			name:      "backend 404",
			status:    http.StatusNotFound,
			wantKind:  KindNotFound,
			wantError: "Not found: Container 'HR' does not exist",
		},
		{
			name:      "backend 500",
			status:    http.StatusInternalServerError,
			body:      "backend exploded",
			wantKind:  KindHTTPError,
			wantError: "HTTP 500: backend exploded",
		},
		{
			name:      "query failure in 200 body",
			status:    http.StatusOK,
			body:      `{"Success": false, "errorMessage": "Syntax error near FROM"}`,
			wantKind:  KindQueryFailed,
			wantError: "Syntax error near FROM",
		},
		{
			name:      "query failure without message",
			status:    http.StatusOK,
			body:      `{"Success": false}`,
			wantKind:  KindQueryFailed,
			wantError: "Unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(backend.Close)

			tool := newTestTool(t, happyBroker(), backend.URL)

			result, err := tool.QueryData(context.Background(), "t", "HR", "")
			if err != nil {
				t.Fatalf("QueryData() error = %v", err)
			}
			if result.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", result.Kind, tt.wantKind)
			}
			if result.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", result.Error, tt.wantError)
			}
			if result.Success {
				t.Error("Success should be false")
			}
		})
	}
}

func TestQueryData_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(backend.Close)

	tool, err := New(Config{
		Broker:      happyBroker(),
		FunctionURL: backend.URL,
		Scope:       "s",
		HTTPClient:  &http.Client{Timeout: 20 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := tool.QueryData(context.Background(), "t", "Sales", "")
	if err != nil {
		t.Fatalf("QueryData() error = %v", err)
	}
	if result.Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", result.Kind, KindTimeout)
	}
}

func TestQueryData_ConnectionError(t *testing.T) {
	// A closed server refuses connections.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	tool := newTestTool(t, happyBroker(), backend.URL)

	result, err := tool.QueryData(context.Background(), "t", "Finance", "")
	if err != nil {
		t.Fatalf("QueryData() error = %v", err)
	}
	if result.Kind != KindConnectionError {
		t.Errorf("Kind = %q, want %q", result.Kind, KindConnectionError)
	}
	if !strings.Contains(result.Error, "Could not connect") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestResult_JSONShape(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := &Result{
			Success:   true,
			Kind:      KindOK,
			Container: "HR",
			ItemCount: 1,
			Data:      []json.RawMessage{json.RawMessage(`{"id":"1"}`)},
		}
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		want := `{"success":true,"container":"HR","itemCount":1,"data":[{"id":"1"}]}`
		if string(data) != want {
			t.Errorf("JSON = %s, want %s", data, want)
		}
	})

	t.Run("failure omits empty fields", func(t *testing.T) {
		r := &Result{Kind: KindForbidden, Error: "Forbidden: You do not have access to the HR container"}
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		want := `{"success":false,"error":"Forbidden: You do not have access to the HR container"}`
		if string(data) != want {
			t.Errorf("JSON = %s, want %s", data, want)
		}
	})
}
