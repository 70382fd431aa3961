package datatool

import "encoding/json"

// ResultKind is the stable discriminant of a query outcome. Callers and
// tests branch on it instead of parsing the human-readable Error text.
type ResultKind string

const (
	// KindOK is a successful query.
	KindOK ResultKind = "ok"

	// KindInvalidContainer is a container outside the allowlist;
	// rejected before any network call.
	KindInvalidContainer ResultKind = "invalid_container"

	// KindUnauthenticated means the caller's bearer token was untrusted.
	KindUnauthenticated ResultKind = "unauthenticated"

	// KindQueryFailed is a 200 response whose body reports a failed query.
	KindQueryFailed ResultKind = "query_failed"

	// KindUnauthorized is a 401 from the data backend.
	KindUnauthorized ResultKind = "unauthorized"

	// KindForbidden is a 403: the user has no access to the container.
	KindForbidden ResultKind = "forbidden"

	// KindNotFound is a 404: the container does not exist at the backend.
	KindNotFound ResultKind = "not_found"

	// KindHTTPError is any other non-2xx backend response.
	KindHTTPError ResultKind = "http_error"

	// KindTimeout means the backend did not respond within the deadline.
	KindTimeout ResultKind = "timeout"

	// KindConnectionError means the backend could not be reached at all.
	KindConnectionError ResultKind = "connection_error"

	// KindUnexpected is every failure the other kinds do not cover.
	KindUnexpected ResultKind = "unexpected"
)

// Result is the structured outcome of a container query. Its JSON shape is
// what the agent tool returns to the model:
//
//	{"success": true, "container": "HR", "itemCount": 3, "data": [...]}
//	{"success": false, "error": "Forbidden: You do not have access to the HR container"}
//
// Kind is for programmatic branching and is not serialized.
type Result struct {
	Success   bool              `json:"success"`
	Kind      ResultKind        `json:"-"`
	Container string            `json:"container,omitempty"`
	ItemCount int               `json:"itemCount,omitempty"`
	Data      []json.RawMessage `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
}
