// Package datatool implements the agent tool that queries data containers
// (Finance, HR, Sales) on behalf of the calling user.
//
// The tool validates the caller's bearer token and exchanges it for a
// delegated token via the broker, then forwards the query to the data
// backend with that token attached. The backend, not this tool, decides
// which containers the user may read; a 403 here is the backend enforcing
// container-level authorization against the user's own identity.
//
// All failure modes are classified into Result values with stable Kind
// discriminants, so the HTTP layer and tests branch on kinds rather than
// message text.
package datatool
