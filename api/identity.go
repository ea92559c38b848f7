package api

import "net/http"

// Identity headers. The frontend sends the caller's stable identifier in one
// of these; X-User-ID is the primary name, X-User-Identifier is accepted as
// an alias.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserIdentifier = "X-User-Identifier"
)

// identity extracts the caller's identifier from the request headers. When
// both are absent it writes a 400 response and returns false.
func identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	if v := r.Header.Get(HeaderUserID); v != "" {
		return v, true
	}
	if v := r.Header.Get(HeaderUserIdentifier); v != "" {
		return v, true
	}
	writeError(w, http.StatusBadRequest, "missing identity",
		"X-User-ID or X-User-Identifier header is required")
	return "", false
}
