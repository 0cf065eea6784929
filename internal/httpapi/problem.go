package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/arbiterlabs/specd/internal/specerr"
)

// Problem is an RFC 7807 problem+json document.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem renders err as an RFC 7807 problem document, mapping its
// specerr.Kind to an HTTP status via specerr.HTTPStatus. Errors that don't
// carry a Kind are reported as 500 with a sanitized title, never the raw
// error text, per SPEC_FULL.md §7's "internal — catch-all; propagates a
// sanitized problem response".
func writeProblem(w http.ResponseWriter, err error) {
	kind := specerr.KindOf(err)
	status := specerr.HTTPStatus(kind)
	detail := err.Error()
	if kind == specerr.KindInternal {
		detail = "an internal error occurred"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "https://specd.dev/problems/" + string(kind),
		Title:  string(kind),
		Status: status,
		Detail: detail,
	})
}

func writeProblemf(w http.ResponseWriter, kind specerr.Kind, detail string) {
	writeProblem(w, specerr.New(kind, detail))
}
