// Package generichttp maps device operations onto HTTP routes and wraps
// them in an extensible route table that can be bound to a router.
package generichttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
)

// MethodPath is one HTTP route: a method and a path pattern.
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to their handlers.
type RouteTable map[MethodPath]http.HandlerFunc

// Bind attaches every route in the table to r.
func (rt RouteTable) Bind(r chi.Router) {
	for mp, handler := range rt {
		r.Method(mp.Method, mp.Path, handler)
	}
}

// Endpoints lists the table's routes as "METHOD path" strings, sorted.
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, fmt.Sprintf("%s %s", mp.Method, mp.Path))
	}
	sort.Strings(out)
	return out
}

// HTTPer is a type which exposes an HTTP interface to itself.
type HTTPer interface {
	RT() RouteTable
}

// EncodeJSON writes v to w as JSON with the appropriate content type.
// Encoding errors are reported to the client as 500s.
func EncodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// DecodeJSON parses the request body into v, reporting failures to the
// client as 400s.  It reports whether decoding succeeded.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
