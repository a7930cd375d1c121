// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"goji.io"
	"goji.io/pat"
)

// RouteTable maps URL patterns to the handlers serving them.
type RouteTable map[*pat.Pattern]http.HandlerFunc

// Bind attaches every route in the table to the mux.
func (rt RouteTable) Bind(m *goji.Mux) {
	for p, h := range rt {
		m.Handle(p, h)
	}
}

// Endpoints lists the patterns in the table.
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for p := range rt {
		routes = append(routes, p.String())
	}
	return routes
}

// BuildMux returns a goji mux with the table's routes bound, plus a
// route listing endpoint.
func BuildMux(rt RouteTable) *goji.Mux {
	m := goji.NewMux()
	rt.Bind(m)
	m.Handle(pat.Get("/list-of-routes"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
			log.Println("error encoding list of routes to json", err)
		}
	}))
	return m
}
