// Package handlers contains the HTTP handlers of the mission gateway.
// Handlers resolve the caller's session stores, call them, and return JSON.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/services"
	"github.com/pointid/mission-gateway/internal/session"
)

// StoreProvider returns the stores of a session
type StoreProvider interface {
	For(sessionID string, identity services.Identity) *services.Stores
}

func storesFor(p StoreProvider, r *http.Request) *services.Stores {
	s := session.FromContext(r.Context())
	return p.For(session.IDFromContext(r.Context()), services.Identity{AccountID: s.AccountID(), Role: s.Role()})
}

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError answers with the status matching err's kind and the
// message the toast shows.
func respondStoreError(w http.ResponseWriter, err error) {
	kind := services.ErrorKind(err)
	respondJSON(w, graphql.HTTPStatus(kind), map[string]string{
		"error": services.UserMessage(err),
		"kind":  string(kind),
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
