// internal/handlers/duel.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/models"
)

type acceptRequest struct {
	DuelID uuid.UUID `json:"duelId"`
	UserID uuid.UUID `json:"userId"`
}

// AcceptHandler records a participant's confirmation of a created duel.
func AcceptHandler(resolver *duel.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req acceptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid accept payload", http.StatusBadRequest)
			return
		}
		if err := resolver.Accept(r.Context(), req.DuelID, req.UserID); err != nil {
			writeError(w, err)
			return
		}
		snap, err := resolver.Get(r.Context(), req.DuelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

type submitRequest struct {
	DuelID          uuid.UUID                `json:"duelId"`
	UserID          uuid.UUID                `json:"userId"`
	Sample          models.PerformanceSample `json:"sample"`
	IntegrityReport string                   `json:"integrityReport,omitempty"`
}

// SubmitHandler runs a performance submission through the trust pipeline.
// The decision (including REJECT) is a normal 200 response; only malformed
// input and state conflicts are HTTP errors.
func SubmitHandler(resolver *duel.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid submit payload", http.StatusBadRequest)
			return
		}
		res, err := resolver.Submit(r.Context(), req.DuelID, req.UserID, req.Sample, req.IntegrityReport)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GetDuelHandler returns a duel snapshot; deadline expiry is applied lazily
// on every read.
func GetDuelHandler(resolver *duel.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, "invalid duel id", http.StatusBadRequest)
			return
		}
		snap, err := resolver.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
