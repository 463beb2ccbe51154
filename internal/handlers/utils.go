package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/matchmaking"
	"github.com/pulsefit/arena/internal/models"
)

// writeJSON serializes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses. Business outcomes
// (REJECT/FLAG decisions, Pending results) never pass through here; they are
// normal responses.
func writeError(w http.ResponseWriter, err error) {
	var invalid *models.InvalidSampleError
	var conflict *duel.StateConflictError
	switch {
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusBadRequest)
	case errors.As(err, &conflict):
		http.Error(w, conflict.Error(), http.StatusConflict)
	case errors.Is(err, duel.ErrDuelNotFound), errors.Is(err, matchmaking.ErrTicketNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
