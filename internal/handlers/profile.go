// internal/handlers/profile.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/models"
	"github.com/pulsefit/arena/internal/profile"
)

type calibrateRequest struct {
	UserID          uuid.UUID                `json:"userId"`
	Sample          models.PerformanceSample `json:"sample"`
	Attributes      models.UserAttributes    `json:"attributes"`
	IntegrityReport string                   `json:"integrityReport,omitempty"`
}

// CalibrateHandler accepts a standalone sample outside any duel to seed or
// refine the user's handicap. It runs the same trust pipeline as a duel
// submission.
func CalibrateHandler(resolver *duel.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req calibrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid calibrate payload", http.StatusBadRequest)
			return
		}
		res, err := resolver.Calibrate(r.Context(), req.UserID, req.Sample, req.Attributes, req.IntegrityReport)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GetProfileHandler returns the user's skill profile snapshot.
func GetProfileHandler(profiles *profile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("userId"))
		if err != nil {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		p, err := profiles.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
