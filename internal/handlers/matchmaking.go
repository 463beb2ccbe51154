// internal/handlers/matchmaking.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/matchmaking"
	"github.com/pulsefit/arena/internal/models"
)

type enqueueRequest struct {
	UserID       uuid.UUID           `json:"userId"`
	Mode         duel.Mode           `json:"mode"`
	ExerciseType models.ExerciseType `json:"exerciseType"`
}

// EnqueueHandler requests a match. The response carries either the created
// duel or a pending ticket id the client polls via the ticket endpoint.
func EnqueueHandler(engine *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid enqueue payload", http.StatusBadRequest)
			return
		}
		if req.UserID == uuid.Nil {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if req.Mode != duel.ModeQuick && req.Mode != duel.ModeRanked {
			http.Error(w, "mode must be QUICK or RANKED", http.StatusBadRequest)
			return
		}

		res, err := engine.Enqueue(r.Context(), req.UserID, req.Mode, req.ExerciseType)
		if err != nil {
			writeError(w, err)
			return
		}
		if res.Pending {
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"pending":  true,
				"ticketId": res.TicketID,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pending": false,
			"duel":    res.Duel.Snapshot(),
		})
	}
}

type withdrawRequest struct {
	TicketID uuid.UUID `json:"ticketId"`
}

// WithdrawHandler removes a queued ticket.
func WithdrawHandler(engine *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req withdrawRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid withdraw payload", http.StatusBadRequest)
			return
		}
		if err := engine.Withdraw(req.TicketID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
	}
}

// TicketHandler reports a ticket's status so clients can poll after a
// Pending enqueue result.
func TicketHandler(engine *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, "invalid ticket id", http.StatusBadRequest)
			return
		}
		info, err := engine.Ticket(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}
