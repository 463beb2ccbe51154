// internal/database/duel.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pulsefit/arena/internal/duel"
)

// SaveDuel upserts the duel's current snapshot. Submissions, acceptance, and
// handicap snapshots travel as jsonb; the scalar columns exist for querying.
func (s *Store) SaveDuel(ctx context.Context, snap duel.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal duel snapshot: %w", err)
	}

	q := `
	INSERT INTO duels (id, mode, exercise_type, state, created_at, deadline, winner_id, body)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
	       state = EXCLUDED.state,
	       winner_id = EXCLUDED.winner_id,
	       body = EXCLUDED.body
	`
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			snap.DuelID, string(snap.Mode), string(snap.ExerciseType), string(snap.State),
			snap.CreatedAt, snap.Deadline, snap.WinnerID, body,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to upsert duel %s: %w", snap.DuelID, err)
	}
	return nil
}
