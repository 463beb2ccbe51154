// internal/database/audit.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsefit/arena/internal/models"
)

// AppendAssessment records a trust assessment in the append-only audit trail.
// Rows are never updated or deleted.
func (s *Store) AppendAssessment(ctx context.Context, a models.TrustAssessment) error {
	flags := make([]string, len(a.AnomalyFlags))
	for i, f := range a.AnomalyFlags {
		flags[i] = string(f)
	}
	q := `
	INSERT INTO trust_assessments
	       (sample_id, user_id, score, anomaly_flags, decision, assessed_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			a.SampleID, a.UserID, a.Score, flags, string(a.Decision), a.AssessedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert trust assessment: %w", err)
	}
	return nil
}

// AppendRecompute logs a handicap recompute so the profile history can be
// replayed deterministically during audits.
func (s *Store) AppendRecompute(ctx context.Context, userID uuid.UUID, oldHandicap, newHandicap float64, sampleCount int, at time.Time) error {
	q := `
	INSERT INTO handicap_recomputes
	       (user_id, old_handicap, new_handicap, sample_count, recomputed_at)
	VALUES ($1, $2, $3, $4, $5)
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, userID, oldHandicap, newHandicap, sampleCount, at)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert handicap recompute: %w", err)
	}
	return nil
}
