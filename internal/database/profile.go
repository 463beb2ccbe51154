// internal/database/profile.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsefit/arena/internal/models"
)

// GetProfile loads a skill profile row, returning (nil, nil) when the user
// has never calibrated.
func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserSkillProfile, error) {
	var p models.UserSkillProfile
	q := `
	SELECT user_id, handicap, calibration_sample_count, last_calibrated_at,
	       trust_rating, age, declared_level
	FROM skill_profiles
	WHERE user_id = $1
	`
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&p.UserID, &p.Handicap, &p.CalibrationSampleCount, &p.LastCalibratedAt,
		&p.TrustRating, &p.Attributes.Age, &p.Attributes.DeclaredLevel,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query skill profile: %w", err)
	}
	return &p, nil
}

// SaveProfile upserts a skill profile. Profiles are never deleted, only
// superseded by newer rows' values.
func (s *Store) SaveProfile(ctx context.Context, p *models.UserSkillProfile) error {
	q := `
	INSERT INTO skill_profiles
	       (user_id, handicap, calibration_sample_count, last_calibrated_at,
	        trust_rating, age, declared_level)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
	       handicap = EXCLUDED.handicap,
	       calibration_sample_count = EXCLUDED.calibration_sample_count,
	       last_calibrated_at = EXCLUDED.last_calibrated_at,
	       trust_rating = EXCLUDED.trust_rating,
	       age = EXCLUDED.age,
	       declared_level = EXCLUDED.declared_level
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			p.UserID, p.Handicap, p.CalibrationSampleCount, p.LastCalibratedAt,
			p.TrustRating, p.Attributes.Age, p.Attributes.DeclaredLevel,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to upsert skill profile: %w", err)
	}
	return nil
}
