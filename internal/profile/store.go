// internal/profile/store.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/handicap"
	"github.com/pulsefit/arena/internal/models"
	"github.com/pulsefit/arena/internal/trust"
)

// Repository persists UserSkillProfile rows. Implementations live with the
// external persistence collaborator; the pgx one is internal/database.
type Repository interface {
	// GetProfile returns (nil, nil) when no row exists yet.
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserSkillProfile, error)
	SaveProfile(ctx context.Context, p *models.UserSkillProfile) error
}

// AuditLog is the append-only audit trail for trust assessments and handicap
// recomputes.
type AuditLog interface {
	AppendAssessment(ctx context.Context, a models.TrustAssessment) error
	AppendRecompute(ctx context.Context, userID uuid.UUID, oldHandicap, newHandicap float64, sampleCount int, at time.Time) error
}

// userState is the in-memory working set for one user. Its mutex serializes
// all recomputes for that user so concurrent submissions cannot lose updates.
type userState struct {
	mu              sync.Mutex
	profile         *models.UserSkillProfile
	accepted        []models.PerformanceSample
	recent          []models.PerformanceSample
	lastTrustUpdate time.Time
}

// Store keeps skill profiles in memory, backed by a Repository. Every
// mutation is persisted before the in-memory state is committed, so a
// persistence failure leaves the profile untouched.
type Store struct {
	repo      Repository
	audit     AuditLog
	hcfg      config.HandicapConfig
	tcfg      config.TrustConfig
	baselines map[string]config.ExerciseBaseline
	logger    *logrus.Logger

	mu    sync.Mutex
	users map[uuid.UUID]*userState
}

// NewStore creates a profile store. repo and audit may be nil in tests; a nil
// repo makes the store purely in-memory.
func NewStore(repo Repository, audit AuditLog, cfg *config.Config, logger *logrus.Logger) *Store {
	return &Store{
		repo:      repo,
		audit:     audit,
		hcfg:      cfg.Handicap,
		tcfg:      cfg.Trust,
		baselines: cfg.Baselines,
		logger:    logger,
		users:     make(map[uuid.UUID]*userState),
	}
}

// state returns the user's working set, loading the persisted profile on
// first touch. The store lock only guards the map; repository reads happen
// outside any per-user lock.
func (s *Store) state(ctx context.Context, userID uuid.UUID) (*userState, error) {
	s.mu.Lock()
	st, ok := s.users[userID]
	if ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	var p *models.UserSkillProfile
	if s.repo != nil {
		loaded, err := s.repo.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
		}
		p = loaded
	}
	if p == nil {
		p = models.NewUserSkillProfile(userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.users[userID]; ok {
		// lost the race, keep the winner
		return st, nil
	}
	st = &userState{profile: p, lastTrustUpdate: p.LastCalibratedAt}
	s.users[userID] = st
	return st, nil
}

// Get returns a copy of the user's profile, creating the default neutral
// profile on first touch.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (models.UserSkillProfile, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return models.UserSkillProfile{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.profile, nil
}

// Handicap returns the user's current handicap. Matchmaking snapshots this
// value into the duel at creation time.
func (s *Store) Handicap(ctx context.Context, userID uuid.UUID) (float64, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Handicap, nil
}

// SetAttributes records declared attributes used for the cold-start prior.
func (s *Store) SetAttributes(ctx context.Context, userID uuid.UUID, attrs models.UserAttributes) error {
	st, err := s.state(ctx, userID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	next := *st.profile
	next.Attributes = attrs
	if next.CalibrationSampleCount == 0 {
		// With no accepted samples yet the prior is the whole handicap.
		if h, err := handicap.Compute(nil, attrs, s.hcfg, s.baselines, time.Now()); err == nil {
			next.Handicap = h
		}
	}
	if s.repo != nil {
		if err := s.repo.SaveProfile(ctx, &next); err != nil {
			return fmt.Errorf("failed to persist profile %s: %w", userID, err)
		}
	}
	*st.profile = next
	return nil
}

// RecentSamples returns the user's recently scored samples (any decision),
// consumed by the scorer's pattern-repetition heuristic.
func (s *Store) RecentSamples(ctx context.Context, userID uuid.UUID) ([]models.PerformanceSample, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.PerformanceSample, len(st.recent))
	copy(out, st.recent)
	return out, nil
}

// RecordDecision applies a final decision for a sample to the user's profile:
// the trust rating is decayed and adjusted for every decision, and an ACCEPT
// additionally appends the sample to the accepted history and recomputes the
// handicap. Recomputes for the same user are serialized by the per-user lock.
// The updated profile is persisted before the in-memory commit; on error
// nothing is applied.
func (s *Store) RecordDecision(ctx context.Context, sample models.PerformanceSample, decision models.Decision, now time.Time) (models.UserSkillProfile, error) {
	st, err := s.state(ctx, sample.UserID)
	if err != nil {
		return models.UserSkillProfile{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	next := *st.profile
	next.TrustRating = trust.NextTrustRating(st.profile.TrustRating, st.lastTrustUpdate, now, decision, s.tcfg)

	oldHandicap := st.profile.Handicap
	recomputed := false
	if decision == models.DecisionAccept {
		history := append(append([]models.PerformanceSample{}, st.accepted...), sample)
		h, herr := handicap.Compute(history, next.Attributes, s.hcfg, s.baselines, now)
		if herr != nil && !errors.Is(herr, handicap.ErrInsufficientData) {
			return models.UserSkillProfile{}, herr
		}
		if herr == nil {
			next.Handicap = h
			recomputed = true
		}
		next.CalibrationSampleCount = len(history)
		next.LastCalibratedAt = now
	}

	if s.repo != nil {
		if err := s.repo.SaveProfile(ctx, &next); err != nil {
			return models.UserSkillProfile{}, fmt.Errorf("failed to persist profile %s: %w", sample.UserID, err)
		}
	}
	if recomputed && s.audit != nil {
		if err := s.audit.AppendRecompute(ctx, sample.UserID, oldHandicap, next.Handicap, next.CalibrationSampleCount, now); err != nil {
			return models.UserSkillProfile{}, fmt.Errorf("failed to append recompute audit for %s: %w", sample.UserID, err)
		}
	}

	*st.profile = next
	st.lastTrustUpdate = now
	if decision == models.DecisionAccept {
		st.accepted = append(st.accepted, sample)
	}
	st.recent = append(st.recent, sample)
	if max := s.tcfg.RecentWindow * 2; max > 0 && len(st.recent) > max {
		st.recent = st.recent[len(st.recent)-max:]
	}

	if s.logger != nil && recomputed {
		s.logger.WithFields(logrus.Fields{
			"user_id":      sample.UserID,
			"old_handicap": oldHandicap,
			"new_handicap": next.Handicap,
			"samples":      next.CalibrationSampleCount,
		}).Debug("handicap recomputed")
	}
	return next, nil
}
