// internal/duel/resolver.go
package duel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/metrics"
	"github.com/pulsefit/arena/internal/models"
	"github.com/pulsefit/arena/internal/profile"
	"github.com/pulsefit/arena/internal/trust"
)

// ErrDuelNotFound is returned for unknown duel ids.
var ErrDuelNotFound = errors.New("duel not found")

// Repository persists duel snapshots. The pgx implementation is
// internal/database; tests use fakes.
type Repository interface {
	SaveDuel(ctx context.Context, snap Snapshot) error
}

// DeviceRegistry tracks each user's known device fingerprint digests.
type DeviceRegistry interface {
	Known(ctx context.Context, userID uuid.UUID, digest string) (bool, error)
	HasAny(ctx context.Context, userID uuid.UUID) (bool, error)
	Register(ctx context.Context, userID uuid.UUID, digest string) error
}

// ReportChecker verifies signed integrity reports; trust.ReportVerifier is
// the production implementation.
type ReportChecker interface {
	Verify(token string, userID uuid.UUID, fingerprintDigest string) error
}

// SubmitResult is returned from Submit: the decision, the duel state after
// intake, and the anomaly flags surfaced to the user.
type SubmitResult struct {
	Decision     models.Decision      `json:"decision"`
	DuelState    State                `json:"duelState"`
	AnomalyFlags []models.AnomalyFlag `json:"anomalyFlags,omitempty"`
	Score        float64              `json:"score"`
}

// Resolver orchestrates the duel lifecycle: creation, acceptance, submission
// intake through the trust pipeline, winner determination, and expiry.
type Resolver struct {
	store    *Store
	profiles *profile.Store
	devices  DeviceRegistry
	audit    profile.AuditLog
	repo     Repository
	reports  ReportChecker
	emit     EmitFunc
	cfg      *config.Config
	logger   *logrus.Logger

	// now is swappable for tests.
	now func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewResolver wires a resolver. devices, audit, repo, and reports may be nil
// (in-memory operation, e.g. tests); emit may be nil to drop events. Call
// Start to run the deadline sweep and Close to stop it.
func NewResolver(store *Store, profiles *profile.Store, devices DeviceRegistry, audit profile.AuditLog, repo Repository, reports ReportChecker, emit EmitFunc, cfg *config.Config, logger *logrus.Logger) *Resolver {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Resolver{
		store:    store,
		profiles: profiles,
		devices:  devices,
		audit:    audit,
		repo:     repo,
		reports:  reports,
		emit:     emit,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic deadline sweep. Expiry is also checked lazily
// on every read, so the sweep only guarantees progress when nobody is looking.
func (r *Resolver) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Duel.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.sweep(context.Background())
			}
		}
	}()
}

// Close stops the sweep loop.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// CreateDuel builds and registers a duel with frozen handicaps and emits
// duel_created. Matchmaking calls this at the instant two tickets pair.
func (r *Resolver) CreateDuel(ctx context.Context, mode Mode, exercise models.ExerciseType, a, b uuid.UUID, handicapA, handicapB float64) (*Duel, error) {
	deadline := r.cfg.Duel.QuickDeadline()
	if mode == ModeRanked {
		deadline = r.cfg.Duel.RankedDeadline()
	}
	now := r.now()
	d := New(mode, exercise, a, b, handicapA, handicapB, now, deadline)
	r.store.Add(d)

	if r.repo != nil {
		if err := r.repo.SaveDuel(ctx, d.Snapshot()); err != nil {
			r.store.Delete(d.ID)
			return nil, fmt.Errorf("failed to persist duel %s: %w", d.ID, err)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"duel_id":  d.ID,
		"mode":     mode,
		"exercise": exercise,
	}).Info("duel created")
	r.emit(Event{Type: EventDuelCreated, DuelID: d.ID, State: StateCreated, Timestamp: now})
	return d, nil
}

// Accept records a participant's confirmation. Once both have confirmed, the
// duel moves through ACCEPTED into IN_PROGRESS and begins taking submissions.
func (r *Resolver) Accept(ctx context.Context, duelID, userID uuid.UUID) error {
	d, ok := r.store.Get(duelID)
	if !ok {
		return ErrDuelNotFound
	}
	now := r.now()

	d.Mu.Lock()
	r.expireLocked(ctx, d, now)
	if d.State != StateCreated {
		st := d.State
		d.Mu.Unlock()
		return &StateConflictError{DuelID: duelID, State: st, Op: "accept"}
	}
	if !d.HasParticipant(userID) {
		d.Mu.Unlock()
		return &StateConflictError{DuelID: duelID, State: d.State, Op: "accept as non-participant"}
	}
	d.AcceptedBy[userID] = true
	both := d.AcceptedBy[d.Participants[0]] && d.AcceptedBy[d.Participants[1]]
	if both {
		d.State = StateInProgress
	}
	snap := d.snapshotLocked()
	d.Mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveDuel(ctx, snap); err != nil {
			return fmt.Errorf("failed to persist duel %s: %w", duelID, err)
		}
	}
	if both {
		r.emit(Event{Type: EventDuelAccepted, DuelID: duelID, State: StateAccepted, Timestamp: now})
		r.emit(Event{Type: EventDuelInProgress, DuelID: duelID, State: StateInProgress, Timestamp: now})
	}
	return nil
}

// Get returns a snapshot of the duel, enforcing deadline expiry lazily so an
// overdue duel is never observed in a live state.
func (r *Resolver) Get(ctx context.Context, duelID uuid.UUID) (Snapshot, error) {
	d, ok := r.store.Get(duelID)
	if !ok {
		return Snapshot{}, ErrDuelNotFound
	}
	d.Mu.Lock()
	r.expireLocked(ctx, d, r.now())
	snap := d.snapshotLocked()
	d.Mu.Unlock()
	return snap, nil
}

// Submit runs a performance sample through the full intake pipeline:
// validation, trust scoring, anti-cheat verification, audit append, profile
// update, and duel resolution. The pipeline completes synchronously before
// the submission is acknowledged, because the decision determines whether a
// resubmission slot is offered. Submissions for the same duel are processed
// strictly in arrival order.
func (r *Resolver) Submit(ctx context.Context, duelID, userID uuid.UUID, sample models.PerformanceSample, integrityReport string) (SubmitResult, error) {
	started := time.Now()
	defer func() {
		metrics.SubmissionSeconds.Observe(time.Since(started).Seconds())
	}()

	if err := sample.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if sample.UserID != userID {
		return SubmitResult{}, &models.InvalidSampleError{Field: "userId", Reason: "does not match submitter"}
	}

	d, ok := r.store.Get(duelID)
	if !ok {
		return SubmitResult{}, ErrDuelNotFound
	}

	d.intakeMu.Lock()
	defer d.intakeMu.Unlock()

	now := r.now()
	if err := r.checkSubmittable(ctx, d, userID, now); err != nil {
		return SubmitResult{}, err
	}

	// Consult external state with no duel lock held.
	digest := trust.FingerprintDigest(sample.DeviceFingerprint)
	recent, err := r.profiles.RecentSamples(ctx, userID)
	if err != nil {
		return SubmitResult{}, err
	}
	known, err := r.deviceKnown(ctx, userID, digest)
	if err != nil {
		return SubmitResult{}, err
	}

	assessment := trust.Score(sample, recent, known, r.cfg.Trust, r.cfg.Baselines, now)
	if integrityReport != "" && r.reports != nil {
		if verr := r.reports.Verify(integrityReport, userID, digest); verr != nil {
			assessment.AnomalyFlags = append(assessment.AnomalyFlags, models.FlagTamperReport)
			r.logger.WithFields(logrus.Fields{
				"duel_id": duelID,
				"user_id": userID,
				"error":   verr,
			}).Warn("integrity report failed verification")
		}
	}
	assessment.Decision = trust.Verify(assessment, r.cfg.Trust)

	// Audit first: a decision that cannot be recorded is not applied.
	if r.audit != nil {
		if err := r.audit.AppendAssessment(ctx, assessment); err != nil {
			return SubmitResult{}, fmt.Errorf("failed to append assessment audit: %w", err)
		}
	}

	// Apply to the duel, persist, then update the profile. The profile store
	// persists before committing, so a storage failure there leaves the
	// UserSkillProfile unmutated; the duel mutation is then reverted and
	// re-persisted so neither side commits alone.
	res, snap, revert, err := r.applyDecision(ctx, d, userID, sample, assessment, now)
	if err != nil {
		return SubmitResult{}, err
	}

	if _, err := r.profiles.RecordDecision(ctx, sample, assessment.Decision, now); err != nil {
		revert(ctx)
		return SubmitResult{}, err
	}
	if assessment.Decision == models.DecisionAccept && r.devices != nil {
		if rerr := r.devices.Register(ctx, userID, digest); rerr != nil {
			r.logger.WithError(rerr).Warn("failed to register device fingerprint")
		}
	}

	metrics.SubmissionsTotal.WithLabelValues(string(assessment.Decision)).Inc()
	r.emit(Event{
		Type:   EventSubmissionDecided,
		DuelID: duelID,
		UserID: &userID,
		State:  snap.State,
		Payload: map[string]interface{}{
			"decision": assessment.Decision,
			"score":    assessment.Score,
			"flags":    assessment.AnomalyFlags,
		},
		Timestamp: now,
	})
	if snap.State == StateCompleted {
		metrics.DuelsCompleted.Inc()
		r.emit(Event{
			Type:      EventDuelCompleted,
			DuelID:    duelID,
			UserID:    snap.WinnerID,
			State:     StateCompleted,
			Payload:   map[string]interface{}{"winnerId": snap.WinnerID},
			Timestamp: now,
		})
	}
	return res, nil
}

// deviceKnown consults the registry. A user with no registered devices yet
// gets their first device for free; the known set is seeded by whichever
// accepted sample arrives first.
func (r *Resolver) deviceKnown(ctx context.Context, userID uuid.UUID, digest string) (bool, error) {
	if r.devices == nil {
		return true, nil
	}
	known, err := r.devices.Known(ctx, userID, digest)
	if err != nil {
		return false, fmt.Errorf("device registry lookup failed: %w", err)
	}
	if known {
		return true, nil
	}
	any, err := r.devices.HasAny(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("device registry lookup failed: %w", err)
	}
	return !any, nil
}

// checkSubmittable validates duel state, participation, and the resubmission
// cap under the duel lock.
func (r *Resolver) checkSubmittable(ctx context.Context, d *Duel, userID uuid.UUID, now time.Time) error {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	r.expireLocked(ctx, d, now)
	if !d.HasParticipant(userID) {
		return &StateConflictError{DuelID: d.ID, State: d.State, Op: "submit as non-participant"}
	}
	if d.State != StateInProgress {
		return &StateConflictError{DuelID: d.ID, State: d.State, Op: "submit"}
	}
	if _, dup := d.Submissions[userID]; dup {
		return &StateConflictError{DuelID: d.ID, State: d.State, Op: "submit twice"}
	}
	if d.Resubmissions[userID] > r.cfg.Duel.ResubmissionCap {
		return &StateConflictError{DuelID: d.ID, State: d.State, Op: "resubmit past cap"}
	}
	return nil
}

// applyDecision mutates the duel for the decision, resolves it if both
// participants now have a valid submission, and persists the snapshot. On
// persistence failure the in-memory mutation is rolled back. On success the
// returned revert func undoes the mutation and re-persists, for when a later
// pipeline stage fails.
func (r *Resolver) applyDecision(ctx context.Context, d *Duel, userID uuid.UUID, sample models.PerformanceSample, a models.TrustAssessment, now time.Time) (SubmitResult, Snapshot, func(context.Context), error) {
	d.Mu.Lock()
	if d.State != StateInProgress {
		st := d.State
		d.Mu.Unlock()
		return SubmitResult{}, Snapshot{}, nil, &StateConflictError{DuelID: d.ID, State: st, Op: "submit"}
	}

	rollback := func() {}
	switch a.Decision {
	case models.DecisionReject:
		d.Resubmissions[userID]++
		rollback = func() { d.Resubmissions[userID]-- }
	default:
		sub := &Submission{Sample: sample, Decision: a.Decision, SubmittedAt: now}
		d.Submissions[userID] = sub
		prevState := d.State
		prevWinner := d.WinnerID
		if len(d.Submissions) == 2 {
			r.resolveLocked(d)
		}
		rollback = func() {
			delete(d.Submissions, userID)
			d.State = prevState
			d.WinnerID = prevWinner
		}
	}
	snap := d.snapshotLocked()
	d.Mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveDuel(ctx, snap); err != nil {
			d.Mu.Lock()
			rollback()
			d.Mu.Unlock()
			return SubmitResult{}, Snapshot{}, nil, fmt.Errorf("failed to persist duel %s: %w", d.ID, err)
		}
	}

	revert := func(rctx context.Context) {
		d.Mu.Lock()
		rollback()
		reverted := d.snapshotLocked()
		d.Mu.Unlock()
		if r.repo != nil {
			if err := r.repo.SaveDuel(rctx, reverted); err != nil {
				r.logger.WithError(err).WithField("duel_id", d.ID).Error("failed to persist duel rollback")
			}
		}
	}

	return SubmitResult{
		Decision:     a.Decision,
		DuelState:    snap.State,
		AnomalyFlags: a.AnomalyFlags,
		Score:        a.Score,
	}, snap, revert, nil
}

// resolveLocked determines the winner from normalized scores and completes
// the duel. Caller must hold d.Mu and have verified both submissions exist.
func (r *Resolver) resolveLocked(d *Duel) {
	a, b := d.Participants[0], d.Participants[1]
	sa, sb := d.Submissions[a], d.Submissions[b]
	na := r.normalizedScore(d, a, sa)
	nb := r.normalizedScore(d, b, sb)

	var winner uuid.UUID
	switch {
	case na > nb:
		winner = a
	case nb > na:
		winner = b
	case sa.SubmittedAt.Before(sb.SubmittedAt):
		winner = a
	default:
		winner = b
	}
	d.WinnerID = &winner
	d.State = StateCompleted

	r.logger.WithFields(logrus.Fields{
		"duel_id": d.ID,
		"winner":  winner,
		"score_a": na,
		"score_b": nb,
	}).Info("duel completed")
}

// normalizedScore divides raw performance by the frozen handicap snapshot.
// A FLAGged submission's score is weighted by cfg.Trust.FlagWeight.
func (r *Resolver) normalizedScore(d *Duel, userID uuid.UUID, sub *Submission) float64 {
	h := d.HandicapSnapshot[userID]
	if h <= 0 {
		h = models.NeutralHandicap
	}
	n := sub.Sample.RawMetric / h
	if sub.Decision == models.DecisionFlag {
		n *= r.cfg.Trust.FlagWeight
	}
	return n
}

// expireLocked enforces the deadline. A duel past its deadline with exactly
// one valid submission completes as a default win for the submitter, which
// discourages no-shows; with fewer it expires with no winner and no handicap
// impact. Caller must hold d.Mu.
func (r *Resolver) expireLocked(ctx context.Context, d *Duel, now time.Time) {
	if d.State.Terminal() || now.Before(d.Deadline) {
		return
	}

	var ev Event
	if d.State == StateInProgress && len(d.Submissions) == 1 {
		var winner uuid.UUID
		for id := range d.Submissions {
			winner = id
		}
		d.WinnerID = &winner
		d.State = StateCompleted
		metrics.DuelsCompleted.Inc()
		ev = Event{
			Type:      EventDuelCompleted,
			DuelID:    d.ID,
			UserID:    &winner,
			State:     StateCompleted,
			Payload:   map[string]interface{}{"winnerId": winner, "defaultWin": true},
			Timestamp: now,
		}
		r.logger.WithFields(logrus.Fields{"duel_id": d.ID, "winner": winner}).Info("duel completed by default win")
	} else {
		d.State = StateExpired
		metrics.DuelsExpired.Inc()
		ev = Event{Type: EventDuelExpired, DuelID: d.ID, State: StateExpired, Timestamp: now}
		r.logger.WithField("duel_id", d.ID).Info("duel expired")
	}

	snap := d.snapshotLocked()
	if r.repo != nil {
		if err := r.repo.SaveDuel(ctx, snap); err != nil {
			r.logger.WithError(err).WithField("duel_id", d.ID).Error("failed to persist duel expiry")
		}
	}
	r.emit(ev)
}

// sweep applies deadline expiry across all live duels.
func (r *Resolver) sweep(ctx context.Context) {
	now := r.now()
	for _, d := range r.store.All() {
		d.Mu.Lock()
		r.expireLocked(ctx, d, now)
		d.Mu.Unlock()
	}
}

// AdminCancel moves a non-terminal duel to CANCELLED. Reachable only through
// an external administrative surface; no HTTP route is registered in this
// core.
func (r *Resolver) AdminCancel(ctx context.Context, duelID uuid.UUID, reason string) error {
	d, ok := r.store.Get(duelID)
	if !ok {
		return ErrDuelNotFound
	}
	now := r.now()
	d.Mu.Lock()
	if d.State.Terminal() {
		st := d.State
		d.Mu.Unlock()
		return &StateConflictError{DuelID: duelID, State: st, Op: "cancel"}
	}
	d.State = StateCancelled
	snap := d.snapshotLocked()
	d.Mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveDuel(ctx, snap); err != nil {
			return fmt.Errorf("failed to persist duel %s: %w", duelID, err)
		}
	}
	r.logger.WithFields(logrus.Fields{"duel_id": duelID, "reason": reason}).Info("duel cancelled")
	r.emit(Event{
		Type:      EventDuelCancelled,
		DuelID:    duelID,
		State:     StateCancelled,
		Payload:   map[string]interface{}{"reason": reason},
		Timestamp: now,
	})
	return nil
}

// Calibrate runs a standalone (non-duel) sample through the same trust
// pipeline so a new user can establish a handicap before their first duel.
// An ACCEPT seeds or refines the profile exactly like a duel submission.
func (r *Resolver) Calibrate(ctx context.Context, userID uuid.UUID, sample models.PerformanceSample, attrs models.UserAttributes, integrityReport string) (SubmitResult, error) {
	if err := sample.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if sample.UserID != userID {
		return SubmitResult{}, &models.InvalidSampleError{Field: "userId", Reason: "does not match submitter"}
	}
	if !attrs.Empty() {
		if err := r.profiles.SetAttributes(ctx, userID, attrs); err != nil {
			return SubmitResult{}, err
		}
	}

	now := r.now()
	digest := trust.FingerprintDigest(sample.DeviceFingerprint)
	recent, err := r.profiles.RecentSamples(ctx, userID)
	if err != nil {
		return SubmitResult{}, err
	}
	known, err := r.deviceKnown(ctx, userID, digest)
	if err != nil {
		return SubmitResult{}, err
	}

	assessment := trust.Score(sample, recent, known, r.cfg.Trust, r.cfg.Baselines, now)
	if integrityReport != "" && r.reports != nil {
		if verr := r.reports.Verify(integrityReport, userID, digest); verr != nil {
			assessment.AnomalyFlags = append(assessment.AnomalyFlags, models.FlagTamperReport)
		}
	}
	assessment.Decision = trust.Verify(assessment, r.cfg.Trust)

	if r.audit != nil {
		if err := r.audit.AppendAssessment(ctx, assessment); err != nil {
			return SubmitResult{}, fmt.Errorf("failed to append assessment audit: %w", err)
		}
	}
	if _, err := r.profiles.RecordDecision(ctx, sample, assessment.Decision, now); err != nil {
		return SubmitResult{}, err
	}
	if assessment.Decision == models.DecisionAccept && r.devices != nil {
		if rerr := r.devices.Register(ctx, userID, digest); rerr != nil {
			r.logger.WithError(rerr).Warn("failed to register device fingerprint")
		}
	}
	metrics.SubmissionsTotal.WithLabelValues(string(assessment.Decision)).Inc()
	return SubmitResult{Decision: assessment.Decision, AnomalyFlags: assessment.AnomalyFlags, Score: assessment.Score}, nil
}
