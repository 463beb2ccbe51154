// internal/profile/store_test.go
package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

var storeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeRepo is an in-memory Repository with a switchable failure mode.
type fakeRepo struct {
	profiles map[uuid.UUID]models.UserSkillProfile
	failSave bool
	saves    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[uuid.UUID]models.UserSkillProfile)}
}

func (f *fakeRepo) GetProfile(_ context.Context, userID uuid.UUID) (*models.UserSkillProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *fakeRepo) SaveProfile(_ context.Context, p *models.UserSkillProfile) error {
	if f.failSave {
		return errors.New("storage unavailable")
	}
	f.saves++
	f.profiles[p.UserID] = *p
	return nil
}

// fakeAudit counts appended audit entries.
type fakeAudit struct {
	assessments int
	recomputes  int
	fail        bool
}

func (f *fakeAudit) AppendAssessment(context.Context, models.TrustAssessment) error {
	if f.fail {
		return errors.New("audit unavailable")
	}
	f.assessments++
	return nil
}

func (f *fakeAudit) AppendRecompute(context.Context, uuid.UUID, float64, float64, int, time.Time) error {
	if f.fail {
		return errors.New("audit unavailable")
	}
	f.recomputes++
	return nil
}

func testStore(repo Repository, audit AuditLog) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(repo, audit, config.New(), logger)
}

func acceptedSample(userID uuid.UUID, metric float64) models.PerformanceSample {
	return models.PerformanceSample{
		SampleID:          uuid.New(),
		UserID:            userID,
		ExerciseType:      models.ExercisePushups,
		RawMetric:         metric,
		Confidence:        0.9,
		StartedAt:         storeNow.Add(-time.Minute),
		EndedAt:           storeNow,
		DeviceFingerprint: "fp-1",
	}
}

func TestGetCreatesNeutralProfile(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	p, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, models.NeutralHandicap, p.Handicap)
	assert.Equal(t, models.NeutralTrustRating, p.TrustRating)
	assert.Zero(t, p.CalibrationSampleCount)
}

func TestGetLoadsPersistedProfile(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	repo.profiles[userID] = models.UserSkillProfile{
		UserID:                 userID,
		Handicap:               1.8,
		TrustRating:            72,
		CalibrationSampleCount: 9,
	}

	s := testStore(repo, nil)
	p, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1.8, p.Handicap)
	assert.Equal(t, 72.0, p.TrustRating)
	assert.Equal(t, 9, p.CalibrationSampleCount)
}

func TestSetAttributesSeedsPriorHandicap(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	err := s.SetAttributes(context.Background(), userID, models.UserAttributes{Age: 25, DeclaredLevel: models.LevelAdvanced})
	require.NoError(t, err)

	h, err := s.Handicap(context.Background(), userID)
	require.NoError(t, err)
	assert.InDelta(t, 1.4, h, 1e-9)
}

func TestSetAttributesKeepsCalibratedHandicap(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	_, err := s.RecordDecision(context.Background(), acceptedSample(userID, 20), models.DecisionAccept, storeNow)
	require.NoError(t, err)
	before, err := s.Handicap(context.Background(), userID)
	require.NoError(t, err)

	// Declaring a level after calibration must not reset the handicap to the
	// prior; the next recompute blends it in instead.
	err = s.SetAttributes(context.Background(), userID, models.UserAttributes{DeclaredLevel: models.LevelAdvanced})
	require.NoError(t, err)
	after, err := s.Handicap(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRecordDecisionAcceptRecomputes(t *testing.T) {
	repo := newFakeRepo()
	audit := &fakeAudit{}
	s := testStore(repo, audit)
	userID := uuid.New()

	// One accepted sample at 1.5x baseline, neutral prior weight 4/5:
	// 0.8*1.0 + 0.2*1.5 = 1.1.
	p, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionAccept, storeNow)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, p.Handicap, 1e-9)
	assert.Equal(t, 1, p.CalibrationSampleCount)
	assert.Equal(t, storeNow, p.LastCalibratedAt)
	assert.InDelta(t, 52, p.TrustRating, 0.01)

	assert.Equal(t, 1, audit.recomputes)
	assert.Equal(t, 1, repo.saves)
	assert.InDelta(t, 1.1, repo.profiles[userID].Handicap, 1e-9)
}

func TestRecordDecisionRejectLeavesHandicap(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	p, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionReject, storeNow)
	require.NoError(t, err)
	assert.Equal(t, models.NeutralHandicap, p.Handicap)
	assert.Zero(t, p.CalibrationSampleCount)
	assert.InDelta(t, 35, p.TrustRating, 0.01)
}

func TestRecordDecisionFlagOnlyAdjustsTrust(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	p, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionFlag, storeNow)
	require.NoError(t, err)
	assert.Equal(t, models.NeutralHandicap, p.Handicap)
	assert.InDelta(t, 45, p.TrustRating, 0.01)
}

func TestRecordDecisionPersistFailureLeavesProfileUnchanged(t *testing.T) {
	repo := newFakeRepo()
	s := testStore(repo, nil)
	userID := uuid.New()

	before, err := s.Get(context.Background(), userID)
	require.NoError(t, err)

	repo.failSave = true
	_, err = s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionAccept, storeNow)
	require.Error(t, err)

	after, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed persist must not mutate the in-memory profile")
	assert.Zero(t, repo.saves)

	// And once the repository recovers the same decision applies cleanly.
	repo.failSave = false
	p, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionAccept, storeNow)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CalibrationSampleCount)
}

func TestRecordDecisionAuditFailureLeavesProfileUnchanged(t *testing.T) {
	audit := &fakeAudit{fail: true}
	s := testStore(nil, audit)
	userID := uuid.New()

	_, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionAccept, storeNow)
	require.Error(t, err)

	p, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, models.NeutralHandicap, p.Handicap)
	assert.Zero(t, p.CalibrationSampleCount)
}

func TestRecentSamplesTracksEveryDecision(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	_, err := s.RecordDecision(context.Background(), acceptedSample(userID, 20), models.DecisionAccept, storeNow)
	require.NoError(t, err)
	_, err = s.RecordDecision(context.Background(), acceptedSample(userID, 25), models.DecisionReject, storeNow.Add(time.Minute))
	require.NoError(t, err)

	recent, err := s.RecentSamples(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRecentSamplesWindowBounded(t *testing.T) {
	cfg := config.New()
	s := testStore(nil, nil)
	userID := uuid.New()

	for i := 0; i < cfg.Trust.RecentWindow*3; i++ {
		_, err := s.RecordDecision(context.Background(), acceptedSample(userID, 20), models.DecisionReject, storeNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	recent, err := s.RecentSamples(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, recent, cfg.Trust.RecentWindow*2)
}

func TestRecordDecisionSequenceConverges(t *testing.T) {
	s := testStore(nil, nil)
	userID := uuid.New()

	// A steady stream of 1.5x-baseline accepts walks the handicap toward 1.5
	// as the prior shrinks away.
	var last models.UserSkillProfile
	for i := 0; i < 8; i++ {
		p, err := s.RecordDecision(context.Background(), acceptedSample(userID, 30), models.DecisionAccept, storeNow.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		last = p
	}
	assert.InDelta(t, 1.5, last.Handicap, 0.01)
	assert.Equal(t, 8, last.CalibrationSampleCount)
}
