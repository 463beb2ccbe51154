// internal/trust/scorer_test.go
package trust

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

var scorerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func makeSample(metric float64, confidence float64, duration time.Duration) models.PerformanceSample {
	return models.PerformanceSample{
		SampleID:          uuid.New(),
		UserID:            uuid.New(),
		ExerciseType:      models.ExercisePushups,
		RawMetric:         metric,
		Confidence:        confidence,
		StartedAt:         scorerNow.Add(-duration),
		EndedAt:           scorerNow,
		DeviceFingerprint: "fp-1",
	}
}

func TestScoreCleanSample(t *testing.T) {
	cfg := config.New()
	s := makeSample(20, 0.9, time.Minute)

	a := Score(s, nil, true, cfg.Trust, cfg.Baselines, scorerNow)
	assert.Equal(t, 1.0, a.Score)
	assert.Empty(t, a.AnomalyFlags)
	assert.Equal(t, s.SampleID, a.SampleID)
}

func TestScoreImpossibleRateCapsScore(t *testing.T) {
	cfg := config.New()
	// 30 pushups in 5 seconds is 6 reps/sec, far past the 2/sec ceiling.
	s := makeSample(30, 0.95, 5*time.Second)

	a := Score(s, nil, true, cfg.Trust, cfg.Baselines, scorerNow)
	assert.True(t, a.HasFlag(models.FlagImpossibleRate))
	assert.LessOrEqual(t, a.Score, 0.05)
}

func TestScoreLowConfidenceHalves(t *testing.T) {
	cfg := config.New()
	s := makeSample(20, 0.5, time.Minute)

	a := Score(s, nil, true, cfg.Trust, cfg.Baselines, scorerNow)
	assert.True(t, a.HasFlag(models.FlagLowConfidence))
	assert.InDelta(t, 0.5, a.Score, 1e-9)
}

func TestScoreDeviceMismatchPenalty(t *testing.T) {
	cfg := config.New()
	s := makeSample(20, 0.9, time.Minute)

	a := Score(s, nil, false, cfg.Trust, cfg.Baselines, scorerNow)
	assert.True(t, a.HasFlag(models.FlagDeviceMismatch))
	assert.InDelta(t, 1.0-cfg.Trust.DevicePenalty, a.Score, 1e-9)
}

func TestScoreRepeatedPattern(t *testing.T) {
	cfg := config.New()
	// Three prior samples with an identical 3s-per-rep signature.
	var recent []models.PerformanceSample
	for i := 0; i < 3; i++ {
		recent = append(recent, makeSample(20, 0.9, time.Minute))
	}
	s := makeSample(20, 0.9, time.Minute)

	a := Score(s, recent, true, cfg.Trust, cfg.Baselines, scorerNow)
	assert.True(t, a.HasFlag(models.FlagRepeatedPattern))
	assert.InDelta(t, 1.0-cfg.Trust.RepeatPenalty, a.Score, 1e-9)
}

func TestScoreNoRepeatFlagForVariedTiming(t *testing.T) {
	cfg := config.New()
	recent := []models.PerformanceSample{
		makeSample(20, 0.9, 40*time.Second),
		makeSample(20, 0.9, 70*time.Second),
	}
	s := makeSample(20, 0.9, 55*time.Second)

	a := Score(s, recent, true, cfg.Trust, cfg.Baselines, scorerNow)
	assert.False(t, a.HasFlag(models.FlagRepeatedPattern))
}

func TestScoreNeverNegative(t *testing.T) {
	cfg := config.New()
	var recent []models.PerformanceSample
	for i := 0; i < 3; i++ {
		recent = append(recent, makeSample(20, 0.9, time.Minute))
	}
	// Low confidence, unknown device, and a repeated pattern stack up.
	s := makeSample(20, 0.2, time.Minute)

	a := Score(s, recent, false, cfg.Trust, cfg.Baselines, scorerNow)
	assert.GreaterOrEqual(t, a.Score, 0.0)
	assert.LessOrEqual(t, a.Score, 1.0)
}

func TestScoreDeterministic(t *testing.T) {
	cfg := config.New()
	s := makeSample(24, 0.7, 90*time.Second)
	recent := []models.PerformanceSample{makeSample(22, 0.8, time.Minute)}

	first := Score(s, recent, true, cfg.Trust, cfg.Baselines, scorerNow)
	for i := 0; i < 5; i++ {
		again := Score(s, recent, true, cfg.Trust, cfg.Baselines, scorerNow)
		require.Equal(t, first, again)
	}
}
