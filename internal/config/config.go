// Package config defines the engine's tunables and their loading order.
//
// Endpoint settings for postgres and redis stay plain environment variables
// (POSTGRES_*, REDIS_ADDR) read by their packages; everything algorithmic
// lives here so a deployment can retune thresholds without a code change.
package config

import (
	"time"
)

// ExerciseBaseline normalizes raw metrics: Metric is the reference value that
// maps to a 1.0 normalized performance, MaxPerSecond is the physiological
// ceiling on metric units per second used by the rate plausibility check.
type ExerciseBaseline struct {
	Metric       float64 `koanf:"metric"`
	MaxPerSecond float64 `koanf:"max_per_second"`
}

// HandicapConfig tunes the handicap calculator.
type HandicapConfig struct {
	// HalfLifeDays is the exponential decay half-life for sample weights.
	HalfLifeDays int `koanf:"half_life_days"`
	// PriorSamples is the accepted-sample count at which the declared-attribute
	// prior has fully shrunk to zero.
	PriorSamples int `koanf:"prior_samples"`
	// Min and Max clamp the computed handicap to bound exploitability.
	Min float64 `koanf:"min"`
	Max float64 `koanf:"max"`
}

// HalfLife returns the decay half-life as a duration.
func (c HandicapConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeDays) * 24 * time.Hour
}

// TrustConfig tunes the trust scorer, the verifier thresholds, and the trust
// rating update applied after each decision.
type TrustConfig struct {
	ConfidenceFloor     float64 `koanf:"confidence_floor"`
	LowConfidenceFactor float64 `koanf:"low_confidence_factor"`
	RepeatPenalty       float64 `koanf:"repeat_penalty"`
	RepeatEpsilon       float64 `koanf:"repeat_epsilon"`
	RepeatMinMatches    int     `koanf:"repeat_min_matches"`
	DevicePenalty       float64 `koanf:"device_penalty"`
	RecentWindow        int     `koanf:"recent_window"`

	AcceptScore float64 `koanf:"accept_score"`
	RejectScore float64 `koanf:"reject_score"`

	AcceptDelta       float64 `koanf:"accept_delta"`
	FlagDelta         float64 `koanf:"flag_delta"`
	RejectDelta       float64 `koanf:"reject_delta"`
	DecayHalfLifeDays int     `koanf:"decay_half_life_days"`

	// FlagWeight is the multiplier applied to a FLAGged submission's
	// normalized score when ranking a duel. Flagged samples never feed
	// handicap recompute regardless of this weight.
	FlagWeight float64 `koanf:"flag_weight"`
}

// DecayHalfLife returns the trust-rating decay half-life as a duration.
func (c TrustConfig) DecayHalfLife() time.Duration {
	return time.Duration(c.DecayHalfLifeDays) * 24 * time.Hour
}

// MatchmakingConfig tunes both queues.
type MatchmakingConfig struct {
	// QuickTolerance is the fixed ± handicap tolerance for quick matches.
	QuickTolerance float64 `koanf:"quick_tolerance"`
	// QuickWaitMS bounds how long an enqueue call blocks before Pending.
	QuickWaitMS int `koanf:"quick_wait_ms"`

	// Ranked matches start narrow and widen while a ticket waits.
	RankedStartTolerance float64 `koanf:"ranked_start_tolerance"`
	RankedWidenStep      float64 `koanf:"ranked_widen_step"`
	RankedWidenEveryMS   int     `koanf:"ranked_widen_every_ms"`
	RankedToleranceCap   float64 `koanf:"ranked_tolerance_cap"`
	RankedWaitMS         int     `koanf:"ranked_wait_ms"`

	// TicketTTLMS is how long a ticket may sit queued before lazy expiry.
	TicketTTLMS int `koanf:"ticket_ttl_ms"`
	// SweepIntervalMS drives the periodic queue sweep (widening + hygiene).
	SweepIntervalMS int `koanf:"sweep_interval_ms"`
}

func (c MatchmakingConfig) QuickWait() time.Duration  { return time.Duration(c.QuickWaitMS) * time.Millisecond }
func (c MatchmakingConfig) RankedWait() time.Duration { return time.Duration(c.RankedWaitMS) * time.Millisecond }
func (c MatchmakingConfig) RankedWidenEvery() time.Duration {
	return time.Duration(c.RankedWidenEveryMS) * time.Millisecond
}
func (c MatchmakingConfig) TicketTTL() time.Duration {
	return time.Duration(c.TicketTTLMS) * time.Millisecond
}
func (c MatchmakingConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// DuelConfig tunes the duel lifecycle.
type DuelConfig struct {
	// Deadlines cover the whole lifecycle: acceptance and submissions must
	// both land before the duel's deadline.
	QuickDeadlineMin  int `koanf:"quick_deadline_min"`
	RankedDeadlineMin int `koanf:"ranked_deadline_min"`
	// ResubmissionCap is how many extra attempts a REJECTed participant gets.
	ResubmissionCap int `koanf:"resubmission_cap"`
	// SweepIntervalMS drives the periodic deadline sweep.
	SweepIntervalMS int `koanf:"sweep_interval_ms"`
}

func (c DuelConfig) QuickDeadline() time.Duration {
	return time.Duration(c.QuickDeadlineMin) * time.Minute
}
func (c DuelConfig) RankedDeadline() time.Duration {
	return time.Duration(c.RankedDeadlineMin) * time.Minute
}
func (c DuelConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// Config is the full process configuration.
type Config struct {
	Addr     string `koanf:"addr"`
	LogLevel string `koanf:"log_level"`

	Handicap    HandicapConfig              `koanf:"handicap"`
	Trust       TrustConfig                 `koanf:"trust"`
	Matchmaking MatchmakingConfig           `koanf:"matchmaking"`
	Duel        DuelConfig                  `koanf:"duel"`
	Baselines   map[string]ExerciseBaseline `koanf:"baselines"`
}

// New returns the configuration defaults. Load layers file and env on top.
func New() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Handicap: HandicapConfig{
			HalfLifeDays: 14,
			PriorSamples: 5,
			Min:          0.3,
			Max:          3.0,
		},
		Trust: TrustConfig{
			ConfidenceFloor:     0.6,
			LowConfidenceFactor: 0.5,
			RepeatPenalty:       0.3,
			RepeatEpsilon:       0.05,
			RepeatMinMatches:    2,
			DevicePenalty:       0.25,
			RecentWindow:        10,
			AcceptScore:         0.75,
			RejectScore:         0.4,
			AcceptDelta:         2,
			FlagDelta:           -5,
			RejectDelta:         -15,
			DecayHalfLifeDays:   30,
			FlagWeight:          1.0,
		},
		Matchmaking: MatchmakingConfig{
			QuickTolerance:       0.40,
			QuickWaitMS:          5000,
			RankedStartTolerance: 0.10,
			RankedWidenStep:      0.05,
			RankedWidenEveryMS:   10000,
			RankedToleranceCap:   0.30,
			RankedWaitMS:         5000,
			TicketTTLMS:          120000,
			SweepIntervalMS:      1000,
		},
		Duel: DuelConfig{
			QuickDeadlineMin:  60,
			RankedDeadlineMin: 24 * 60,
			ResubmissionCap:   1,
			SweepIntervalMS:   5000,
		},
		Baselines: map[string]ExerciseBaseline{
			"pushups":       {Metric: 20, MaxPerSecond: 2.0},
			"squats":        {Metric: 25, MaxPerSecond: 1.5},
			"situps":        {Metric: 25, MaxPerSecond: 1.5},
			"plank":         {Metric: 60, MaxPerSecond: 1.05},
			"jumping_jacks": {Metric: 40, MaxPerSecond: 3.0},
		},
	}
}
