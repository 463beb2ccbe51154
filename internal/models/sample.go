// internal/models/sample.go
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExerciseType identifies a tracked exercise. The motion tracker upstream
// reports its metric in reps for rep-based exercises and in seconds for holds.
type ExerciseType string

const (
	ExercisePushups      ExerciseType = "pushups"
	ExerciseSquats       ExerciseType = "squats"
	ExerciseSitups       ExerciseType = "situps"
	ExercisePlank        ExerciseType = "plank"
	ExerciseJumpingJacks ExerciseType = "jumping_jacks"
)

// KnownExercise reports whether t is one of the supported exercise types.
func KnownExercise(t ExerciseType) bool {
	switch t {
	case ExercisePushups, ExerciseSquats, ExerciseSitups, ExercisePlank, ExerciseJumpingJacks:
		return true
	}
	return false
}

// PerformanceSample is one completed exercise recording as reported by the
// motion-tracking pipeline. It is immutable once created and is consumed
// exactly once by the trust pipeline.
type PerformanceSample struct {
	SampleID          uuid.UUID    `json:"sampleId"`
	UserID            uuid.UUID    `json:"userId"`
	ExerciseType      ExerciseType `json:"exerciseType"`
	RawMetric         float64      `json:"rawMetric"`
	Confidence        float64      `json:"confidence"`
	StartedAt         time.Time    `json:"startedAt"`
	EndedAt           time.Time    `json:"endedAt"`
	DeviceFingerprint string       `json:"deviceFingerprint"`
}

// Duration returns the wall-clock span of the recording.
func (s PerformanceSample) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// RepSignature returns the mean seconds per metric unit, used to detect
// replayed or automated submissions. Returns 0 if the metric is zero.
func (s PerformanceSample) RepSignature() float64 {
	if s.RawMetric <= 0 {
		return 0
	}
	return s.Duration().Seconds() / s.RawMetric
}

// InvalidSampleError indicates a malformed PerformanceSample rejected at
// intake. No audit entry is created for these; they never reach the scorer.
type InvalidSampleError struct {
	Field  string
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("invalid performance sample: %s %s", e.Field, e.Reason)
}

// Validate checks structural soundness of the sample. Anything beyond this
// (plausibility, trust) is the scorer's job, not intake's.
func (s PerformanceSample) Validate() error {
	if s.SampleID == uuid.Nil {
		return &InvalidSampleError{Field: "sampleId", Reason: "must be set"}
	}
	if s.UserID == uuid.Nil {
		return &InvalidSampleError{Field: "userId", Reason: "must be set"}
	}
	if !KnownExercise(s.ExerciseType) {
		return &InvalidSampleError{Field: "exerciseType", Reason: fmt.Sprintf("unknown type %q", s.ExerciseType)}
	}
	if s.RawMetric <= 0 {
		return &InvalidSampleError{Field: "rawMetric", Reason: "must be positive"}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &InvalidSampleError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return &InvalidSampleError{Field: "timestamps", Reason: "must be set"}
	}
	if !s.EndedAt.After(s.StartedAt) {
		return &InvalidSampleError{Field: "timestamps", Reason: "end must follow start"}
	}
	if s.DeviceFingerprint == "" {
		return &InvalidSampleError{Field: "deviceFingerprint", Reason: "must be set"}
	}
	return nil
}
