// internal/duel/duel.go
package duel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/arena/internal/models"
)

// Mode selects the matchmaking flavor that produced the duel.
type Mode string

const (
	ModeQuick  Mode = "QUICK"
	ModeRanked Mode = "RANKED"
)

// State is the duel lifecycle state.
//
//	CREATED -> ACCEPTED -> IN_PROGRESS -> {COMPLETED, EXPIRED, CANCELLED}
type State string

const (
	StateCreated    State = "CREATED"
	StateAccepted   State = "ACCEPTED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateExpired    State = "EXPIRED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateCancelled
}

// Submission is a participant's recorded performance inside a duel, kept only
// for ACCEPT and FLAG decisions; rejected samples never enter the map.
type Submission struct {
	Sample      models.PerformanceSample `json:"sample"`
	Decision    models.Decision          `json:"decision"`
	SubmittedAt time.Time                `json:"submittedAt"`
}

// Duel holds the full in-memory state of one duel. The duel exclusively owns
// its submissions; participants are referenced by id only. HandicapSnapshot
// is frozen at creation so newly submitted calibration data cannot shift an
// in-flight duel.
type Duel struct {
	ID               uuid.UUID
	Mode             Mode
	ExerciseType     models.ExerciseType
	Participants     [2]uuid.UUID
	State            State
	CreatedAt        time.Time
	Deadline         time.Time
	HandicapSnapshot map[uuid.UUID]float64
	AcceptedBy       map[uuid.UUID]bool
	Submissions      map[uuid.UUID]*Submission
	Resubmissions    map[uuid.UUID]int
	WinnerID         *uuid.UUID

	// Mu guards all mutable fields above.
	Mu sync.Mutex

	// intakeMu serializes the whole submission pipeline for this duel so
	// submissions are processed strictly in arrival order.
	intakeMu sync.Mutex
}

// New builds a duel in CREATED state with the given frozen handicaps.
func New(mode Mode, exercise models.ExerciseType, a, b uuid.UUID, handicapA, handicapB float64, now time.Time, deadline time.Duration) *Duel {
	return &Duel{
		ID:           uuid.New(),
		Mode:         mode,
		ExerciseType: exercise,
		Participants: [2]uuid.UUID{a, b},
		State:        StateCreated,
		CreatedAt:    now,
		Deadline:     now.Add(deadline),
		HandicapSnapshot: map[uuid.UUID]float64{
			a: handicapA,
			b: handicapB,
		},
		AcceptedBy:    make(map[uuid.UUID]bool),
		Submissions:   make(map[uuid.UUID]*Submission),
		Resubmissions: make(map[uuid.UUID]int),
	}
}

// HasParticipant reports whether id is one of the two participants.
func (d *Duel) HasParticipant(id uuid.UUID) bool {
	return d.Participants[0] == id || d.Participants[1] == id
}

// Opponent returns the other participant's id.
func (d *Duel) Opponent(id uuid.UUID) uuid.UUID {
	if d.Participants[0] == id {
		return d.Participants[1]
	}
	return d.Participants[0]
}

// Snapshot is an immutable copy of a duel's externally visible state, safe to
// serialize and persist.
type Snapshot struct {
	DuelID           uuid.UUID                  `json:"duelId"`
	Mode             Mode                       `json:"mode"`
	ExerciseType     models.ExerciseType        `json:"exerciseType"`
	Participants     [2]uuid.UUID               `json:"participants"`
	State            State                      `json:"state"`
	CreatedAt        time.Time                  `json:"createdAt"`
	Deadline         time.Time                  `json:"deadline"`
	HandicapSnapshot map[uuid.UUID]float64      `json:"handicapSnapshot"`
	AcceptedBy       map[uuid.UUID]bool         `json:"acceptedBy"`
	Submissions      map[uuid.UUID]*Submission  `json:"submissions"`
	Resubmissions    map[uuid.UUID]int          `json:"resubmissions"`
	WinnerID         *uuid.UUID                 `json:"winnerId,omitempty"`
}

// snapshotLocked copies the duel state. Caller must hold d.Mu.
func (d *Duel) snapshotLocked() Snapshot {
	s := Snapshot{
		DuelID:           d.ID,
		Mode:             d.Mode,
		ExerciseType:     d.ExerciseType,
		Participants:     d.Participants,
		State:            d.State,
		CreatedAt:        d.CreatedAt,
		Deadline:         d.Deadline,
		HandicapSnapshot: make(map[uuid.UUID]float64, len(d.HandicapSnapshot)),
		AcceptedBy:       make(map[uuid.UUID]bool, len(d.AcceptedBy)),
		Submissions:      make(map[uuid.UUID]*Submission, len(d.Submissions)),
		Resubmissions:    make(map[uuid.UUID]int, len(d.Resubmissions)),
	}
	for k, v := range d.HandicapSnapshot {
		s.HandicapSnapshot[k] = v
	}
	for k, v := range d.AcceptedBy {
		s.AcceptedBy[k] = v
	}
	for k, v := range d.Submissions {
		sub := *v
		s.Submissions[k] = &sub
	}
	for k, v := range d.Resubmissions {
		s.Resubmissions[k] = v
	}
	if d.WinnerID != nil {
		w := *d.WinnerID
		s.WinnerID = &w
	}
	return s
}

// Snapshot returns a copy of the duel state under the duel lock.
func (d *Duel) Snapshot() Snapshot {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	return d.snapshotLocked()
}

// StateConflictError signals a transition that is invalid for the duel's
// current state. The duel is left unchanged.
type StateConflictError struct {
	DuelID uuid.UUID
	State  State
	Op     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("duel %s: cannot %s in state %s", e.DuelID, e.Op, e.State)
}
