// internal/matchmaking/engine.go
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/metrics"
	"github.com/pulsefit/arena/internal/models"
	"github.com/pulsefit/arena/internal/profile"
)

// ErrTicketNotFound is returned for unknown or already-purged ticket ids.
var ErrTicketNotFound = errors.New("matchmaking ticket not found")

// ErrEngineClosed is returned to callers still waiting when the engine is
// torn down.
var ErrEngineClosed = errors.New("matchmaking engine closed")

// TicketStatus is the queue-side lifecycle of a ticket.
type TicketStatus string

const (
	TicketQueued    TicketStatus = "QUEUED"
	TicketMatched   TicketStatus = "MATCHED"
	TicketExpired   TicketStatus = "EXPIRED"
	TicketWithdrawn TicketStatus = "WITHDRAWN"
)

// Ticket is a queued request to be matched into a duel. It exists only while
// queued; the registry keeps a stub around afterwards so callers can poll the
// outcome of a Pending enqueue.
type Ticket struct {
	ID           uuid.UUID           `json:"ticketId"`
	UserID       uuid.UUID           `json:"userId"`
	Mode         duel.Mode           `json:"mode"`
	ExerciseType models.ExerciseType `json:"exerciseType"`
	Handicap     float64             `json:"handicap"`
	EnqueuedAt   time.Time           `json:"enqueuedAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`

	// Guarded by the owning queue's mutex.
	status  TicketStatus
	duelID  uuid.UUID
	matchCh chan *duel.Duel
}

// Result is the outcome of an enqueue: either an immediate duel or a pending
// ticket the caller can poll. A queue timeout is not an error.
type Result struct {
	Duel     *duel.Duel
	TicketID uuid.UUID
	Pending  bool
}

// TicketInfo is the pollable view of a ticket.
type TicketInfo struct {
	TicketID uuid.UUID    `json:"ticketId"`
	Status   TicketStatus `json:"status"`
	DuelID   uuid.UUID    `json:"duelId,omitempty"`
}

type queue struct {
	mu      sync.Mutex
	tickets []*Ticket
}

// Engine pairs users into duels. It is an explicitly constructed, owned
// instance; callers hold a reference, there is no process-wide singleton.
// One lock per mode queue; profile lookups always happen before any queue
// lock is taken.
type Engine struct {
	cfg      config.MatchmakingConfig
	profiles *profile.Store
	resolver *duel.Resolver
	logger   *logrus.Logger
	now      func() time.Time

	quick  queue
	ranked queue

	regMu    sync.Mutex
	registry map[uuid.UUID]*Ticket

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewEngine builds an engine over the given profile store and resolver.
// Call Start to run the periodic sweep, Close to tear down.
func NewEngine(profiles *profile.Store, resolver *duel.Resolver, cfg *config.Config, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg.Matchmaking,
		profiles: profiles,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		registry: make(map[uuid.UUID]*Ticket),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic queue sweep. Expiry is lazy on every scan; the
// sweep exists so ranked tolerance widening produces matches even when no new
// tickets arrive.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				e.sweep(context.Background())
			}
		}
	}()
}

// Close stops the sweep and expires every outstanding ticket. Waiting callers
// receive ErrEngineClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
	for _, q := range []*queue{&e.quick, &e.ranked} {
		q.mu.Lock()
		for _, t := range q.tickets {
			t.status = TicketExpired
		}
		q.tickets = nil
		q.mu.Unlock()
	}
	e.updateDepthGauges()
}

func (e *Engine) queueFor(mode duel.Mode) *queue {
	if mode == duel.ModeRanked {
		return &e.ranked
	}
	return &e.quick
}

// tolerance returns the ticket's ± handicap tolerance at the given time.
// Quick tickets use a fixed wide band; ranked tickets start narrow and widen
// stepwise with queue age up to a cap.
func (e *Engine) tolerance(t *Ticket, now time.Time) float64 {
	if t.Mode != duel.ModeRanked {
		return e.cfg.QuickTolerance
	}
	steps := math.Floor(now.Sub(t.EnqueuedAt).Seconds() / e.cfg.RankedWidenEvery().Seconds())
	tol := e.cfg.RankedStartTolerance + steps*e.cfg.RankedWidenStep
	if tol > e.cfg.RankedToleranceCap {
		tol = e.cfg.RankedToleranceCap
	}
	return tol
}

// window returns the acceptable opponent handicap range at the given time.
func (e *Engine) window(t *Ticket, now time.Time) (lo, hi float64) {
	tol := e.tolerance(t, now)
	return t.Handicap * (1 - tol), t.Handicap * (1 + tol)
}

// eligible reports whether two tickets may pair: same exercise, different
// users, and each handicap inside the other's current window.
func (e *Engine) eligible(a, b *Ticket, now time.Time) bool {
	if a.UserID == b.UserID || a.ExerciseType != b.ExerciseType {
		return false
	}
	alo, ahi := e.window(a, now)
	blo, bhi := e.window(b, now)
	return b.Handicap >= alo && b.Handicap <= ahi && a.Handicap >= blo && a.Handicap <= bhi
}

// Enqueue requests a match. If an eligible opponent is already queued the
// duel is created immediately; otherwise the ticket is queued and the call
// waits up to the mode's budget before returning a Pending result. The
// ticket stays queued after a Pending result until it matches, expires, or
// is withdrawn.
func (e *Engine) Enqueue(ctx context.Context, userID uuid.UUID, mode duel.Mode, exercise models.ExerciseType) (Result, error) {
	if !models.KnownExercise(exercise) {
		return Result{}, fmt.Errorf("unknown exercise type %q", exercise)
	}

	// Profile lookup happens before any queue lock.
	h, err := e.profiles.Handicap(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	t := &Ticket{
		ID:           uuid.New(),
		UserID:       userID,
		Mode:         mode,
		ExerciseType: exercise,
		Handicap:     h,
		EnqueuedAt:   now,
		ExpiresAt:    now.Add(e.cfg.TicketTTL()),
		status:       TicketQueued,
		matchCh:      make(chan *duel.Duel, 1),
	}

	q := e.queueFor(mode)
	q.mu.Lock()
	e.purgeExpiredLocked(q, now)
	opponent := e.takeCandidateLocked(q, t, now)
	if opponent == nil {
		e.insertLocked(q, t)
	}
	q.mu.Unlock()
	e.register(t)
	e.updateDepthGauges()

	if opponent != nil {
		d, err := e.pair(ctx, opponent, t, now)
		if err != nil {
			return Result{}, err
		}
		return Result{Duel: d, TicketID: t.ID}, nil
	}

	wait := e.cfg.QuickWait()
	if mode == duel.ModeRanked {
		wait = e.cfg.RankedWait()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d := <-t.matchCh:
		return Result{Duel: d, TicketID: t.ID}, nil
	case <-timer.C:
		return Result{Pending: true, TicketID: t.ID}, nil
	case <-ctx.Done():
		// Caller gave up; leave the ticket queued as a Pending result so a
		// later poll can still find the outcome.
		return Result{Pending: true, TicketID: t.ID}, ctx.Err()
	case <-e.done:
		return Result{}, ErrEngineClosed
	}
}

// takeCandidateLocked removes and returns the best opponent for t, or nil.
// Among equally eligible tickets the earliest enqueued wins (strict FIFO).
// Caller holds q.mu.
func (e *Engine) takeCandidateLocked(q *queue, t *Ticket, now time.Time) *Ticket {
	best := -1
	for i, c := range q.tickets {
		if !e.eligible(c, t, now) {
			continue
		}
		if best == -1 || c.EnqueuedAt.Before(q.tickets[best].EnqueuedAt) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	c := q.tickets[best]
	q.tickets = append(q.tickets[:best], q.tickets[best+1:]...)
	c.status = TicketMatched
	return c
}

// insertLocked adds t to the queue: quick stays in enqueue order, ranked is
// kept sorted by handicap for the narrowing-tolerance scan. Caller holds q.mu.
func (e *Engine) insertLocked(q *queue, t *Ticket) {
	if t.Mode != duel.ModeRanked {
		q.tickets = append(q.tickets, t)
		return
	}
	i := sort.Search(len(q.tickets), func(i int) bool {
		return q.tickets[i].Handicap >= t.Handicap
	})
	q.tickets = append(q.tickets, nil)
	copy(q.tickets[i+1:], q.tickets[i:])
	q.tickets[i] = t
}

// purgeExpiredLocked drops tickets past ExpiresAt. Caller holds q.mu.
func (e *Engine) purgeExpiredLocked(q *queue, now time.Time) {
	kept := q.tickets[:0]
	for _, t := range q.tickets {
		if now.After(t.ExpiresAt) {
			t.status = TicketExpired
			metrics.TicketsExpired.WithLabelValues(string(t.Mode)).Inc()
			continue
		}
		kept = append(kept, t)
	}
	q.tickets = kept
}

// pair creates the duel for two matched tickets and delivers it to the
// earlier ticket's waiter. On failure the older ticket is requeued and the
// newer one is expired, since it is no longer in any queue.
func (e *Engine) pair(ctx context.Context, older, newer *Ticket, now time.Time) (*duel.Duel, error) {
	q := e.queueFor(newer.Mode)
	d, err := e.resolver.CreateDuel(ctx, newer.Mode, newer.ExerciseType, older.UserID, newer.UserID, older.Handicap, newer.Handicap)
	if err != nil {
		q.mu.Lock()
		older.status = TicketQueued
		e.insertLocked(q, older)
		newer.status = TicketExpired
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to create duel: %w", err)
	}

	q.mu.Lock()
	older.duelID = d.ID
	newer.duelID = d.ID
	newer.status = TicketMatched
	q.mu.Unlock()
	// Both tickets may have a live waiter (sweep-produced pairs do); the
	// channels are buffered so undelivered results are simply dropped.
	older.matchCh <- d
	select {
	case newer.matchCh <- d:
	default:
	}

	metrics.MatchesTotal.WithLabelValues(string(newer.Mode)).Inc()
	metrics.MatchWaitSeconds.Observe(now.Sub(older.EnqueuedAt).Seconds())
	e.updateDepthGauges()

	e.logger.WithFields(logrus.Fields{
		"duel_id":  d.ID,
		"mode":     newer.Mode,
		"exercise": newer.ExerciseType,
		"wait":     now.Sub(older.EnqueuedAt),
	}).Info("matchmaking pair produced")
	return d, nil
}

// Withdraw removes a queued ticket. A ticket can be withdrawn up to the
// instant it is matched; after that only the resulting duel can be acted on.
func (e *Engine) Withdraw(ticketID uuid.UUID) error {
	e.regMu.Lock()
	t, ok := e.registry[ticketID]
	e.regMu.Unlock()
	if !ok {
		return ErrTicketNotFound
	}

	q := e.queueFor(t.Mode)
	q.mu.Lock()
	if t.status != TicketQueued {
		q.mu.Unlock()
		return fmt.Errorf("ticket %s is %s, cannot withdraw", ticketID, t.status)
	}
	for i, c := range q.tickets {
		if c.ID == ticketID {
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			break
		}
	}
	t.status = TicketWithdrawn
	q.mu.Unlock()
	e.updateDepthGauges()
	return nil
}

// Ticket reports the current status of a ticket, for polling after Pending.
func (e *Engine) Ticket(ticketID uuid.UUID) (TicketInfo, error) {
	e.regMu.Lock()
	t, ok := e.registry[ticketID]
	e.regMu.Unlock()
	if !ok {
		return TicketInfo{}, ErrTicketNotFound
	}

	q := e.queueFor(t.Mode)
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.status == TicketQueued && e.now().After(t.ExpiresAt) {
		// Lazy expiry on read.
		for i, c := range q.tickets {
			if c.ID == ticketID {
				q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
				break
			}
		}
		t.status = TicketExpired
		metrics.TicketsExpired.WithLabelValues(string(t.Mode)).Inc()
	}
	return TicketInfo{TicketID: t.ID, Status: t.status, DuelID: t.duelID}, nil
}

func (e *Engine) register(t *Ticket) {
	e.regMu.Lock()
	e.registry[t.ID] = t
	e.regMu.Unlock()
}

// sweep purges expired tickets, retries ranked pairings as tolerance bands
// widen, and trims stale registry stubs.
func (e *Engine) sweep(ctx context.Context) {
	now := e.now()

	e.quick.mu.Lock()
	e.purgeExpiredLocked(&e.quick, now)
	e.quick.mu.Unlock()

	for {
		e.ranked.mu.Lock()
		e.purgeExpiredLocked(&e.ranked, now)
		older, newer := e.findPairLocked(&e.ranked, now)
		e.ranked.mu.Unlock()
		if older == nil {
			break
		}
		if _, err := e.pair(ctx, older, newer, now); err != nil {
			e.logger.WithError(err).Error("sweep pairing failed")
			break
		}
	}

	e.regMu.Lock()
	for id, t := range e.registry {
		if now.Sub(t.ExpiresAt) > e.cfg.TicketTTL() {
			delete(e.registry, id)
		}
	}
	e.regMu.Unlock()
	e.updateDepthGauges()
}

// findPairLocked removes and returns the first eligible pair in FIFO order,
// or nils. The returned older ticket is the waiter the duel is delivered to.
// Caller holds q.mu.
func (e *Engine) findPairLocked(q *queue, now time.Time) (older, newer *Ticket) {
	byAge := make([]*Ticket, len(q.tickets))
	copy(byAge, q.tickets)
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].EnqueuedAt.Before(byAge[j].EnqueuedAt) })

	for _, a := range byAge {
		if a.status != TicketQueued {
			continue
		}
		var match *Ticket
		for _, b := range byAge {
			if a == b || b.status != TicketQueued || !e.eligible(a, b, now) {
				continue
			}
			if match == nil || b.EnqueuedAt.Before(match.EnqueuedAt) {
				match = b
			}
		}
		if match != nil {
			e.removeLocked(q, a.ID)
			e.removeLocked(q, match.ID)
			a.status = TicketMatched
			match.status = TicketMatched
			return a, match
		}
	}
	return nil, nil
}

func (e *Engine) removeLocked(q *queue, id uuid.UUID) {
	for i, c := range q.tickets {
		if c.ID == id {
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			return
		}
	}
}

func (e *Engine) updateDepthGauges() {
	e.quick.mu.Lock()
	metrics.QueueDepth.WithLabelValues(string(duel.ModeQuick)).Set(float64(len(e.quick.tickets)))
	e.quick.mu.Unlock()
	e.ranked.mu.Lock()
	metrics.QueueDepth.WithLabelValues(string(duel.ModeRanked)).Set(float64(len(e.ranked.tickets)))
	e.ranked.mu.Unlock()
}
