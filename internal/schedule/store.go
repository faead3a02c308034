package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamvault/internal/clock"
	logx "streamvault/pkg/logx"
)

// Persister is the slice of the storage layer the store writes through to.
// Persistence failures are logged, not surfaced: the in-memory state is the
// source of truth for the running process.
type Persister interface {
	SaveSchedule(ctx context.Context, s Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// Store holds schedule definitions. Reads return snapshots; writes are
// serialized. It owns no goroutines.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*Schedule
	order []string // creation order

	clk     clock.Clock
	persist Persister
	log     logx.Logger
}

func NewStore(clk clock.Clock, persist Persister, log logx.Logger) *Store {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		byID:    map[string]*Schedule{},
		clk:     clk,
		persist: persist,
		log:     log,
	}
}

// Add validates and inserts a schedule. Capture params are defaulted here so
// every consumer downstream sees a fully populated record.
func (st *Store) Add(ctx context.Context, s Schedule) (Schedule, error) {
	s.Capture = s.Capture.WithDefaults()
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.clk.Now()
	}

	st.mu.Lock()
	if _, dup := st.byID[s.ID]; dup {
		st.mu.Unlock()
		return Schedule{}, fmt.Errorf("schedule %s already exists", s.ID)
	}
	cp := s
	st.byID[s.ID] = &cp
	st.order = append(st.order, s.ID)
	st.mu.Unlock()

	st.save(ctx, s)
	return s, nil
}

// Update applies fn to the schedule under the store lock, then re-validates.
// Returns ErrNotFound for unknown ids; a validation failure rolls back.
func (st *Store) Update(ctx context.Context, id string, fn func(*Schedule)) (Schedule, error) {
	st.mu.Lock()
	cur, ok := st.byID[id]
	if !ok {
		st.mu.Unlock()
		return Schedule{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	next := *cur
	fn(&next)
	// Immutable fields.
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.Capture = next.Capture.WithDefaults()
	if err := next.Validate(); err != nil {
		st.mu.Unlock()
		return Schedule{}, err
	}
	*cur = next
	st.mu.Unlock()

	st.save(ctx, next)
	return next, nil
}

// Touch records the evaluator tick time. It deliberately skips validation and
// persistence batching concerns: losing it on crash only costs one spurious
// "window just opened" evaluation.
func (st *Store) Touch(ctx context.Context, id string, at time.Time) {
	st.mu.Lock()
	cur, ok := st.byID[id]
	if ok {
		cur.LastEvaluatedAt = at
	}
	var cp Schedule
	if ok {
		cp = *cur
	}
	st.mu.Unlock()
	if ok {
		st.save(ctx, cp)
	}
}

// Remove deletes a schedule. Running jobs that reference it are left alone;
// they are owned by the job registry.
func (st *Store) Remove(ctx context.Context, id string) error {
	st.mu.Lock()
	if _, ok := st.byID[id]; !ok {
		st.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(st.byID, id)
	for i, oid := range st.order {
		if oid == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	st.mu.Unlock()

	if st.persist != nil {
		if err := st.persist.DeleteSchedule(ctx, id); err != nil {
			st.log.Warn("schedule delete not persisted", logx.String("schedule", id), logx.Err(err))
		}
	}
	return nil
}

func (st *Store) Get(id string) (Schedule, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	if !ok {
		return Schedule{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return *s, nil
}

// List returns a snapshot in creation order.
func (st *Store) List() []Schedule {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Schedule, 0, len(st.order))
	for _, id := range st.order {
		if s, ok := st.byID[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Load seeds the store from persisted records (process restart).
func (st *Store) Load(schedules []Schedule) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range schedules {
		s := schedules[i]
		if _, dup := st.byID[s.ID]; dup {
			continue
		}
		cp := s
		st.byID[s.ID] = &cp
		st.order = append(st.order, s.ID)
	}
}

func (st *Store) save(ctx context.Context, s Schedule) {
	if st.persist == nil {
		return
	}
	if err := st.persist.SaveSchedule(ctx, s); err != nil {
		st.log.Warn("schedule not persisted", logx.String("schedule", s.ID), logx.Err(err))
	}
}
