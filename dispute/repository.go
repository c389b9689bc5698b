package dispute

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("dispute: not found")
	ErrForbidden    = errors.New("dispute: forbidden")
	ErrBadStatus    = errors.New("dispute: invalid status transition")
	ErrInvalidInput = errors.New("dispute: invalid input")
)

// Repository keeps dispute records in memory.
type Repository struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewRepository() *Repository {
	return &Repository{records: make(map[string]Record), now: time.Now}
}

// List returns the disputes userID can act on, newest first, optionally
// narrowed to one contract.
func (r *Repository) List(_ context.Context, userID, contractID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, 8)
	for _, rec := range r.records {
		if !rec.CanAct(userID) {
			continue
		}
		if contractID != "" && rec.ContractID != contractID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) Create(_ context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	rec.Status = StatusOpen
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.records[rec.ID] = rec
	return rec, nil
}

// Get returns the record when userID may act on it.
func (r *Repository) Get(_ context.Context, userID, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !rec.CanAct(userID) {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// Update applies fn to the record under the repository lock. fn sees the
// current record and returns an error to abort.
func (r *Repository) Update(_ context.Context, userID, id string, fn func(*Record) error) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !rec.CanAct(userID) {
		return Record{}, ErrForbidden
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = r.now().UTC()
	r.records[id] = rec
	return rec, nil
}
