package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"dailymed-etl/internal/model"
)

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Replacer   = (*MemoryRepository)(nil)
)

// MemoryRepository keeps indications in a map guarded by a mutex. Replace
// swaps the map under the write lock.
type MemoryRepository struct {
	mu     sync.RWMutex
	rows   map[int64]model.Indication
	nextID int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]model.Indication)}
}

func (r *MemoryRepository) FindAll(_ context.Context, query string) ([]model.Indication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Indication, 0, len(r.rows))
	for _, ind := range r.rows {
		if matches(ind, query) {
			out = append(out, ind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id int64) (model.Indication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ind, ok := r.rows[id]
	if !ok {
		return model.Indication{}, ErrNotFound
	}
	return ind, nil
}

func (r *MemoryRepository) Create(_ context.Context, ind *model.Indication) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ind.ID = r.nextID
	r.rows[ind.ID] = *ind
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// Replace swaps the whole content for inds, assigning fresh ids.
func (r *MemoryRepository) Replace(_ context.Context, inds []model.Indication) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make(map[int64]model.Indication, len(inds))
	for _, ind := range inds {
		r.nextID++
		ind.ID = r.nextID
		rows[ind.ID] = ind
	}
	r.rows = rows
	return nil
}

// matches reports whether ind contains query in any text field, ignoring case.
func matches(ind model.Indication, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(ind.Indication), q) ||
		strings.Contains(strings.ToLower(ind.Description), q) ||
		strings.Contains(strings.ToLower(ind.Code), q)
}
