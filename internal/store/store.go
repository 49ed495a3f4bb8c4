// Package store persists classified indications.
package store

import (
	"context"
	"errors"

	"dailymed-etl/internal/model"
)

var (
	// ErrNotFound is returned when no indication has the requested id.
	ErrNotFound = errors.New("indication not found")
	// ErrWriteApplied marks a write that reached storage but whose result
	// could not be read back. Repeating it would duplicate the row.
	ErrWriteApplied = errors.New("write applied, result unknown")
)

// Repository is the storage contract used by the mapping cycle and by the
// query commands.
//
// FindAll with a non-empty query returns the indications whose indication,
// description or code contains it; an empty query returns everything.
type Repository interface {
	FindAll(ctx context.Context, query string) ([]model.Indication, error)
	FindByID(ctx context.Context, id int64) (model.Indication, error)
	// Create stores ind and assigns its ID.
	Create(ctx context.Context, ind *model.Indication) error
	Delete(ctx context.Context, id int64) error
}

// Replacer is implemented by repositories that can swap their whole content
// in one step. Readers observe either the old set or the new one.
type Replacer interface {
	Replace(ctx context.Context, inds []model.Indication) error
}
