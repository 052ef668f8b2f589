package ledger

import (
	"context"
	"errors"

	"github.com/Vivek-1102/Capx/pkg/models"
)

var (
	ErrNotFound             = errors.New("ledger: instrument not found")
	ErrInsufficientQuantity = errors.New("ledger: insufficient quantity")
)

// Store is the persisted instrument ledger. Every call is atomic on its own;
// there are no cross-call transactions.
type Store interface {
	FindAll(ctx context.Context) ([]models.Instrument, error)
	FindByKey(ctx context.Context, symbol string) (models.Instrument, error)
	Create(ctx context.Context, inst models.Instrument) error
	// UpdateQuantity applies delta to the held quantity as a single atomic
	// read-modify-write and returns the new quantity. A decrement below zero
	// fails with ErrInsufficientQuantity and mutates nothing.
	UpdateQuantity(ctx context.Context, symbol string, delta int64) (int64, error)
	Close() error
}
