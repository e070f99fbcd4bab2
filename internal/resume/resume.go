// Package resume keeps the last watched position of media items.
package resume

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Recorder is told where the user is in an item.
type Recorder interface {
	Record(ctx context.Context, itemID string, seconds float64) error
}

// Position is the stored resume point of one item.
type Position struct {
	ItemID    string
	Seconds   float64
	UpdatedAt time.Time
}

// Store persists positions by item id.
type Store interface {
	Put(ctx context.Context, p Position) error
	// Get returns ErrNotFound when the item has no position.
	Get(ctx context.Context, itemID string) (Position, error)
	Delete(ctx context.Context, itemID string) error
	Close() error
}

var ErrNotFound = errors.New("resume: no position for item")

// Backends accepted by NewStore.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
)

// NewStore opens the backend. An empty backend means sqlite; sqlite without
// a directory falls back to memory.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = BackendSqlite
	}

	switch backend {
	case BackendSqlite:
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(dir, "resume.sqlite"))
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("resume: unknown store backend %q (supported: sqlite, memory)", backend)
	}
}

// StoreRecorder records into a Store.
type StoreRecorder struct {
	Store Store
	now   func() time.Time
}

func NewStoreRecorder(s Store) *StoreRecorder {
	return &StoreRecorder{Store: s, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, itemID string, seconds float64) error {
	if itemID == "" {
		return errors.New("resume: empty item id")
	}
	if seconds < 0 {
		seconds = 0
	}
	return r.Store.Put(ctx, Position{ItemID: itemID, Seconds: seconds, UpdatedAt: r.now().UTC()})
}

// Lookup returns the stored position, or 0 when there is none.
func Lookup(ctx context.Context, s Store, itemID string) (float64, error) {
	p, err := s.Get(ctx, itemID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Seconds, nil
}

// Nop discards positions.
type Nop struct{}

func (Nop) Record(context.Context, string, float64) error { return nil }
