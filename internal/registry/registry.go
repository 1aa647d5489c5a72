package registry

import (
	"context"
	"errors"
)

// Profile states persisted in the registry. A recorded PID is meaningful only
// while State is running; the supervisor reconciles rows whose PID died.
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// MaxNameLen bounds profile names at creation and update time.
const MaxNameLen = 64

var (
	ErrNotFound      = errors.New("profile not found")
	ErrDuplicateName = errors.New("profile name already exists")
	ErrInvalidName   = errors.New("profile name must be 1..64 characters")
)

// Profile is one persisted browsing identity.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Proxy   string `json:"proxy"`
	State   string `json:"state"`
	PID     int    `json:"pid"`
	LastURL string `json:"last_url"`
}

// Update carries the mutable fields of a profile; nil means leave unchanged.
type Update struct {
	Name  *string
	Proxy *string
}

// Store is the persistence contract for profile records. Every call is a
// single atomic write or read; there are no cross-call transactions and
// concurrent writers are last-write-wins.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Create inserts a new profile with a generated id in state stopped.
	Create(ctx context.Context, name, proxy string) (Profile, error)
	// List returns all profiles ordered by name.
	List(ctx context.Context) ([]Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
	// Update applies the set fields and reports how many were changed (0 when
	// the update is empty).
	Update(ctx context.Context, id string, upd Update) (int, error)
	Delete(ctx context.Context, id string) error
	// SetRuntime is written only by the supervisor on launch, stop and
	// reconcile. pid must be 0 unless state is running.
	SetRuntime(ctx context.Context, id, state string, pid int) error
	// RecordHeartbeat is written only by the ingest channel; it never touches
	// the PID column.
	RecordHeartbeat(ctx context.Context, id, state, url string) error
	Close() error
}

// ValidateName enforces the bounded, non-empty name contract shared by the
// sqlite and postgres stores.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return ErrInvalidName
	}
	return nil
}
