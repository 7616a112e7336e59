package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propmatch/internal/config"
	"github.com/propmatch/internal/db"
)

var (
	// ErrNotFound means no audience is saved under the name
	ErrNotFound = errors.New("audience not found")

	// ErrInvalidName rejects names that cannot be stored safely
	ErrInvalidName = errors.New("invalid audience name")
)

// Audience is a named, frozen set of property ids
type Audience struct {
	Name       string    `json:"name"`
	Properties []string  `json:"properties"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// PersistenceError names the audience operation that failed
type PersistenceError struct {
	Op   string
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("failed to %s audiences: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s audience %s: %v", e.Op, e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store persists audiences. Saving an existing name overwrites it; there
// is no locking between concurrent writers.
type Store interface {
	Save(ctx context.Context, a Audience) error
	Load(ctx context.Context, name string) (Audience, error)
	List(ctx context.Context) ([]Audience, error)
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) error
	Close() error
}

// ValidateName rejects empty names and names that could escape a directory
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// prepare validates a and returns a copy with duplicate ids removed and a
// creation time set
func prepare(a Audience) (Audience, error) {
	if err := ValidateName(a.Name); err != nil {
		return a, err
	}
	seen := make(map[string]bool, len(a.Properties))
	ids := make([]string, 0, len(a.Properties))
	for _, id := range a.Properties {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	a.Properties = ids
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return a, nil
}

// Excluded returns the union of property ids across saved audiences,
// skipping the audiences named in except. The result is sorted.
func Excluded(ctx context.Context, s Store, except ...string) ([]string, error) {
	audiences, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(except))
	for _, name := range except {
		skip[name] = true
	}

	union := make(map[string]bool)
	for _, a := range audiences {
		if skip[a.Name] {
			continue
		}
		for _, id := range a.Properties {
			union[id] = true
		}
	}

	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Open creates the store selected by settings.AudienceDriver
func Open(ctx context.Context, settings *config.Settings, logger *zap.Logger) (Store, error) {
	switch settings.AudienceDriver {
	case config.DriverFile:
		return NewFileStore(settings.AudienceDir, logger), nil
	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, conn)
	case config.DriverSQLite:
		conn, err := db.NewSQLiteConnection(settings.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, conn)
	default:
		return nil, fmt.Errorf("unknown audience driver %q", settings.AudienceDriver)
	}
}
