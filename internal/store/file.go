package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/propmatch/internal/debug"
)

const (
	audienceExt = ".json"
	tempPattern = ".audience-*"
)

// FileStore keeps one JSON document per audience in a directory
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created on
// the first save.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: debug.OrNop(logger)}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+audienceExt)
}

// Save writes the audience, replacing any audience with the same name
func (s *FileStore) Save(ctx context.Context, a Audience) error {
	a, err := prepare(a)
	if err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}

	data, err := json.Marshal(a)
	if err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}
	if err := os.Rename(tmpName, s.path(a.Name)); err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}

	s.logger.Info("audience saved", zap.String("name", a.Name), zap.Int("properties", len(a.Properties)))
	return nil
}

// Load reads one audience
func (s *FileStore) Load(ctx context.Context, name string) (Audience, error) {
	if err := ValidateName(name); err != nil {
		return Audience{}, &PersistenceError{Op: "load", Name: name, Err: err}
	}
	a, err := s.read(s.path(name))
	if err != nil {
		return Audience{}, &PersistenceError{Op: "load", Name: name, Err: err}
	}
	return a, nil
}

func (s *FileStore) read(path string) (Audience, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Audience{}, ErrNotFound
	}
	if err != nil {
		return Audience{}, err
	}

	var a Audience
	if err := json.Unmarshal(data, &a); err != nil {
		return Audience{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if a.CreatedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			a.CreatedAt = info.ModTime().UTC()
		}
	}
	return a, nil
}

// List returns every saved audience ordered by name. Files that cannot be
// parsed are logged and skipped.
func (s *FileStore) List(ctx context.Context) ([]Audience, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Audience{}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	audiences := make([]Audience, 0, len(entries))
	for _, entry := range entries {
		// temp files from Save carry no extension
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), audienceExt) {
			continue
		}
		a, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable audience file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if a.Name == "" {
			a.Name = strings.TrimSuffix(entry.Name(), audienceExt)
		}
		audiences = append(audiences, a)
	}

	sort.Slice(audiences, func(i, j int) bool { return audiences[i].Name < audiences[j].Name })
	return audiences, nil
}

// Delete removes one audience
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return &PersistenceError{Op: "delete", Name: name, Err: err}
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		err = ErrNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "delete", Name: name, Err: err}
	}
	s.logger.Info("audience deleted", zap.String("name", name))
	return nil
}

// DeleteAll removes every audience file in the directory
func (s *FileStore) DeleteAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "delete all", Err: err}
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), audienceExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &PersistenceError{Op: "delete all", Err: err}
	}
	s.logger.Info("all audiences deleted")
	return nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}
