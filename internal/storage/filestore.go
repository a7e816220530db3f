// Package storage persists configuration records as JSON files, one file per
// record type, named after the type.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore saves whole records as <TypeName>.json in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir, creating it when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the files.
func (s *FileStore) Dir() string {
	return s.dir
}

// TypeName returns the file base name used for v's type.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// Path returns the file that holds records of v's type.
func (s *FileStore) Path(v any) string {
	return filepath.Join(s.dir, TypeName(v)+".json")
}

// Save overwrites the file for v's type with v.
func (s *FileStore) Save(v any) error {
	name := TypeName(v)
	if name == "" {
		return fmt.Errorf("cannot store unnamed type %T", v)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(v)); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	log.Debug().Str("type", name).Str("path", s.Path(v)).Msg("Config saved")
	return nil
}

// Load decodes the file for v's type into v. When no file exists v is left
// untouched and found is false.
func (s *FileStore) Load(v any) (found bool, err error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.Path(v))
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", TypeName(v), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", TypeName(v), err)
	}
	return true, nil
}

// ModTime returns when the file for v's type was last written.
func (s *FileStore) ModTime(v any) (time.Time, bool, error) {
	info, err := os.Stat(s.Path(v))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}
