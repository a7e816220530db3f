package storage

import "time"

// Typed wraps FileStore for a single record type. Get returns the
// default-constructed value when nothing has been saved yet.
type Typed[T any] struct {
	store    *FileStore
	defaults func() T
}

// NewTyped creates a typed view. defaults may be nil, meaning the zero value.
func NewTyped[T any](store *FileStore, defaults func() T) *Typed[T] {
	if defaults == nil {
		defaults = func() T {
			var zero T
			return zero
		}
	}
	return &Typed[T]{store: store, defaults: defaults}
}

// Get loads the stored record. Fields missing from the file keep their defaults.
func (s *Typed[T]) Get() (T, error) {
	value := s.defaults()
	if _, err := s.store.Load(&value); err != nil {
		return s.defaults(), err
	}
	return value, nil
}

// Set overwrites the stored record.
func (s *Typed[T]) Set(value T) error {
	return s.store.Save(&value)
}

// Update applies modify to the current record and stores the result.
func (s *Typed[T]) Update(modify func(current *T)) error {
	current, err := s.Get()
	if err != nil {
		return err
	}
	modify(&current)
	return s.Set(current)
}

// ModTime returns when the record was last saved.
func (s *Typed[T]) ModTime() (time.Time, bool, error) {
	var zero T
	return s.store.ModTime(&zero)
}
