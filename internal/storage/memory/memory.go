package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cashbook/internal/storage"
)

// Store keeps every key in a map. It is the default for tests and for runs
// that do not need durability.
type Store struct {
	mu     sync.Mutex
	values map[string]string
	failOn map[string]error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{values: map[string]string{}, failOn: map[string]error{}}
}

// NewFromFile seeds the store from a JSON object of key -> string value, as
// produced by Snapshot. A missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["get:"+key]; err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["set:"+key]; err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

// Delete removes key. Used to simulate lost records.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// FailGet makes every Get of key return err until cleared with a nil err.
func (s *Store) FailGet(key string, err error) { s.setFailure("get:"+key, err) }

// FailSet makes every Set of key return err until cleared with a nil err.
func (s *Store) FailSet(key string, err error) { s.setFailure("set:"+key, err) }

func (s *Store) setFailure(k string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, k)
		return
	}
	s.failOn[k] = err
}

// Keys lists stored keys starting with prefix, sorted.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot returns a copy of every stored key.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
