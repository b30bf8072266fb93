// Package memory provides an ephemeral, thread-safe implementation of
// pipeline.Store.
//
// Documents are kept in their encoded form, so callers never share state
// with the store: a document saved and later modified is not affected, and a
// document returned by GetPipeline can be changed freely.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meikuraledutech/pipeline"
)

// Store keeps encoded pipeline documents in memory.
type Store struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ pipeline.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string][]byte)}
}

// CreateSchema is a no-op.
func (s *Store) CreateSchema(ctx context.Context) error { return nil }

// DropSchema removes every document.
func (s *Store) DropSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string][]byte)
	return nil
}

// SavePipeline stores a copy of doc under id, replacing any previous one.
func (s *Store) SavePipeline(ctx context.Context, id string, doc *pipeline.Document) error {
	if id == "" {
		return errors.New("pipeline: empty pipeline id")
	}
	if err := doc.CheckAcyclic(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return fmt.Errorf("pipeline: encode %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = buf.Bytes()
	return nil
}

// GetPipeline returns a copy of the document stored under id.
// Returns nil, nil if not found.
func (s *Store) GetPipeline(ctx context.Context, id string) (*pipeline.Document, error) {
	s.mu.RLock()
	raw, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	doc, err := pipeline.ReadDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %s: %w", id, err)
	}
	return doc, nil
}

// ListPipelines returns the stored ids in lexical order.
func (s *Store) ListPipelines(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeletePipeline removes the document stored under id.
// No error if it doesn't exist.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}
