package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"topup-bot/internal/metrics"
)

// Store holds the process-wide document in memory. Every read-modify-write
// runs under one mutex and is followed by a whole-document persist.
type Store struct {
	mu      sync.Mutex
	doc     *Document
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStore loads the document from backend once.
func NewStore(ctx context.Context, backend Backend, logger *slog.Logger, metricRegistry *metrics.Metrics) (*Store, error) {
	doc, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document from %s: %w", backend.Name(), err)
	}
	if doc == nil {
		doc = NewDocument()
	}
	doc.normalize()
	return &Store{
		doc:     doc,
		backend: backend,
		logger:  logger.With("component", "store", "backend", backend.Name()),
		metrics: metricRegistry,
	}, nil
}

// Update runs fn against the document and persists the result when fn
// succeeds. An fn error skips the persist; in-memory changes made before the
// error remain, so fn must validate before it mutates.
func (s *Store) Update(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

// Mutate runs fn against the document without persisting.
func (s *Store) Mutate(fn func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// View runs fn with read access to the document. fn must not retain pointers.
func (s *Store) View(fn func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Persist writes the current snapshot to the backend.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.doc); err != nil {
		s.logger.Error("persist document failed", "error", err)
		if s.metrics != nil {
			s.metrics.StorePersists.WithLabelValues(s.backend.Name(), "error").Inc()
		}
		return fmt.Errorf("persist document: %w", err)
	}
	if s.metrics != nil {
		s.metrics.StorePersists.WithLabelValues(s.backend.Name(), "ok").Inc()
	}
	return nil
}
