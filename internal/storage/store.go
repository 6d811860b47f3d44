// Package storage owns the persisted ledger document and serializes access to
// it. Mutations run as exclusive transactions on a disposable copy that only
// becomes visible after it was written durably; reads run as shared
// transactions on the live document.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"haushalt/internal/core"
)

// exclusiveWeight is the full semaphore weight. A shared transaction takes one
// unit, so any number of readers fit but none alongside a writer.
const exclusiveWeight = 1 << 30

var (
	// ErrNoDocument is returned by a Persister that holds no document yet.
	ErrNoDocument = errors.New("no document")

	// ErrNotLoaded is returned by transactions on a store that was never loaded.
	ErrNotLoaded = errors.New("store not loaded")

	// ErrUnchanged may be returned by an exclusive transaction function that
	// made no changes. The transaction succeeds without writing.
	ErrUnchanged = errors.New("document unchanged")
)

// Persister reads and durably replaces the serialized document.
type Persister interface {
	// Read returns the stored document or ErrNoDocument.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored document atomically: a reader sees either the
	// complete previous document or the complete new one.
	Write(ctx context.Context, data []byte) error

	// Location names the backing storage for logs and errors.
	Location() string

	Close() error
}

// TxKind identifies a transaction type for observers.
type TxKind string

const (
	TxLoad      TxKind = "load"
	TxExclusive TxKind = "exclusive"
	TxShared    TxKind = "shared"
)

// Observer receives timing information for every transaction.
type Observer interface {
	ObserveTransaction(kind TxKind, wait, hold time.Duration, err error)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver reports every transaction to o.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithLockTimeout bounds how long a transaction waits for access. Zero waits
// until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger used for load and commit diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the handle every repository operation goes through. Create one per
// backing document; independent stores share nothing.
type Store struct {
	persister   Persister
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	observer    Observer
	logger      *slog.Logger

	doc *Document
}

// New creates a store over p. Call Load before running transactions.
func New(p Persister, opts ...Option) *Store {
	s := &Store{
		persister: p,
		sem:       semaphore.NewWeighted(exclusiveWeight),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates and loads a store.
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	s := New(p, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the backing document. A missing document is initialized empty
// and persisted immediately. A document that does not parse into the schema
// yields a *core.CorruptStoreError; the store must not be used afterwards.
func (s *Store) Load(ctx context.Context) (err error) {
	start := time.Now()
	if err := s.acquire(ctx, TxLoad, exclusiveWeight); err != nil {
		s.observe(TxLoad, time.Since(start), 0, err)
		return err
	}
	defer s.sem.Release(exclusiveWeight)
	acquired := time.Now()
	defer func() { s.observe(TxLoad, acquired.Sub(start), time.Since(acquired), err) }()

	ctx = context.WithoutCancel(ctx)
	data, err := s.persister.Read(ctx)
	switch {
	case errors.Is(err, ErrNoDocument):
		doc := newDocument()
		if err := s.write(ctx, doc); err != nil {
			return fmt.Errorf("initialize document: %w", err)
		}
		s.doc = doc
		s.logger.InfoContext(ctx, "Initialized empty ledger document", "location", s.persister.Location())
		return nil
	case err != nil:
		return fmt.Errorf("read document: %w", err)
	}

	doc, migrated, err := decodeDocument(data)
	if err != nil {
		return &core.CorruptStoreError{Source: s.persister.Location(), Err: err}
	}
	if migrated {
		if err := s.write(ctx, doc); err != nil {
			return fmt.Errorf("persist migrated document: %w", err)
		}
		s.logger.InfoContext(ctx, "Migrated ledger document", "location", s.persister.Location())
	}
	s.doc = doc
	s.logger.InfoContext(ctx, "Loaded ledger document",
		"location", s.persister.Location(),
		"users", len(doc.Users),
		"lines", len(doc.Lines))
	return nil
}

// WithExclusive runs fn on a mutable copy of the document while holding
// exclusive access. When fn returns nil the copy is persisted and becomes the
// live document before access is released. When fn fails, or the write fails,
// the copy is dropped and both memory and disk keep the previous state.
//
// Only the wait for access honors ctx; once acquired the transaction runs to
// completion.
func (s *Store) WithExclusive(ctx context.Context, fn func(doc *Document) error) (err error) {
	start := time.Now()
	if err := s.acquire(ctx, TxExclusive, exclusiveWeight); err != nil {
		s.observe(TxExclusive, time.Since(start), 0, err)
		return err
	}
	defer s.sem.Release(exclusiveWeight)
	acquired := time.Now()
	defer func() { s.observe(TxExclusive, acquired.Sub(start), time.Since(acquired), err) }()

	if s.doc == nil {
		return ErrNotLoaded
	}
	draft := s.doc.Clone()
	if err := fn(draft); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	draft.revision = s.doc.revision + 1
	if err := s.write(context.WithoutCancel(ctx), draft); err != nil {
		return err
	}
	s.doc = draft
	s.logger.DebugContext(ctx, "Committed ledger transaction", "revision", draft.revision)
	return nil
}

// WithShared runs fn on the live document while holding shared access. fn
// must not modify the document or retain references to it after returning.
func (s *Store) WithShared(ctx context.Context, fn func(doc *Document) error) (err error) {
	start := time.Now()
	if err := s.acquire(ctx, TxShared, 1); err != nil {
		s.observe(TxShared, time.Since(start), 0, err)
		return err
	}
	defer s.sem.Release(1)
	acquired := time.Now()
	defer func() { s.observe(TxShared, acquired.Sub(start), time.Since(acquired), err) }()

	if s.doc == nil {
		return ErrNotLoaded
	}
	return fn(s.doc)
}

// Close releases the persister.
func (s *Store) Close() error {
	return s.persister.Close()
}

func (s *Store) acquire(ctx context.Context, kind TxKind, n int64) error {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := s.sem.Acquire(ctx, n); err != nil {
		return &core.ConcurrencyTimeoutError{Op: string(kind), Err: err}
	}
	return nil
}

func (s *Store) write(ctx context.Context, doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.persister.Write(ctx, data); err != nil {
		return fmt.Errorf("write document to %s: %w", s.persister.Location(), err)
	}
	return nil
}

func (s *Store) observe(kind TxKind, wait, hold time.Duration, err error) {
	if s.observer != nil {
		s.observer.ObserveTransaction(kind, wait, hold, err)
	}
}
