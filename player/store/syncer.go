package store

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Syncer defaults.
const (
	DefaultDebounce   = 750 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
	closeTimeout      = 5 * time.Second
)

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithDebounce sets the quiet period before a scheduled document is
// written.
func WithDebounce(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithMaxBackoff caps the retry delay after failed writes.
func WithMaxBackoff(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// OnError registers fn to be told about failed writes. It runs on the
// syncer goroutine and must not block.
func OnError(fn func(error)) SyncerOption {
	return func(s *Syncer) { s.onError = fn }
}

// Syncer writes the most recently scheduled document of each recording
// after a quiet period.
type Syncer struct {
	store      Store
	logger     *slog.Logger
	debounce   time.Duration
	maxBackoff time.Duration
	onError    func(error)

	mu      sync.Mutex
	pending map[string]Document
	closed  bool

	writeMu sync.Mutex
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSyncer starts a syncer writing to store.
func NewSyncer(store Store, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		store:      store,
		logger:     slog.Default(),
		debounce:   DefaultDebounce,
		maxBackoff: DefaultMaxBackoff,
		pending:    make(map[string]Document),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Schedule queues doc, replacing any document of the same recording not
// yet written. It never blocks.
func (s *Syncer) Schedule(doc Document) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[doc.RecordingID] = doc.clone()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush writes the pending documents now.
func (s *Syncer) Flush(ctx context.Context) error {
	return s.write(ctx)
}

// Close stops the background writer and makes a final attempt to write the
// pending documents.
func (s *Syncer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.write(ctx)
}

func (s *Syncer) run() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		if !s.quiet() {
			return
		}

		for {
			err := s.write(context.Background())
			if err == nil {
				backoff = 0
				break
			}

			backoff = min(max(2*backoff, s.debounce), s.maxBackoff)
			s.logger.Debug("config write retry scheduled", "in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
		}
	}
}

// quiet waits until no Schedule happened for the debounce period. It
// returns false when the syncer is closing.
func (s *Syncer) quiet() bool {
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()

	for {
		select {
		case <-s.wake:
			timer.Reset(s.debounce)
		case <-timer.C:
			return true
		case <-s.done:
			return false
		}
	}
}

// write stores the pending documents. A failed document is requeued
// unless a newer one for the same recording arrived meanwhile.
func (s *Syncer) write(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]Document)
	s.mu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(batch)) {
		doc := batch[id]
		if err := s.store.Put(ctx, doc); err != nil {
			s.mu.Lock()
			if _, newer := s.pending[id]; !newer {
				s.pending[id] = doc
			}
			s.mu.Unlock()

			s.logger.Warn("config write failed", "recording", id, "err", err)
			if s.onError != nil {
				s.onError(err)
			}
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("config written", "recording", id)
	}
	return errors.Join(errs...)
}
