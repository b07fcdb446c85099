// Package store persists per-recording player configuration.
//
// Persistence is best effort: the player schedules documents on a Syncer,
// which debounces them, writes the latest one and retries failures with
// backoff without ever blocking the caller.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/algo-stems/player/effects"
	"github.com/cwbudde/algo-stems/player/stems"
)

// ErrNotFound is returned by Get for an unknown recording.
var ErrNotFound = errors.New("store: document not found")

// StemSettings is the persisted gain/mute/solo of one stem.
type StemSettings = stems.Saved

// Document is the saved configuration of one recording.
type Document struct {
	RecordingID string                  `json:"recordingId"`
	Position    float64                 `json:"position"`
	MasterGain  float64                 `json:"masterGain"`
	Stems       map[string]StemSettings `json:"stems,omitempty"`
	Effects     effects.Settings        `json:"effects"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// UnmarshalJSON fills keys missing from data with their defaults: unity
// master gain and the default effect settings.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	doc := plain{MasterGain: 1, Effects: effects.DefaultSettings()}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*d = Document(doc)
	return nil
}

func (d Document) clone() Document {
	d.Stems = maps.Clone(d.Stems)
	return d
}

// Store reads and writes documents.
type Store interface {
	Get(ctx context.Context, recordingID string) (Document, error)
	Put(ctx context.Context, doc Document) error
}

// FileStore keeps one JSON file per recording in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id)+".json")
}

// Get reads the document for recordingID.
func (s *FileStore) Get(ctx context.Context, recordingID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(s.path(recordingID))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, recordingID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: read %q: %w", recordingID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("store: decode %q: %w", recordingID, err)
	}
	return doc, nil
}

// Put writes doc atomically: a temp file in the same directory is renamed
// over the old document.
func (s *FileStore) Put(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.RecordingID == "" {
		return errors.New("store: empty recording id")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", doc.RecordingID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %q: %w", doc.RecordingID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %q: %w", doc.RecordingID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %q: %w", doc.RecordingID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.RecordingID)); err != nil {
		return fmt.Errorf("store: commit %q: %w", doc.RecordingID, err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Get returns a copy of the stored document.
func (s *MemoryStore) Get(_ context.Context, recordingID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[recordingID]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, recordingID)
	}
	return doc.clone(), nil
}

// Put stores a copy of doc.
func (s *MemoryStore) Put(_ context.Context, doc Document) error {
	if doc.RecordingID == "" {
		return errors.New("store: empty recording id")
	}
	s.mu.Lock()
	s.docs[doc.RecordingID] = doc.clone()
	s.mu.Unlock()
	return nil
}
