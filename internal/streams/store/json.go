// Package store persists stream records as a single JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/hlsrelay/internal/streams"
)

// BadSuffix is appended to a streams file that failed to parse.
const BadSuffix = ".bad"

// jsonStore implements streams.Store on one JSON file.
type jsonStore struct {
	mu         sync.Mutex
	configPath string
	doc        streams.Document
}

// NewJSON creates a new JSON-file store.
func NewJSON(configPath string) streams.Store {
	if configPath == "" {
		configPath = "streams.json"
	}

	return &jsonStore{
		configPath: configPath,
		doc:        streams.Document{Streams: make(map[string]streams.StreamRecord)},
	}
}

// Load reads the document. A missing file leaves the store empty. A file
// that does not parse is renamed to <path>.bad so later saves cannot
// overwrite it, and the store stays empty.
func (s *jsonStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read streams config: %w", err)
	}

	var doc streams.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		parseErr := fmt.Errorf("failed to parse streams config: %w", err)
		if renameErr := os.Rename(s.configPath, s.configPath+BadSuffix); renameErr != nil {
			return errors.Join(parseErr, fmt.Errorf("failed to move aside corrupt config: %w", renameErr))
		}
		return parseErr
	}
	if doc.Streams == nil {
		doc.Streams = make(map[string]streams.StreamRecord)
	}
	s.doc = doc
	return nil
}

// save writes the document to a temporary file and renames it into place.
// Caller holds s.mu.
func (s *jsonStore) save() error {
	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	s.doc.LastUpdated = time.Now()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal streams config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.configPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write streams config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write streams config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod streams config: %w", err)
	}
	if err := os.Rename(tmpName, s.configPath); err != nil {
		return fmt.Errorf("failed to replace streams config: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *jsonStore) Get(id string) (streams.StreamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Streams[id]
	if !ok {
		return streams.StreamRecord{}, false
	}
	return rec.Clone(), true
}

// List returns every record.
func (s *jsonStore) List() []streams.StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streams.StreamRecord, 0, len(s.doc.Streams))
	for _, rec := range s.doc.Streams {
		out = append(out, rec.Clone())
	}
	return out
}

// Put inserts or replaces a record and saves.
func (s *jsonStore) Put(rec streams.StreamRecord) error {
	if rec.ID == "" {
		return errors.New("record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Streams[rec.ID] = rec.Clone()
	return s.save()
}

// Delete removes a record and saves.
func (s *jsonStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Streams, id)
	return s.save()
}

// Replace swaps every record and saves.
func (s *jsonStore) Replace(records []streams.StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Streams = make(map[string]streams.StreamRecord, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			s.doc.Streams[rec.ID] = rec.Clone()
		}
	}
	return s.save()
}
