package streams

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/process"
)

// ImportMode selects how Import treats existing streams.
type ImportMode string

// Import modes.
const (
	ImportOverwrite ImportMode = "overwrite"
	ImportAppend    ImportMode = "append"
)

// ImportResult reports what Import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Export returns the full configuration.
func (s *Supervisor) Export(_ context.Context) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{Streams: make(map[string]StreamRecord, len(s.entries)), LastUpdated: time.Now()}
	for id, e := range s.entries {
		doc.Streams[id] = e.rec.Clone()
	}
	return doc
}

// Import loads a backup. Overwrite stops every stream and replaces the whole
// configuration; append adds only ids that are not configured yet. Imported
// streams are stopped.
func (s *Supervisor) Import(_ context.Context, doc Document, mode ImportMode) (ImportResult, error) {
	if mode == "" {
		mode = ImportAppend
	}
	if mode != ImportOverwrite && mode != ImportAppend {
		return ImportResult{}, errInvalid("unknown import mode %q", mode)
	}

	keys := make([]string, 0, len(doc.Streams))
	for k := range doc.Streams {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var result ImportResult
	var handles []process.Handle
	var created []StreamRecord

	s.mu.Lock()
	if mode == ImportOverwrite {
		for id, e := range s.entries {
			if h := s.detach(e); h != nil {
				handles = append(handles, h)
			}
			delete(s.entries, id)
		}
	}

	now := time.Now()
	for _, key := range keys {
		rec := doc.Streams[key]
		if rec.ID == "" {
			rec.ID = key
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if !validStreamID(rec.ID) {
			s.logger.Warn("Skipping imported stream with invalid id", "stream_id", rec.ID)
			result.Skipped++
			continue
		}
		if _, exists := s.entries[rec.ID]; exists {
			result.Skipped++
			continue
		}
		if rec.OriginalURL == "" && rec.URL == "" {
			s.logger.Warn("Skipping imported stream without url", "stream_id", rec.ID)
			result.Skipped++
			continue
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		s.normalize(&rec)
		r := rec
		s.entries[r.ID] = s.newEntry(&r)
		created = append(created, r.Clone())
		result.Imported++
	}

	all := make([]StreamRecord, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e.rec.Clone())
	}
	err := s.store.Replace(all)
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop(s.cfg.StopTimeout)
	}
	if err != nil {
		return result, errInternal("failed to save imported configuration", err)
	}

	for _, rec := range created {
		s.publish(events.StreamCreatedEvent{StreamID: rec.ID, Name: rec.Name, Timestamp: now.Format(time.RFC3339)})
	}
	s.logger.Info("Configuration imported", "mode", mode, "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}
