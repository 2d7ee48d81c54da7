// Package checkpoint persists partial sweep results durably so an
// interrupted sweep can resume without re-probing or losing work. Each model
// gets one JSON mapping file holding the sweep progress plus every recorded
// token. Writes go through a temp file and an atomic rename, so a crash mid
// flush never corrupts the previous checkpoint.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status records how a token ID was resolved.
type Status string

const (
	// StatusResolved - the endpoint returned non-empty decoded text.
	StatusResolved Status = "resolved"
	// StatusEmpty - the decoding is empty/whitespace, or the ID was
	// permanently rejected as invalid.
	StatusEmpty Status = "empty"
	// StatusFailed - transient failures exhausted the retry budget.
	StatusFailed Status = "failed"
)

// TokenRecord is one probed vocabulary entry.
type TokenRecord struct {
	ID     int    `json:"id"`
	Text   string `json:"text,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"` // raw UTF-8 of Text
	Status Status `json:"status"`
}

// Mapping is the accumulated id -> record vocabulary for one model.
type Mapping map[int]TokenRecord

// Clone returns an independent copy. The analysis engine consumes clones so
// it can never observe (or cause) mutation of store state.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for id, rec := range m {
		out[id] = rec
	}
	return out
}

// Progress tracks how far a sweep has durably advanced.
type Progress struct {
	ModelName       string    `json:"model_name"`
	RunID           string    `json:"run_id,omitempty"`
	StartID         int       `json:"start_id"`
	EndID           int       `json:"end_id"`
	LastCompletedID int       `json:"last_completed_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// checkpointFile is the on-disk layout.
type checkpointFile struct {
	Progress
	Records Mapping `json:"records"`
}

// Store owns the checkpoint file for a single model. Appends accumulate in
// memory; Flush makes them durable. Safe for concurrent use, though during a
// sweep only the engine's committer touches it.
type Store struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	progress Progress
	records  Mapping
	dirty    bool
	loaded   bool // a checkpoint file existed at Open
}

// Path returns the checkpoint file path for a model inside dir.
func Path(dir, modelName string) string {
	return filepath.Join(dir, fmt.Sprintf("token_mappings_%s.json", sanitizeModelName(modelName)))
}

// sanitizeModelName keeps model identifiers filesystem-safe.
func sanitizeModelName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(name)
}

// Open loads the checkpoint for modelName from dir, creating empty in-memory
// state when no file exists yet.
func Open(dir, modelName string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	s := &Store{
		path:    Path(dir, modelName),
		logger:  logger,
		records: make(Mapping),
		progress: Progress{
			ModelName:       modelName,
			LastCompletedID: -1,
		},
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", s.path, err)
	}
	if file.Records != nil {
		s.records = file.Records
	}
	s.progress = file.Progress
	if s.progress.ModelName == "" {
		s.progress.ModelName = modelName
	}
	s.loaded = true

	logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int("last_completed_id", s.progress.LastCompletedID))
	return s, nil
}

// Loaded reports whether an existing checkpoint file was found at Open.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Mapping returns a snapshot copy of all records.
func (s *Store) Mapping() Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone()
}

// Progress returns the current sweep progress.
func (s *Store) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Begin stamps run identity and range onto the progress record at sweep
// start. LastCompletedID survives from a loaded checkpoint.
func (s *Store) Begin(runID string, startID, endID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.RunID = runID
	s.progress.StartID = startID
	s.progress.EndID = endID
	if !s.loaded {
		s.progress.LastCompletedID = startID - 1
	}
	s.dirty = true
}

// Append stages records for the next flush. Idempotent per id: a later
// append for the same id overwrites the earlier record.
func (s *Store) Append(records ...TokenRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	s.dirty = true
}

// Advance moves last_completed_id forward. Callers must only pass ids for
// which every lower id in range has been recorded.
func (s *Store) Advance(lastCompletedID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastCompletedID > s.progress.LastCompletedID {
		s.progress.LastCompletedID = lastCompletedID
		s.dirty = true
	}
}

// Flush durably persists all staged state. No-op when nothing changed since
// the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	s.progress.UpdatedAt = time.Now().UTC()
	file := checkpointFile{Progress: s.progress, Records: s.records}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint %s: %w", s.path, err)
	}

	s.dirty = false
	s.loaded = true
	s.logger.Debug("checkpoint flushed",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int("last_completed_id", s.progress.LastCompletedID))
	return nil
}

// Reset deletes the checkpoint file and clears in-memory state. Missing
// files are not an error.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", s.path, err)
	}
	model := s.progress.ModelName
	s.records = make(Mapping)
	s.progress = Progress{ModelName: model, LastCompletedID: -1}
	s.dirty = false
	s.loaded = false
	return nil
}
