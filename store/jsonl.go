package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/opsrun/opsrun/engine"
)

// JSONLStore appends one JSON-encoded run per line to a plain file.
// It suits log shipping and ad-hoc inspection with standard tools;
// the SQLite store is the default for history queries.
type JSONLStore struct {
	mu   sync.Mutex
	path string
}

// NewJSONLStore creates a store appending to path. The file is created
// on first Save.
func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

// Save appends the run as a single JSON line.
func (s *JSONLStore) Save(_ context.Context, result *engine.PipelineResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// List reads the file back and returns summaries, newest first.
func (s *JSONLStore) List(_ context.Context, limit int) ([]RunSummary, error) {
	results, err := s.readAll()
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		out = append(out, summarize(&results[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get scans the file for the run with the given ID.
func (s *JSONLStore) Get(_ context.Context, runID string) (*engine.PipelineResult, error) {
	results, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].RunID == runID {
			return &results[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Close is a no-op; the file is opened per operation.
func (s *JSONLStore) Close() error { return nil }

func (s *JSONLStore) readAll() ([]engine.PipelineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var out []engine.PipelineResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r engine.PipelineResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode run history line: %w", err)
		}
		out = append(out, r)
	}
	return out, scanner.Err()
}
