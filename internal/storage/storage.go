package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// JSONStorage keeps run records in a single JSON file.
type JSONStorage struct {
	data     *Data
	filepath string
	mu       sync.RWMutex
}

// Data is the on-disk layout.
type Data struct {
	LastUpdated time.Time          `json:"last_updated"`
	Runs        []models.RunRecord `json:"runs"`
}

// NewJSONStorage opens the store at path, loading it if the file exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     &Data{},
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load replaces the in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath) // #nosec G304 -- path comes from trusted config
	if err != nil {
		return err
	}

	var loaded Data
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("decoding %s: %w", s.filepath, err)
	}
	s.data = &loaded
	return nil
}

// Save writes the store to disk atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// SaveRun stores run, replacing any record with the same ID, and persists.
func (s *JSONStorage) SaveRun(run *models.RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Runs = upsertRun(s.data.Runs, cloneRun(run))
	return s.saveLocked()
}

// GetRun returns a copy of the run with the given ID.
func (s *JSONStorage) GetRun(id string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Runs {
		if s.data.Runs[i].ID == id {
			return cloneRun(&s.data.Runs[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// ListRuns returns copies of all runs, most recent first.
func (s *JSONStorage) ListRuns() []models.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRuns(s.data.Runs)
}

// LatestRun returns the most recently started run.
func (s *JSONStorage) LatestRun() (*models.RunRecord, error) {
	runs := s.ListRuns()
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

func validateRun(run *models.RunRecord) error {
	if run == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRun)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRun)
	}
	return nil
}

func upsertRun(runs []models.RunRecord, run *models.RunRecord) []models.RunRecord {
	for i := range runs {
		if runs[i].ID == run.ID {
			runs[i] = *run
			return runs
		}
	}
	return append(runs, *run)
}

// cloneRun copies run so callers cannot mutate stored slices and maps.
func cloneRun(run *models.RunRecord) *models.RunRecord {
	out := *run
	out.Orders = append([]string(nil), run.Orders...)
	if run.Statistics != nil {
		out.Statistics = make(map[string]string, len(run.Statistics))
		for k, v := range run.Statistics {
			out.Statistics[k] = v
		}
	}
	return &out
}

func sortedRuns(runs []models.RunRecord) []models.RunRecord {
	out := make([]models.RunRecord, 0, len(runs))
	for i := range runs {
		out = append(out, *cloneRun(&runs[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
