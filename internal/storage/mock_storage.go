package storage

import (
	"fmt"
	"sync"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// MockStorage is an in-memory Interface for tests and dry runs.
type MockStorage struct {
	saveError     error
	loadError     error
	runs          []models.RunRecord
	saveCallCount int
	loadCallCount int
	mu            sync.RWMutex
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// SaveRun stores a copy of run.
func (m *MockStorage) SaveRun(run *models.RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.runs = upsertRun(m.runs, cloneRun(run))
	return nil
}

// GetRun returns a copy of the run with the given ID.
func (m *MockStorage) GetRun(id string) (*models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			return cloneRun(&m.runs[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// ListRuns returns copies of all runs, most recent first.
func (m *MockStorage) ListRuns() []models.RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRuns(m.runs)
}

// LatestRun returns the most recently started run.
func (m *MockStorage) LatestRun() (*models.RunRecord, error) {
	runs := m.ListRuns()
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// Save counts the call and returns the configured save error.
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

// Load counts the call and returns the configured load error.
func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	return m.loadError
}

// SetSaveError makes Save and SaveRun fail with err.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError makes Load fail with err.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SaveCallCount returns how many times Save was called.
func (m *MockStorage) SaveCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCallCount
}

// LoadCallCount returns how many times Load was called.
func (m *MockStorage) LoadCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCallCount
}
