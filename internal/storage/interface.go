package storage

import (
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// Interface defines the contract for regression run persistence.
//
// Implementations must be safe for concurrent use: the dashboard reads runs
// while the runner writes them.
type Interface interface {
	// Run records
	SaveRun(run *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	ListRuns() []models.RunRecord
	LatestRun() (*models.RunRecord, error)

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
