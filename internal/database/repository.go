// Package database provides SQLite-backed persistence for call history.
package database

import (
	"context"

	"github.com/namith-arrellio/fs-ec2/internal/database/models"
)

// CallRecordRepository stores and queries finished call sessions.
type CallRecordRepository interface {
	// Create inserts a call record and fills in its ID.
	Create(ctx context.Context, rec *models.CallRecord) error

	// GetByCallID returns the most recent record for a call identifier,
	// or nil when none exists.
	GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error)

	// ListRecent returns the most recent records up to the given limit.
	ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error)

	// CountByRoute returns the number of records per routing class.
	CountByRoute(ctx context.Context) (map[string]int, error)
}
