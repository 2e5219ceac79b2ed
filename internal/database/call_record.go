package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/namith-arrellio/fs-ec2/internal/database/models"
)

// callRecordRepo implements CallRecordRepository.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

// Create inserts a new call record.
func (r *callRecordRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (call_id, tenant, caller, callee, context,
		 route, disposition, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Tenant, rec.Caller, rec.Callee, rec.Context,
		rec.Route, rec.Disposition, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByCallID returns the most recent record for a call identifier.
func (r *callRecordRepo) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, call_id, tenant, caller, callee, context, route,
		 disposition, started_at, ended_at
		 FROM call_records WHERE call_id = ?
		 ORDER BY started_at DESC LIMIT 1`, callID,
	)

	var rec models.CallRecord
	err := row.Scan(&rec.ID, &rec.CallID, &rec.Tenant, &rec.Caller, &rec.Callee,
		&rec.Context, &rec.Route, &rec.Disposition, &rec.StartedAt, &rec.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &rec, nil
}

// ListRecent returns the most recent call records up to the given limit.
func (r *callRecordRepo) ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, tenant, caller, callee, context, route,
		 disposition, started_at, ended_at
		 FROM call_records ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent call records: %w", err)
	}
	defer rows.Close()

	var recs []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.Tenant, &rec.Caller,
			&rec.Callee, &rec.Context, &rec.Route, &rec.Disposition,
			&rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call record rows: %w", err)
	}

	return recs, nil
}

// CountByRoute returns the number of records per routing class.
func (r *callRecordRepo) CountByRoute(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT route, COUNT(*) FROM call_records GROUP BY route`)
	if err != nil {
		return nil, fmt.Errorf("counting call records by route: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var route string
		var n int
		if err := rows.Scan(&route, &n); err != nil {
			return nil, fmt.Errorf("scanning route count: %w", err)
		}
		counts[route] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating route counts: %w", err)
	}

	return counts, nil
}
