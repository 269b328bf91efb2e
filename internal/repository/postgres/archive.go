// Package postgres implements the durable report archive on PostgreSQL,
// storing each run report as a jsonb document keyed by id and origin.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
)

// Archive is a pgx-backed repository.ReportArchive.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wraps a connection pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// InsertReport stores one report document.
func (a *Archive) InsertReport(ctx context.Context, report *domain.RunReport) error {
	document, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("archive: encode report: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO run_reports (id, origin, target_url, generated_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		report.ID, report.Meta.Origin, report.Meta.TargetURL, report.Meta.GeneratedAt, document)
	if err != nil {
		return fmt.Errorf("archive: insert report %s: %w", report.ID, err)
	}
	return nil
}

// GetReportByID loads one report document.
func (a *Archive) GetReportByID(ctx context.Context, id string) (*domain.RunReport, error) {
	var document []byte
	err := a.pool.QueryRow(ctx,
		`SELECT document FROM run_reports WHERE id = $1`, id).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get report %s: %w", id, err)
	}
	var report domain.RunReport
	if err := json.Unmarshal(document, &report); err != nil {
		return nil, fmt.Errorf("archive: decode report %s: %w", id, err)
	}
	return &report, nil
}

// ListReportsByOrigin returns the newest reports for an origin.
func (a *Archive) ListReportsByOrigin(ctx context.Context, origin string, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = repository.HistoryCap
	}
	rows, err := a.pool.Query(ctx, `
		SELECT document FROM run_reports
		WHERE origin = $1
		ORDER BY generated_at DESC
		LIMIT $2`, origin, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list reports for %s: %w", origin, err)
	}
	defer rows.Close()

	var reports []domain.RunReport
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("archive: scan report row: %w", err)
		}
		var report domain.RunReport
		if err := json.Unmarshal(document, &report); err != nil {
			return nil, fmt.Errorf("archive: decode report row: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate report rows: %w", err)
	}
	return reports, nil
}
