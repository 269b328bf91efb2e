package repository

import (
	"context"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
)

// HistoryCap bounds the per-origin run history. Enforced at write time by
// dropping the oldest entries.
const HistoryCap = 10

// HistoryStore keeps the most recent run reports per origin, newest first.
type HistoryStore interface {
	Append(ctx context.Context, originKey string, report *domain.RunReport) error
	Read(ctx context.Context, originKey string) ([]domain.RunReport, error)
}

// ReportArchive durably stores every run report for later export.
type ReportArchive interface {
	InsertReport(ctx context.Context, report *domain.RunReport) error
	GetReportByID(ctx context.Context, id string) (*domain.RunReport, error)
	ListReportsByOrigin(ctx context.Context, origin string, limit int) ([]domain.RunReport, error)
}
