package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
)

func TestHistoryStoreNewestFirstAndCapped(t *testing.T) {
	store := NewHistoryStore()
	ctx := context.Background()
	origin := "https://example.com"

	for i := 0; i < repository.HistoryCap+3; i++ {
		err := store.Append(ctx, origin, &domain.RunReport{ID: fmt.Sprintf("report-%d", i)})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	reports, err := store.Read(ctx, origin)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(reports) != repository.HistoryCap {
		t.Fatalf("expected history capped at %d, got %d", repository.HistoryCap, len(reports))
	}
	if reports[0].ID != fmt.Sprintf("report-%d", repository.HistoryCap+2) {
		t.Fatalf("expected newest first, got %s", reports[0].ID)
	}
}

func TestHistoryStoreIsolatesOrigins(t *testing.T) {
	store := NewHistoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, "https://a.example.com", &domain.RunReport{ID: "report-a"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	reports, err := store.Read(ctx, "https://b.example.com")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("expected empty history for other origin, got %d", len(reports))
	}
}
