// Package redishist implements the run history on redis lists: LPUSH keeps
// newest first, LTRIM enforces the per-origin cap at write time.
package redishist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
)

const keyPrefix = "perfcheck:history:"

// HistoryStore is a redis-backed repository.HistoryStore.
type HistoryStore struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to redis and verifies the connection.
func New(addr, password string, db int, logger *slog.Logger) (*HistoryStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redishist: ping: %w", err)
	}
	if logger != nil {
		logger = logger.With("component", "history_redis")
	}
	return &HistoryStore{client: client, logger: logger}, nil
}

// Append prepends the report to the origin's list and trims to the cap.
func (h *HistoryStore) Append(ctx context.Context, originKey string, report *domain.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redishist: encode report: %w", err)
	}
	key := keyPrefix + originKey
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, repository.HistoryCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redishist: append %s: %w", originKey, err)
	}
	return nil
}

// Read returns the newest-first history for an origin. Entries that fail to
// decode are skipped with a warning rather than poisoning the whole read.
func (h *HistoryStore) Read(ctx context.Context, originKey string) ([]domain.RunReport, error) {
	values, err := h.client.LRange(ctx, keyPrefix+originKey, 0, repository.HistoryCap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redishist: read %s: %w", originKey, err)
	}
	reports := make([]domain.RunReport, 0, len(values))
	for _, raw := range values {
		var rep domain.RunReport
		if err := json.Unmarshal([]byte(raw), &rep); err != nil {
			if h.logger != nil {
				h.logger.Warn("skipping undecodable history entry", "origin", originKey, "error", err)
			}
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Close releases the redis connection.
func (h *HistoryStore) Close() {
	_ = h.client.Close()
}
