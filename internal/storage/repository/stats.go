package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// GetStats собирает агрегированные счетчики для операторского эндпоинта.
func (s *Storage) GetStats(ctx context.Context, now time.Time) (models.Stats, error) {
	const op = "storage.GetStats"
	select {
	case <-ctx.Done():
		return models.Stats{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT
			      (SELECT COUNT(*) FROM users),
			      (SELECT COUNT(*) FROM users WHERE plan = 'pro'),
			      (SELECT COUNT(*) FROM subscriptions WHERE state IN ('trial', 'active', 'snoozed')),
			      (SELECT COUNT(*) FROM reminder_log WHERE sent_at >= $1)`
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats models.Stats
	if err := s.DB.QueryRowContext(ctx, query, dayStart).Scan(
		&stats.TotalUsers, &stats.ProUsers, &stats.ActiveSubscriptions,
		&stats.RemindersSentToday); err != nil {
		return models.Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}
