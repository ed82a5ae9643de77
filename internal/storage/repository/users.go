package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// UpsertUser сохраняет пользователя при первом обращении либо обновляет
// его имя и время последнего взаимодействия.
func (s *Storage) UpsertUser(ctx context.Context, user models.User) error {
	const op = "storage.UpsertUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (telegram_id, username, first_name, plan, is_active)
			  VALUES ($1, $2, $3, $4, TRUE)
			  ON CONFLICT (telegram_id) DO UPDATE
			  SET username = EXCLUDED.username,
			      first_name = EXCLUDED.first_name,
			      is_active = TRUE,
			      last_interaction = now()`
	if _, err := s.DB.ExecContext(ctx, query,
		user.TelegramID, user.Username, user.FirstName, user.Plan); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает пользователя по его telegram_id.
func (s *Storage) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT telegram_id, COALESCE(username, ''), COALESCE(first_name, ''),
			      plan, is_active, created_at, last_interaction
			  FROM users
			  WHERE telegram_id = $1`
	u := &models.User{}
	row := s.DB.QueryRowContext(ctx, query, telegramID)
	if err := row.Scan(&u.TelegramID, &u.Username, &u.FirstName,
		&u.Plan, &u.IsActive, &u.CreatedAt, &u.LastInteraction); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// TouchInteraction обновляет время последнего входящего события пользователя.
func (s *Storage) TouchInteraction(ctx context.Context, telegramID int64) error {
	const op = "storage.TouchInteraction"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET last_interaction = now() WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetPlan изменяет тариф пользователя.
func (s *Storage) SetPlan(ctx context.Context, telegramID int64, plan models.PlanTier) error {
	const op = "storage.SetPlan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET plan = $1 WHERE telegram_id = $2`
	res, err := s.DB.ExecContext(ctx, query, plan, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// DeactivateUser помечает пользователя остановившим бота: рассылки и
// напоминания для него прекращаются.
func (s *Storage) DeactivateUser(ctx context.Context, telegramID int64) error {
	const op = "storage.DeactivateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET is_active = FALSE WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListActiveUserIDs возвращает идентификаторы всех активных пользователей,
// используется для административной рассылки.
func (s *Storage) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	const op = "storage.ListActiveUserIDs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT telegram_id FROM users WHERE is_active = TRUE ORDER BY telegram_id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
