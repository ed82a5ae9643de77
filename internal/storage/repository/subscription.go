package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

const subscriptionColumns = `id, user_id, service_name, cost, billing_cycle, next_due_at,
			      lead_time_seconds, state, last_reminder_sent_at, snooze_until, notes,
			      delivery_failed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var leadSeconds int64
	var lastReminder, snoozeUntil, deliveryFailed sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.ServiceName, &sub.Cost, &sub.BillingCycle,
		&sub.NextDueAt, &leadSeconds, &sub.State, &lastReminder, &snoozeUntil, &sub.Notes,
		&deliveryFailed, &sub.CreatedAt); err != nil {
		return nil, err
	}
	sub.LeadTime = time.Duration(leadSeconds) * time.Second
	if lastReminder.Valid {
		sub.LastReminderSentAt = &lastReminder.Time
	}
	if snoozeUntil.Valid {
		sub.SnoozeUntil = &snoozeUntil.Time
	}
	if deliveryFailed.Valid {
		sub.DeliveryFailedAt = &deliveryFailed.Time
	}
	return &sub, nil
}

// CreateEntry вставляет новую подписку, атомарно проверяя квоту. Под
// уровнем изоляции READ COMMITTED два конкурентных запроса видят один и
// тот же счетчик, поэтому подсчет и вставка выполняются в транзакции под
// блокировкой строки пользователя: конкурентные вставки одного пользователя
// сериализуются и лимит не превышается. Нулевой freeLimit означает
// отсутствие лимита (тариф pro). При превышении лимита возвращает
// ErrQuotaExceeded, запись не создается.
func (s *Storage) CreateEntry(ctx context.Context, entry models.Subscription, freeLimit int) (int64, error) {
	const op = "storage.CreateEntry"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	lockQuery := `SELECT 1 FROM users WHERE telegram_id = $1 FOR UPDATE`
	var one int
	if err := tx.QueryRowContext(ctx, lockQuery, entry.UserID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO subscriptions (user_id, service_name, cost, billing_cycle,
			      next_due_at, lead_time_seconds, state, notes)
			  SELECT $1, $2, $3, $4, $5, $6, $7, $8
			  WHERE $9 = 0
			     OR (SELECT COUNT(*) FROM subscriptions
			         WHERE user_id = $1 AND state IN ('trial', 'active')) < $9
			  RETURNING id`
	var newID int64
	err = tx.QueryRowContext(ctx, query,
		entry.UserID, entry.ServiceName, entry.Cost, entry.BillingCycle,
		entry.NextDueAt, int64(entry.LeadTime/time.Second), entry.State, entry.Notes, freeLimit).Scan(&newID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, models.ErrQuotaExceeded)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// ReadEntry возвращает подписку по её ID.
func (s *Storage) ReadEntry(ctx context.Context, id int64) (*models.Subscription, error) {
	const op = "storage.ReadEntry"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListTracked возвращает отслеживаемые подписки пользователя
// (trial, active, snoozed), ближайшие к окончанию первыми.
func (s *Storage) ListTracked(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	const op = "storage.ListTracked"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND state IN ('trial', 'active', 'snoozed')
			  ORDER BY next_due_at`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountActiveOrTrial подсчитывает подписки пользователя, занимающие квоту.
func (s *Storage) CountActiveOrTrial(ctx context.Context, userID int64) (int, error) {
	const op = "storage.CountActiveOrTrial"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*) FROM subscriptions
			  WHERE user_id = $1 AND state IN ('trial', 'active')`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// CountCanceled подсчитывает отмененные подписки пользователя.
func (s *Storage) CountCanceled(ctx context.Context, userID int64) (int, error) {
	const op = "storage.CountCanceled"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*) FROM subscriptions
			  WHERE user_id = $1 AND state = 'canceled'`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// UpdateState переводит подписку из ожидаемого состояния в новое.
// Если подписка уже не в ожидаемом состоянии, возвращает ErrStoreConflict
// и ничего не изменяет.
func (s *Storage) UpdateState(ctx context.Context, id int64, expected, next models.State) error {
	const op = "storage.UpdateState"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET state = $1, snooze_until = NULL
			  WHERE id = $2 AND state = $3`
	res, err := s.DB.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
	}
	return nil
}

// SetSnooze откладывает напоминания активной подписки до until.
// Проверка "строго раньше next_due_at" повторяется на уровне запроса,
// чтобы конкурентное продление цикла не узаконило устаревшее значение.
func (s *Storage) SetSnooze(ctx context.Context, id int64, until time.Time) error {
	const op = "storage.SetSnooze"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET state = 'snoozed', snooze_until = $1
			  WHERE id = $2 AND state = 'active' AND $1 < next_due_at`
	res, err := s.DB.ExecContext(ctx, query, until, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
	}
	return nil
}

// WakeSnoozed возвращает в активное состояние все подписки, у которых
// срок откладывания истек, и сообщает, сколько строк затронуто.
func (s *Storage) WakeSnoozed(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.WakeSnoozed"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET state = 'active', snooze_until = NULL
			  WHERE state = 'snoozed' AND snooze_until <= $1`
	res, err := s.DB.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

// FindDue возвращает активные подписки, которым положено напоминание на
// момент now: окно напоминания наступило, напоминание текущего цикла не
// отправлялось, действующего захвата нет.
func (s *Storage) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	const op = "storage.FindDue"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE state = 'active'
			    AND next_due_at - make_interval(secs => lead_time_seconds) <= $1
			    AND (last_reminder_sent_at IS NULL
			         OR last_reminder_sent_at < CASE billing_cycle
			                WHEN 'monthly' THEN next_due_at - INTERVAL '1 month'
			                WHEN 'yearly' THEN next_due_at - INTERVAL '1 year'
			                ELSE created_at
			            END)
			    AND (claimed_until IS NULL OR claimed_until < $1)
			  ORDER BY next_due_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ClaimDue захватывает подписку под рассылку напоминания. Захват — условное
// обновление: проходит только если действующего захвата нет, поэтому из
// нескольких конкурирующих планировщиков побеждает ровно один, остальные
// получают ErrAlreadyClaimed.
func (s *Storage) ClaimDue(ctx context.Context, id int64, token string, now time.Time, ttl time.Duration) error {
	const op = "storage.ClaimDue"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET claim_token = $1, claimed_until = $2
			  WHERE id = $3 AND state = 'active'
			    AND (claimed_until IS NULL OR claimed_until < $4)`
	res, err := s.DB.ExecContext(ctx, query, token, now.Add(ttl), id, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyClaimed)
	}
	return nil
}

// ReleaseClaim снимает захват, если он все еще принадлежит токену.
// Отсутствие строки не ошибка: захват мог истечь по TTL.
func (s *Storage) ReleaseClaim(ctx context.Context, id int64, token string) error {
	const op = "storage.ReleaseClaim"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET claim_token = NULL, claimed_until = NULL
			  WHERE id = $1 AND claim_token = $2`
	if _, err := s.DB.ExecContext(ctx, query, id, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkDelivered фиксирует успешную доставку напоминания: в одной
// транзакции проставляет отметку цикла, снимает захват (при условии, что
// токен все еще наш) и пишет строку в журнал доставок для операторских
// счетчиков. Потеря захвата возвращает ErrStoreConflict.
func (s *Storage) MarkDelivered(ctx context.Context, id int64, token string, cycleStart, sentAt time.Time) error {
	const op = "storage.MarkDelivered"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE subscriptions
			  SET last_reminder_sent_at = $1, claim_token = NULL, claimed_until = NULL
			  WHERE id = $2 AND claim_token = $3
			  RETURNING user_id`
	var userID int64
	if err := tx.QueryRowContext(ctx, query, cycleStart, id, token).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	logQuery := `INSERT INTO reminder_log (subscription_id, user_id, sent_at)
			  VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, logQuery, id, userID, sentAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindElapsed возвращает активные подписки с истекшим платежным циклом
// для продления или перевода в expired.
func (s *Storage) FindElapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	const op = "storage.FindElapsed"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE state = 'active' AND next_due_at < $1
			  ORDER BY next_due_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ApplyAdvance записывает результат продления или истечения цикла,
// рассчитанный в памяти. Обновление условно по прежнему состоянию и
// прежней дате: если подписку успели изменить конкурентно, возвращается
// ErrStoreConflict и вызывающий перечитывает запись.
func (s *Storage) ApplyAdvance(ctx context.Context, sub *models.Subscription, prevDueAt time.Time) error {
	const op = "storage.ApplyAdvance"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET next_due_at = $1, state = $2, last_reminder_sent_at = $3
			  WHERE id = $4 AND state = 'active' AND next_due_at = $5`
	var lastReminder sql.NullTime
	if sub.LastReminderSentAt != nil {
		lastReminder = sql.NullTime{Time: *sub.LastReminderSentAt, Valid: true}
	}
	res, err := s.DB.ExecContext(ctx, query, sub.NextDueAt, sub.State, lastReminder, sub.ID, prevDueAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
	}
	return nil
}

// MarkDeliveryFailed помечает подписку неустранимым сбоем доставки для
// разбора оператором и снимает захват.
func (s *Storage) MarkDeliveryFailed(ctx context.Context, id int64, failedAt time.Time) error {
	const op = "storage.MarkDeliveryFailed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET delivery_failed_at = $1, claim_token = NULL, claimed_until = NULL
			  WHERE id = $2`
	if _, err := s.DB.ExecContext(ctx, query, failedAt, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
