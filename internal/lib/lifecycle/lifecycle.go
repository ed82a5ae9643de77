// Package lifecycle реализует машину состояний подписки и календарные
// вычисления платежного цикла. Все функции чистые: они либо проверяют
// допустимость перехода, либо изменяют переданную структуру в памяти,
// запись в хранилище остается за вызывающей стороной.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// transitions допустимые переходы. Терминальные состояния canceled и
// expired отсутствуют в карте и не допускают никаких переходов.
var transitions = map[models.State][]models.State{
	models.StateTrial:   {models.StateActive, models.StateCanceled},
	models.StateActive:  {models.StateSnoozed, models.StateCanceled, models.StateExpired},
	models.StateSnoozed: {models.StateActive, models.StateCanceled},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to models.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition переводит подписку в состояние to. При недопустимом переходе
// возвращает ErrInvalidTransition и не изменяет подписку.
func Transition(sub *models.Subscription, to models.State) error {
	if !CanTransition(sub.State, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, sub.State, to)
	}
	sub.State = to
	return nil
}

// Activate подтверждает пробную подписку (trial -> active). Для уже
// активной подписки операция идемпотентна и ничего не делает.
func Activate(sub *models.Subscription) error {
	if sub.State == models.StateActive {
		return nil
	}
	return Transition(sub, models.StateActive)
}

// Cancel отменяет подписку по явному действию пользователя.
func Cancel(sub *models.Subscription) error {
	return Transition(sub, models.StateCanceled)
}

// Snooze откладывает напоминания до until. Значение until обязано быть
// строго позже now и строго раньше next_due_at, иначе ErrInvalidTransition.
func Snooze(sub *models.Subscription, now, until time.Time) error {
	if !until.After(now) || !until.Before(sub.NextDueAt) {
		return fmt.Errorf("%w: snooze_until must be before next due date", models.ErrInvalidTransition)
	}
	if err := Transition(sub, models.StateSnoozed); err != nil {
		return err
	}
	sub.SnoozeUntil = &until
	return nil
}

// Wake возвращает отложенную подписку в активное состояние, если срок
// откладывания истек. Сообщает, произошло ли пробуждение.
func Wake(sub *models.Subscription, now time.Time) bool {
	if sub.State != models.StateSnoozed || sub.SnoozeUntil == nil || now.Before(*sub.SnoozeUntil) {
		return false
	}
	sub.State = models.StateActive
	sub.SnoozeUntil = nil
	return true
}

// Advance применяет завершение цикла к активной подписке: разовая
// подписка истекает, повторяющаяся продлевается на один цикл со сбросом
// отметки об отправленном напоминании.
func Advance(sub *models.Subscription, now time.Time) error {
	if sub.State != models.StateActive {
		return fmt.Errorf("%w: advance requires active state, got %s", models.ErrInvalidTransition, sub.State)
	}
	if now.Before(sub.NextDueAt) {
		return fmt.Errorf("%w: cycle has not elapsed yet", models.ErrInvalidTransition)
	}
	switch sub.BillingCycle {
	case models.CycleMonthly:
		sub.NextDueAt = sub.NextDueAt.AddDate(0, 1, 0)
		sub.LastReminderSentAt = nil
	case models.CycleYearly:
		sub.NextDueAt = sub.NextDueAt.AddDate(1, 0, 0)
		sub.LastReminderSentAt = nil
	default:
		sub.State = models.StateExpired
	}
	return nil
}

// CycleStart возвращает начало текущего платежного цикла. Для разовой
// подписки циклом считается весь срок от создания записи.
func CycleStart(sub *models.Subscription) time.Time {
	switch sub.BillingCycle {
	case models.CycleMonthly:
		return sub.NextDueAt.AddDate(0, -1, 0)
	case models.CycleYearly:
		return sub.NextDueAt.AddDate(-1, 0, 0)
	default:
		return sub.CreatedAt
	}
}

// DueAt момент, начиная с которого подписке положено напоминание.
func DueAt(sub *models.Subscription) time.Time {
	return sub.NextDueAt.Add(-sub.LeadTime)
}

// NeedsReminder сообщает, должна ли подписка попасть в выборку
// планировщика на момент now: активна, время напоминания наступило и
// напоминание текущего цикла еще не отправлялось.
func NeedsReminder(sub *models.Subscription, now time.Time) bool {
	if sub.State != models.StateActive {
		return false
	}
	if now.Before(DueAt(sub)) {
		return false
	}
	if sub.LastReminderSentAt == nil {
		return true
	}
	return sub.LastReminderSentAt.Before(CycleStart(sub))
}
