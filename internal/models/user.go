// Package models содержит доменные структуры бота: пользователей, подписки
// и элементы работы для рассылки напоминаний.
package models

import "time"

// PlanTier тариф пользователя, определяет квоту и доступные функции.
type PlanTier string

const (
	// PlanFree бесплатный тариф: до 3 подписок, фиксированное напоминание за 2 дня.
	PlanFree PlanTier = "free"
	// PlanPro платный тариф: без лимита подписок, настраиваемые напоминания,
	// заметки и отложенные напоминания.
	PlanPro PlanTier = "pro"
)

// User представляет пользователя Telegram, взаимодействующего с ботом.
// Идентификатором служит нативный telegram_id, отдельной учетной записи нет.
type User struct {
	TelegramID      int64     // Уникальный идентификатор пользователя в Telegram
	Username        string    // Username в Telegram (может быть пустым)
	FirstName       string    // Имя пользователя
	Plan            PlanTier  // Тариф: free или pro
	IsActive        bool      // Пользователь не остановил бота
	CreatedAt       time.Time // Дата первого обращения
	LastInteraction time.Time // Дата последнего входящего события
}
