package models

import "time"

// BillingCycle период оплаты подписки.
type BillingCycle string

const (
	// CycleOneTime разовая подписка или пробный период, по истечении завершается.
	CycleOneTime BillingCycle = "one_time"
	// CycleMonthly ежемесячное продление.
	CycleMonthly BillingCycle = "monthly"
	// CycleYearly ежегодное продление.
	CycleYearly BillingCycle = "yearly"
)

// State состояние подписки в жизненном цикле.
type State string

const (
	// StateTrial пробный период, напоминания не рассылаются до подтверждения.
	StateTrial State = "trial"
	// StateActive активная подписка, участвует в сканировании напоминаний.
	StateActive State = "active"
	// StateSnoozed напоминания отложены до snooze_until (только pro).
	StateSnoozed State = "snoozed"
	// StateCanceled отменена пользователем, терминальное состояние.
	StateCanceled State = "canceled"
	// StateExpired истекла, терминальное состояние.
	StateExpired State = "expired"
)

// Subscription отслеживаемая подписка пользователя.
type Subscription struct {
	ID                 int64         // Идентификатор записи
	UserID             int64         // telegram_id владельца
	ServiceName        string        // Название сервиса (Netflix, Spotify и т.п.)
	Cost               string        // Стоимость в свободной форме, опционально
	BillingCycle       BillingCycle  // Период оплаты
	NextDueAt          time.Time     // Дата ближайшего списания или окончания
	LeadTime           time.Duration // За сколько до next_due_at напоминать
	State              State         // Текущее состояние жизненного цикла
	LastReminderSentAt *time.Time    // Когда отправлено напоминание текущего цикла, nil если не отправлялось
	SnoozeUntil        *time.Time    // До какого момента напоминания отложены, nil если не отложены
	Notes              string        // Заметка пользователя (только pro)
	DeliveryFailedAt   *time.Time    // Отметка о неустранимом сбое доставки для оператора
	CreatedAt          time.Time     // Дата создания записи
}

// CreateRequest параметры создания подписки, приходят из разобранной
// команды бота и валидируются перед обращением к хранилищу.
type CreateRequest struct {
	ServiceName  string        `validate:"required,max=50"`
	Cost         string        `validate:"max=30"`
	NextDueAt    time.Time     `validate:"required"`
	BillingCycle BillingCycle  `validate:"required,oneof=one_time monthly yearly"`
	LeadTime     time.Duration `validate:"required"`
	Notes        string        `validate:"max=200"`
}
