package models

import "time"

// ReminderWorkItem единица работы для воркера доставки. Живет только в
// очереди: формируется планировщиком после захвата подписки и уничтожается
// после успешной доставки или исчерпания попыток.
type ReminderWorkItem struct {
	SubscriptionID int64     `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	ServiceName    string    `json:"service_name"`
	Cost           string    `json:"cost,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	ProUser        bool      `json:"pro_user"`
	DueAt          time.Time `json:"due_at"`
	CycleStart     time.Time `json:"cycle_start"`
	ClaimToken     string    `json:"claim_token"`
	Attempt        int       `json:"attempt"`
}

// Stats агрегированные счетчики для операторского эндпоинта.
type Stats struct {
	TotalUsers          int `json:"total_users"`
	ProUsers            int `json:"pro_users"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	RemindersSentToday  int `json:"reminders_sent_today"`
}
