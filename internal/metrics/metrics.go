// Package metrics объявляет счетчики Prometheus конвейера напоминаний.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesProcessed число принятых и маршрутизированных событий вебхука.
	UpdatesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_updates_processed_total",
		Help: "Number of webhook updates decoded and routed.",
	})

	// UpdatesRejected число отклоненных некорректных событий.
	UpdatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_updates_rejected_total",
		Help: "Number of malformed webhook updates rejected.",
	})

	// RemindersScheduled число элементов работы, опубликованных планировщиком.
	RemindersScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminders_scheduled_total",
		Help: "Number of reminder work items published to the queue.",
	})

	// RemindersSent число успешно доставленных напоминаний.
	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Number of reminders delivered to users.",
	})

	// RemindersFailed число сбоев доставки по видам: exhausted или permanent.
	RemindersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_failed_total",
		Help: "Number of reminders that were not delivered, by failure kind.",
	}, []string{"kind"})
)
