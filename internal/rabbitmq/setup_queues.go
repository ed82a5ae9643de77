package rabbitmq

// QueueConfig пара очередь/ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// QueueRemindersDue очередь элементов работы, ожидающих доставки.
const QueueRemindersDue = "reminders.due"

// RoutingKeyDue ключ маршрутизации элементов работы.
const RoutingKeyDue = "due"

// GetReminderQueues возвращает конфигурацию очередей конвейера напоминаний.
func GetReminderQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueRemindersDue, RoutingKey: RoutingKeyDue},
	}
}
