package models

import "errors"

// Ошибки доменного уровня. Хранилище и сервисы приводят свои ошибки
// к этим значениям, обработчики проверяют их через errors.Is.
var (
	// ErrMalformedInput входящее событие не удалось разобрать, повтор бессмыслен.
	ErrMalformedInput = errors.New("malformed input")
	// ErrQuotaExceeded пользователь бесплатного тарифа достиг лимита подписок.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidTransition запрошен недопустимый переход жизненного цикла.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyClaimed подписка уже захвачена другим планировщиком, не ошибка доставки.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrStoreConflict условное обновление не прошло, состояние изменилось конкурентно.
	ErrStoreConflict = errors.New("store conflict")
	// ErrTransientDelivery временный сбой доставки, допускает повтор с backoff.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrPermanentDelivery доставка невозможна (например, бот заблокирован), повтор запрещен.
	ErrPermanentDelivery = errors.New("permanent delivery failure")
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrNotReady шлюз не инициализирован, событие должно быть доставлено повторно.
	ErrNotReady = errors.New("gateway not ready")
)
