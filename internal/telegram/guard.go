package telegram

import (
	"context"
	"sync"
	"sync/atomic"
)

// Initializer одноразовая инициализация шлюза.
type Initializer interface {
	Init(ctx context.Context) error
}

// Guard гарантирует, что инициализация шлюза выполняется не более одного
// раза за время жизни процесса при любом числе конкурентных вызовов.
// Используется двойная проверка: быстрый путь по атомарному флагу, затем
// повторная проверка под мьютексом. Флаг выставляется только после
// полного успеха инициализации, поэтому частично инициализированное
// состояние никому не видно. Ошибка инициализации флаг не выставляет:
// следующий вызов повторит попытку.
type Guard struct {
	ready atomic.Bool
	mu    sync.Mutex
	gw    Initializer
}

// NewGuard создает Guard поверх шлюза gw.
func NewGuard(gw Initializer) *Guard {
	return &Guard{gw: gw}
}

// EnsureReady возвращает управление, когда шлюз гарантированно
// инициализирован. Безопасен для конкурентного вызова из любого числа
// горутин, обрабатывающих входящие события.
func (g *Guard) EnsureReady(ctx context.Context) error {
	if g.ready.Load() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready.Load() {
		return nil
	}
	if err := g.gw.Init(ctx); err != nil {
		return err
	}
	g.ready.Store(true)
	return nil
}

// Ready сообщает, прошла ли инициализация.
func (g *Guard) Ready() bool {
	return g.ready.Load()
}
