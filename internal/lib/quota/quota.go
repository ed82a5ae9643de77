// Package quota реализует тарифную политику: лимит одновременно
// отслеживаемых подписок и допустимые интервалы напоминаний.
// Проверки чистые и носят рекомендательный характер: гарантию от гонок
// при конкурентном создании дает условная вставка на уровне хранилища.
package quota

import (
	"fmt"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// DefaultFreeLimit лимит подписок в состояниях trial/active для бесплатного тарифа.
const DefaultFreeLimit = 3

// DefaultFreeLeadTime фиксированный интервал напоминания бесплатного тарифа.
const DefaultFreeLeadTime = 48 * time.Hour

// proLeadTimes интервалы, доступные на тарифе pro.
var proLeadTimes = []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour}

// Policy параметры тарифной политики.
type Policy struct {
	FreeLimit    int
	FreeLeadTime time.Duration
}

// NewPolicy создает политику, подставляя значения по умолчанию вместо нулевых.
func NewPolicy(freeLimit int, freeLeadTime time.Duration) Policy {
	if freeLimit <= 0 {
		freeLimit = DefaultFreeLimit
	}
	if freeLeadTime <= 0 {
		freeLeadTime = DefaultFreeLeadTime
	}
	return Policy{FreeLimit: freeLimit, FreeLeadTime: freeLeadTime}
}

// CanCreate проверяет, может ли пользователь завести еще одну подписку
// при текущем числе подписок в состояниях trial/active.
func (p Policy) CanCreate(plan models.PlanTier, activeOrTrial int) error {
	if plan == models.PlanPro {
		return nil
	}
	if activeOrTrial >= p.FreeLimit {
		return fmt.Errorf("%w: free plan allows up to %d subscriptions", models.ErrQuotaExceeded, p.FreeLimit)
	}
	return nil
}

// AllowedLeadTimes возвращает интервалы напоминаний, доступные тарифу.
func (p Policy) AllowedLeadTimes(plan models.PlanTier) []time.Duration {
	if plan == models.PlanPro {
		out := make([]time.Duration, len(proLeadTimes))
		copy(out, proLeadTimes)
		return out
	}
	return []time.Duration{p.FreeLeadTime}
}

// IsAllowedLeadTime проверяет, доступен ли интервал d на тарифе plan.
func (p Policy) IsAllowedLeadTime(plan models.PlanTier, d time.Duration) bool {
	for _, allowed := range p.AllowedLeadTimes(plan) {
		if allowed == d {
			return true
		}
	}
	return false
}
