// Package backoff вычисляет экспоненциальные задержки между повторами
// доставки напоминаний.
package backoff

import "time"

// Delay возвращает задержку перед попыткой attempt (нумерация с 1):
// base, 2*base, 4*base и так далее, но не больше max.
// Для attempt <= 1 задержка нулевая.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
