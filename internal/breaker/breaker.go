// Package breaker создаёт предохранители для обращений к внешним платёжным провайдерам.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// New создаёт предохранитель, который размыкается при доле ошибок от 60%
// хотя бы на трёх запросах и пробует замкнуться через openTimeout.
// Счётчики замкнутого предохранителя сбрасываются каждые openTimeout.
func New[T any](name string, openTimeout time.Duration) *gobreaker.CircuitBreaker[T] {
	var st gobreaker.Settings
	st.Name = name
	st.Timeout = openTimeout
	st.Interval = openTimeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && failureRatio >= 0.6
	}
	st.IsSuccessful = IsSuccessful

	return gobreaker.NewCircuitBreaker[T](st)
}

// IsSuccessful сообщает, что ошибка не говорит о сбое провайдера.
// Отмена запроса вызывающей стороной провайдеру не засчитывается.
func IsSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
