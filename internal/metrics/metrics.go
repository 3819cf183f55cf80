// Package metrics регистрирует счётчики движка в реестре prometheus.
// Сами метрики отдаются keep-alive сервером на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verdicts — вердикты оценки доступа по состояниям.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_verdicts_total",
		Help: "Access verdicts returned by the evaluator, by state.",
	}, []string{"state"})

	// KeyAllocations — успешные выдачи ключей из пула.
	KeyAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keypool_allocations_total",
		Help: "Successful key allocations from the rotating pool.",
	})

	// KeyFailures — отказы ключей по типам.
	KeyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keypool_failures_total",
		Help: "Key failures reported to the pool, by kind.",
	}, []string{"kind"})

	// PoolExhausted — обращения к пулу без единого доступного ключа.
	PoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keypool_exhausted_total",
		Help: "Allocation attempts that found no available key.",
	})

	// Compensations — возвраты зарезервированных кредитов генерации.
	Compensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagegen_compensations_total",
		Help: "Reserved image credits restored after a failed generation.",
	})

	// BroadcastsSent — сообщения, доставленные при рассылках.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "announce_sent_total",
		Help: "Announcement messages delivered to subscribers.",
	})

	// BroadcastsFailed — сообщения, не доставленные при рассылках.
	BroadcastsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "announce_failed_total",
		Help: "Announcement messages that failed to deliver.",
	})
)
