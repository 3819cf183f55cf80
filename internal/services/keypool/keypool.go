// Package keypool владеет вращающимся набором внешних API-ключей и их
// состоянием здоровья. Указатель ротации живёт только в памяти процесса:
// после перезапуска здоровье ключей заново выводится из исходов живых
// вызовов, а не из сохранённой истории.
package keypool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
)

// ErrPoolExhausted возвращается, когда ни один ключ не доступен.
var ErrPoolExhausted = errors.New("key pool exhausted")

// KeyState — состояние здоровья ключа.
type KeyState int

const (
	// StateAvailable — ключ готов к выдаче.
	StateAvailable KeyState = iota
	// StateRateLimited — ключ упёрся в лимит, недоступен до дедлайна.
	StateRateLimited
	// StateExhausted — ключ невалиден; без вмешательства не возвращается.
	StateExhausted
)

func (s KeyState) String() string {
	switch s {
	case StateRateLimited:
		return "rate_limited"
	case StateExhausted:
		return "exhausted"
	default:
		return "available"
	}
}

// FailureKind — тип отказа, о котором сообщает внешний вызов.
type FailureKind int

const (
	// FailureRateLimit — сигнал 429/quota: ключ вернётся после backoff.
	FailureRateLimit FailureKind = iota
	// FailureInvalidKey — ключ отвергнут навсегда (401/403).
	FailureInvalidKey
)

func (k FailureKind) String() string {
	if k == FailureInvalidKey {
		return "invalid_key"
	}
	return "rate_limit"
}

type key struct {
	value string
	state KeyState
	until time.Time // для StateRateLimited: момент возврата в строй
}

// KeyStatus — снимок состояния ключа для отчётов. Значение ключа
// не раскрывается.
type KeyStatus struct {
	State KeyState
	Until time.Time
}

// Pool — пул ключей с круговой ротацией. Пул мал и конкуренция редка,
// поэтому одного мьютекса достаточно.
type Pool struct {
	mu      sync.Mutex
	keys    []key
	next    int
	backoff time.Duration
	log     *slog.Logger
}

// New создаёт пул из списка ключей. Пустой список — ошибка конфигурации,
// фатальная для запуска процесса.
func New(values []string, backoff time.Duration, log *slog.Logger) (*Pool, error) {
	const op = "keypool.New"

	if len(values) == 0 {
		return nil, fmt.Errorf("%s: no keys configured", op)
	}

	keys := make([]key, len(values))
	for i, v := range values {
		keys[i] = key{value: v, state: StateAvailable}
	}

	return &Pool{keys: keys, backoff: backoff, log: log}, nil
}

// Allocate выдаёт первый доступный ключ, начиная с указателя ротации,
// и сдвигает указатель за него, чтобы последовательные выдачи
// распределяли нагрузку. Перед сканированием лениво возвращает в строй
// ключи с истёкшим дедлайном rate limit.
func (p *Pool) Allocate(now time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweep(now)

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if p.keys[idx].state != StateAvailable {
			continue
		}
		p.next = (idx + 1) % n
		metrics.KeyAllocations.Inc()
		return p.keys[idx].value, nil
	}

	metrics.PoolExhausted.Inc()
	return "", ErrPoolExhausted
}

// ReportFailure переводит ключ в состояние по типу отказа: rate limit —
// недоступен до now+backoff, невалидный ключ — выведен навсегда.
// Неизвестное значение ключа игнорируется.
func (p *Pool) ReportFailure(value string, kind FailureKind, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.keys {
		if p.keys[i].value != value {
			continue
		}
		switch kind {
		case FailureInvalidKey:
			p.keys[i].state = StateExhausted
			p.keys[i].until = time.Time{}
			p.log.Warn("key marked exhausted", slog.Int("index", i))
		default:
			p.keys[i].state = StateRateLimited
			p.keys[i].until = now.Add(p.backoff)
			p.log.Info("key rate limited",
				slog.Int("index", i),
				slog.Time("until", p.keys[i].until))
		}
		metrics.KeyFailures.WithLabelValues(kind.String()).Inc()
		return
	}
}

// Snapshot возвращает состояния ключей в порядке пула.
func (p *Pool) Snapshot() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeyStatus, len(p.keys))
	for i, k := range p.keys {
		out[i] = KeyStatus{State: k.state, Until: k.until}
	}
	return out
}

// sweep вызывается под мьютексом.
func (p *Pool) sweep(now time.Time) {
	for i := range p.keys {
		if p.keys[i].state == StateRateLimited && !now.Before(p.keys[i].until) {
			p.keys[i].state = StateAvailable
			p.keys[i].until = time.Time{}
			p.log.Info("key promoted back to available", slog.Int("index", i))
		}
	}
}
