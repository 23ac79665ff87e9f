package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket
//
// Ведро наполняется со скоростью rate токенов/сек до burst.
// Каждое событие потребляет 1 токен.
//
//	limiter := NewRateLimiter(10, 20) // 10 сообщений/сек, burst 20
//	if !limiter.Allow() { ... }       // неблокирующая проверка
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter с полным ведром
//
// rate <= 0 - 10/сек; burst <= 0 - 2×rate; burst не меньше rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate, burst float64, now func() time.Time) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: now(),
		now:        now,
	}
}

// refill пополняет токены; вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+elapsed*rl.rate)
	}
	rl.lastRefill = now
}

// Allow забирает токен, если он есть
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// ============================================================
// KeyedLimiter - отдельное ведро на ключ (IP, подписчик)
// ============================================================

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// KeyedLimiter держит по RateLimiter на ключ
// Неактивные ключи удаляются через Prune
type KeyedLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedLimiter создаёт limiter с общими параметрами для всех ключей
func NewKeyedLimiter(rate, burst float64) *KeyedLimiter {
	return &KeyedLimiter{
		rate:    rate,
		burst:   burst,
		now:     time.Now,
		entries: make(map[string]*keyedEntry),
	}
}

// Allow забирает токен из ведра ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	e, ok := kl.entries[key]
	if !ok {
		e = &keyedEntry{limiter: newRateLimiter(kl.rate, kl.burst, kl.now)}
		kl.entries[key] = e
	}
	e.lastSeen = kl.now()
	kl.mu.Unlock()

	return e.limiter.Allow()
}

// Prune удаляет ключи, не обращавшиеся дольше idle; возвращает число удаленных
func (kl *KeyedLimiter) Prune(idle time.Duration) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	cutoff := kl.now().Add(-idle)
	removed := 0
	for key, e := range kl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(kl.entries, key)
			removed++
		}
	}
	return removed
}

// Len возвращает количество отслеживаемых ключей
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
