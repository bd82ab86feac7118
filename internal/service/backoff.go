package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermanent ошибка подключения, повтор которой бессмыслен (401/403)
	ErrPermanent = errors.New("permanent connection failure")
	// ErrRetriesExhausted исчерпаны попытки переподключения
	ErrRetriesExhausted = errors.New("connection retries exhausted")
	// ErrInactive сессия закрыта по таймауту тишины
	ErrInactive = errors.New("session inactive")
	// ErrSessionActive сессия уже запущена
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession нет активной сессии
	ErrNoSession = errors.New("no active session")
	// ErrStartCancelled запуск прерван вызовом Stop
	ErrStartCancelled = errors.New("session start cancelled")
)

// ConnectError неудачное рукопожатие с провайдером
type ConnectError struct {
	// Status HTTP код ответа, 0 если ответа не было
	Status    int
	Permanent bool
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("handshake failed with status %d: %v", e.Status, e.Err)
	}
	return e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool {
	return target == ErrPermanent && e.Permanent
}

func isPermanentStatus(status int) bool {
	return status == 401 || status == 403
}

// Backoff экспоненциальная задержка переподключения
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff 0.8 с, удвоение до 30 с, 12 повторов
var DefaultBackoff = Backoff{
	Base:       800 * time.Millisecond,
	Max:        30 * time.Second,
	MaxRetries: 12,
}

// Delay задержка перед повтором attempt (с единицы)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	d := b.Base << uint(shift)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}
