package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 800 * time.Millisecond},
		{1, 800 * time.Millisecond},
		{2, 1600 * time.Millisecond},
		{3, 3200 * time.Millisecond},
		{6, 25600 * time.Millisecond},
		{7, 30 * time.Second},
		{12, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	for _, b := range []Backoff{
		DefaultBackoff,
		{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxRetries: 3},
		{Base: time.Hour, Max: 2 * time.Hour, MaxRetries: 50},
	} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 64; attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
			assert.LessOrEqual(t, d, b.Max, "attempt %d", attempt)
			prev = d
		}
	}
}

func TestConnectError(t *testing.T) {
	auth := &ConnectError{Status: 401, Permanent: isPermanentStatus(401), Err: errors.New("bad handshake")}
	assert.ErrorIs(t, auth, ErrPermanent)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", auth), ErrPermanent)
	assert.Contains(t, auth.Error(), "401")

	assert.True(t, isPermanentStatus(403))
	server := &ConnectError{Status: 503, Permanent: isPermanentStatus(503), Err: errors.New("bad handshake")}
	assert.NotErrorIs(t, server, ErrPermanent)

	var ce *ConnectError
	assert.ErrorAs(t, fmt.Errorf("dial: %w", server), &ce)
	assert.Equal(t, 503, ce.Status)
}
