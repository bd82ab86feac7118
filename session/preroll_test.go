package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrerollRing_BoundedByDuration(t *testing.T) {
	p := newPrerollRing(16000)
	for i := 0; i < 10; i++ {
		p.push([]byte{byte(i)}, 30, 100)
	}
	// 4 блока по 30 мс = 120 >= 100, без самого старого было бы 90
	assert.Equal(t, 4, p.count())
	assert.InDelta(t, 120, p.durationMs(), 1e-9)

	chunks := p.drain()
	assert.Equal(t, [][]byte{{6}, {7}, {8}, {9}}, chunks)
	assert.Zero(t, p.count())
	assert.Zero(t, p.durationMs())
}

func TestPrerollRing_KeepsNewestWithZeroTarget(t *testing.T) {
	p := newPrerollRing(16000)
	p.push([]byte{1}, 20, 0)
	p.push([]byte{2}, 20, 0)
	assert.Equal(t, [][]byte{{2}}, p.drain())
}
