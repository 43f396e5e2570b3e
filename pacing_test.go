package ice

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerTicksAtConfiguredInterval(t *testing.T) {
	p := newPacer(10 * time.Millisecond)
	defer p.close()

	var ticks int64
	go p.run(func() { atomic.AddInt64(&ticks, 1) })

	time.Sleep(105 * time.Millisecond)
	got := atomic.LoadInt64(&ticks)
	assert.GreaterOrEqual(t, got, int64(8))
	assert.LessOrEqual(t, got, int64(15))
}

func TestPacerStopsOnClose(t *testing.T) {
	p := newPacer(5 * time.Millisecond)
	var ticks int64
	go p.run(func() { atomic.AddInt64(&ticks, 1) })

	time.Sleep(20 * time.Millisecond)
	p.close()
	after := atomic.LoadInt64(&ticks)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt64(&ticks), "no further ticks must fire after close")
}

func TestNewPacerDefaultsNonPositiveInterval(t *testing.T) {
	p := newPacer(0)
	assert.Equal(t, 20*time.Millisecond, p.interval)
}
