package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypingDebouncer(t *testing.T) {
	t.Run("fires once after the quiet period", func(t *testing.T) {
		var fired atomic.Int32
		d := newTypingDebouncer(20*time.Millisecond, func() { fired.Add(1) })

		for i := 0; i < 5; i++ {
			d.touch()
			time.Sleep(5 * time.Millisecond)
		}

		assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), fired.Load())
		assert.False(t, d.pending())
	})

	t.Run("stop cancels the pending timer", func(t *testing.T) {
		var fired atomic.Int32
		d := newTypingDebouncer(20*time.Millisecond, func() { fired.Add(1) })

		d.touch()
		assert.True(t, d.pending())
		assert.True(t, d.stop())
		assert.False(t, d.stop())

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, fired.Load())
	})

	t.Run("non positive idle uses the default", func(t *testing.T) {
		d := newTypingDebouncer(0, func() {})
		assert.Equal(t, DefaultTypingIdle, d.idle)
	})
}
