package realtime

import (
	"sync"
	"time"
)

// DefaultTypingIdle is how long the composer must be quiet before we stop
// announcing that the user is typing.
const DefaultTypingIdle = 3000 * time.Millisecond

// typingDebouncer fires idle once per quiet period. Each touch cancels the
// previously armed timer, so at most one is ever pending.
type typingDebouncer struct {
	idle  time.Duration
	fire  func()
	lock  sync.Mutex
	timer *time.Timer
	seq   uint64
}

func newTypingDebouncer(idle time.Duration, fire func()) *typingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}

	return &typingDebouncer{idle: idle, fire: fire}
}

func (d *typingDebouncer) touch() {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.idle, func() {
		d.lock.Lock()
		current := seq == d.seq
		if current {
			d.timer = nil
		}
		d.lock.Unlock()

		// a timer that fired while being replaced must stay silent
		if current {
			d.fire()
		}
	})
}

// stop cancels the pending timer. It reports whether one was armed.
func (d *typingDebouncer) stop() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.seq++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

func (d *typingDebouncer) pending() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.timer != nil
}
