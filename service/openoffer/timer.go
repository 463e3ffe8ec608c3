package openoffer

import (
	"sync"
	"time"
)

// task is a reschedulable single-shot timer. Scheduling again replaces the
// pending run; stop is idempotent. The callback runs on the timer goroutine,
// so callers route back into the manager loop themselves.
type task struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (t *task) schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, fn)
}

func (t *task) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *task) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
