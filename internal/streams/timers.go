package streams

import (
	"sync"
	"time"
)

// timerBundle owns every periodic and deferred callback of one stream run
// so that they can be cancelled together.
type timerBundle struct {
	mu      sync.Mutex
	stopped bool
	quit    chan struct{}
	oneShot []*time.Timer
}

func newTimerBundle() *timerBundle {
	return &timerBundle{quit: make(chan struct{})}
}

// every runs fn each interval until the bundle is cancelled. Ticks that
// arrive while fn is still running are dropped.
func (b *timerBundle) every(interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.quit:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// after runs fn once after delay unless the bundle is cancelled first.
func (b *timerBundle) after(delay time.Duration, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.oneShot = append(b.oneShot, time.AfterFunc(delay, fn))
}

func (b *timerBundle) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.quit)
	for _, t := range b.oneShot {
		t.Stop()
	}
	b.oneShot = nil
}
