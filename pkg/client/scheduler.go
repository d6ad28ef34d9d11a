package client

import (
	"sync"
	"time"
)

// Timer is a scheduled task. Stopping a timer that already fired is a
// no-op.
type Timer interface {
	Stop() bool
}

// Scheduler supplies the clock and timers a Conn runs on.
type Scheduler interface {
	Now() time.Time

	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer

	// Every runs f every d until stopped.
	Every(d time.Duration, f func()) Timer
}

// SystemScheduler uses the time package. Callbacks run on their own
// goroutines.
type SystemScheduler struct{}

// Now implements Scheduler.
func (SystemScheduler) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Scheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every implements Scheduler.
func (SystemScheduler) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(f)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) run(f func()) {
	for {
		select {
		case <-t.ticker.C:
			f()
		case <-t.done:
			return
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
