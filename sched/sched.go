// Package sched wraps timer scheduling behind small interfaces so the
// monitor's three recurring timers can be driven by a fake clock in
// tests.
package sched

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Task is a scheduled unit of work. Stop is idempotent; once it
// returns no further invocations start, though an invocation already
// in flight may still complete.
type Task interface {
	Stop()
}

// Scheduler creates repeating and one-shot tasks.
type Scheduler interface {
	// Every runs fn on a fixed interval until the task is stopped.
	Every(interval time.Duration, fn func()) Task
	// After runs fn once after delay unless stopped first.
	After(delay time.Duration, fn func()) Task
}

// TickerScheduler schedules with real time.Ticker and time.AfterFunc.
type TickerScheduler struct{}

func NewTickerScheduler() *TickerScheduler { return &TickerScheduler{} }

func (s *TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

func (s *TickerScheduler) After(delay time.Duration, fn func()) Task {
	return &timerTask{timer: time.AfterFunc(delay, fn)}
}

type tickerTask struct {
	stop chan struct{}
	once sync.Once
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.stop) })
}

type timerTask struct {
	timer *time.Timer
}

func (t *timerTask) Stop() { t.timer.Stop() }
