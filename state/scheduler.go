// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"slices"
	"sync"
	"time"
)

// DefaultRetryDelay is how long a one-shot task refused by the queue waits
// before it is submitted again
const DefaultRetryDelay = time.Second

// Submitter accepts fire-and-forget tasks. *Machine implements it.
type Submitter interface {
	Submit(name string, fn TaskFunc) bool
}

type scheduledTask struct {
	name              string
	interval          int
	ticksSinceLastRun int
	fn                TaskFunc
}

// Scheduler turns timers into messages on the state queue. Recurring
// tasks run every N ticks; one-shot tasks run once after a delay. Tasks
// never run on the scheduler goroutine itself.
type Scheduler struct {
	mutex              sync.Mutex
	submitter          Submitter
	interval           time.Duration
	ticker             *time.Ticker
	quit               chan struct{}
	updateIntervalChan chan time.Duration
	tasks              []*scheduledTask
	timers             []*time.Timer
	startOnce          sync.Once
	stopOnce           sync.Once
	wg                 sync.WaitGroup
	retryDelay         time.Duration
	stopped            bool
}

func NewScheduler(interval time.Duration, submitter Submitter) *Scheduler {
	return &Scheduler{
		submitter:          submitter,
		interval:           interval,
		quit:               make(chan struct{}),
		updateIntervalChan: make(chan time.Duration),
		retryDelay:         DefaultRetryDelay,
	}
}

// SetRetryDelay changes the wait before a refused one-shot task is
// submitted again
func (s *Scheduler) SetRetryDelay(delay time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.retryDelay = delay
}

// Start runs the ticker goroutine once
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.ticker = time.NewTicker(s.interval)
		s.wg.Add(1)
		go s.run()
	})
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case newInterval := <-s.updateIntervalChan:
			s.mutex.Lock()
			s.ticker.Reset(newInterval)
			s.interval = newInterval
			s.mutex.Unlock()
		case <-s.quit:
			s.ticker.Stop()
			return
		}
	}
}

func (s *Scheduler) tick() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, t := range s.tasks {
		t.ticksSinceLastRun++
		if t.ticksSinceLastRun >= t.interval {
			s.submitter.Submit(t.name, t.fn)
			t.ticksSinceLastRun = 0
		}
	}
}

// Register adds a recurring task run every interval ticks
func (s *Scheduler) Register(name string, interval int, fn TaskFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tasks = append(s.tasks, &scheduledTask{
		name:     name,
		interval: max(interval, 1),
		fn:       fn,
	})
}

// After submits a one-shot task once the delay has passed. If the queue
// refuses it, the task is re-armed until it is accepted or the scheduler
// stops.
func (s *Scheduler) After(name string, delay time.Duration, fn TaskFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.arm(name, delay, fn)
}

// arm must be called with the mutex held
func (s *Scheduler) arm(name string, delay time.Duration, fn TaskFunc) {
	if s.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		accepted := s.submitter.Submit(name, fn)
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.timers = slices.DeleteFunc(s.timers, func(t *time.Timer) bool {
			return t == timer
		})
		if !accepted {
			s.arm(name, s.retryDelay, fn)
		}
	})
	s.timers = append(s.timers, timer)
}

// ChangeInterval updates the tick interval at runtime
func (s *Scheduler) ChangeInterval(newInterval time.Duration) {
	select {
	case s.updateIntervalChan <- newInterval:
	default:
	}
}

// Stop halts the ticker and cancels pending one-shot tasks
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mutex.Lock()
		s.stopped = true
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = nil
		s.mutex.Unlock()
		close(s.quit)
		s.wg.Wait()
	})
}
