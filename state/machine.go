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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultQueueSize = 256

var (
	ErrMachineStopped = errors.New("state machine stopped")
	ErrNotRunning     = errors.New("state machine not accepting mutations")
)

// TaskFunc is a unit of work run against the world on the queue goroutine.
// It must not call back into the Machine.
type TaskFunc func(*World) error

type taskKind uint8

const (
	taskRead taskKind = iota
	taskMutate
	taskBarrier
)

type task struct {
	ctx    context.Context
	name   string
	kind   taskKind
	fn     TaskFunc
	result chan error
}

// Machine owns the world exclusively. Every read, mutation and scheduled
// job is a task on one FIFO queue consumed by a single goroutine, so
// tasks never interleave.
type Machine struct {
	world     *World
	logger    *slog.Logger
	queueSize int
	queue     chan task
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	phaseMu   sync.RWMutex
	phase     Phase
	metrics   *machineMetrics
	promReg   prometheus.Registerer
}

type MachineOptionFunc func(*Machine)

func WithLogger(logger *slog.Logger) MachineOptionFunc {
	return func(m *Machine) {
		m.logger = logger
	}
}

func WithPromRegistry(promRegistry prometheus.Registerer) MachineOptionFunc {
	return func(m *Machine) {
		m.promReg = promRegistry
	}
}

func WithQueueSize(size int) MachineOptionFunc {
	return func(m *Machine) {
		m.queueSize = size
	}
}

// NewMachine wraps the world. The machine starts in the Restoring phase
// and accepts only reads and barriers until it transitions to Running.
func NewMachine(world *World, opts ...MachineOptionFunc) *Machine {
	m := &Machine{
		world:     world,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
		phase:     PhaseRestoring,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	m.logger = m.logger.With("component", "state")
	if m.queueSize <= 0 {
		m.queueSize = DefaultQueueSize
	}
	m.queue = make(chan task, m.queueSize)
	if m.promReg != nil {
		m.metrics = newMachineMetrics(m.promReg)
	}
	return m
}

// Start launches the queue goroutine
func (m *Machine) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run()
	})
}

// Stop halts the queue goroutine. Queued tasks that have not run fail
// with ErrMachineStopped.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		for {
			select {
			case t := <-m.queue:
				m.finish(t, ErrMachineStopped)
			default:
				return
			}
		}
	})
}

func (m *Machine) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case t := <-m.queue:
			m.exec(t)
		}
	}
}

func (m *Machine) exec(t task) {
	if m.metrics != nil {
		m.metrics.queueDepth.Set(float64(len(m.queue)))
	}
	if err := t.ctx.Err(); err != nil {
		m.finish(t, err)
		return
	}
	if t.kind == taskMutate && m.Phase() != PhaseRunning {
		m.finish(t, fmt.Errorf("%w: phase %s", ErrNotRunning, m.Phase()))
		return
	}
	start := time.Now()
	err := m.call(t)
	if m.metrics != nil {
		m.metrics.taskDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && t.result == nil {
		m.logger.Warn(
			"task failed: "+t.name,
			"error", err,
		)
	}
	m.finish(t, err)
}

func (m *Machine) call(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(
				"task panic: "+t.name,
				"panic", r,
			)
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.fn(m.world)
}

func (m *Machine) finish(t task, err error) {
	if m.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.metrics.tasksTotal.WithLabelValues(result).Inc()
	}
	if t.result != nil {
		t.result <- err
	}
}

func (m *Machine) enqueue(ctx context.Context, t task) error {
	select {
	case <-m.done:
		return ErrMachineStopped
	default:
	}
	select {
	case m.queue <- t:
		return nil
	case <-m.done:
		return ErrMachineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) do(ctx context.Context, name string, kind taskKind, fn TaskFunc) error {
	t := task{
		ctx:    ctx,
		name:   name,
		kind:   kind,
		fn:     fn,
		result: make(chan error, 1),
	}
	if err := m.enqueue(ctx, t); err != nil {
		return err
	}
	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		// Stop fails leftover tasks, but the running one may still finish
		select {
		case err := <-t.result:
			return err
		case <-time.After(time.Second):
			return ErrMachineStopped
		}
	}
}

// Mutate runs fn with exclusive access to the world. It fails with
// ErrNotRunning outside the Running phase.
func (m *Machine) Mutate(ctx context.Context, fn TaskFunc) error {
	return m.do(ctx, "mutate", taskMutate, fn)
}

// Read runs fn against the world in queue order. fn must not modify it.
func (m *Machine) Read(ctx context.Context, fn TaskFunc) error {
	return m.do(ctx, "read", taskRead, fn)
}

// Barrier runs fn with exclusive access regardless of phase. It is the
// stop-the-world hook for checkpoint and restore.
func (m *Machine) Barrier(ctx context.Context, name string, fn TaskFunc) error {
	return m.do(ctx, name, taskBarrier, fn)
}

// Submit queues a fire-and-forget mutation, used by timers and
// background jobs. It reports whether the task was queued.
func (m *Machine) Submit(name string, fn TaskFunc) bool {
	t := task{
		ctx:  context.Background(),
		name: name,
		kind: taskMutate,
		fn:   fn,
	}
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.queue <- t:
		return true
	case <-m.done:
		return false
	default:
		m.logger.Warn("task queue full, refusing task: " + name)
		return false
	}
}

func (m *Machine) Phase() Phase {
	m.phaseMu.RLock()
	defer m.phaseMu.RUnlock()
	return m.phase
}

// Transition moves the lifecycle to the next phase
func (m *Machine) Transition(next Phase) error {
	m.phaseMu.Lock()
	defer m.phaseMu.Unlock()
	if !m.phase.CanTransition(next) {
		return fmt.Errorf(
			"%w: %s to %s",
			ErrInvalidTransition,
			m.phase,
			next,
		)
	}
	m.logger.Info(
		"phase transition",
		"from", m.phase.String(),
		"to", next.String(),
	)
	m.phase = next
	if m.metrics != nil {
		m.metrics.phase.Set(float64(next))
	}
	return nil
}
