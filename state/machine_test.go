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

package state_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/state"
)

func newTestMachine(t *testing.T, opts ...state.MachineOptionFunc) *state.Machine {
	t.Helper()
	world, err := state.NewWorld(state.WorldConfig{
		Policy: governance.DefaultPolicy(),
	})
	require.NoError(t, err)
	m := state.NewMachine(world, opts...)
	m.Start()
	return m
}

func TestMachineStartsRestoring(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()
	ctx := context.Background()

	require.Equal(t, state.PhaseRestoring, m.Phase())
	err := m.Mutate(ctx, func(w *state.World) error { return nil })
	require.ErrorIs(t, err, state.ErrNotRunning)
	require.NoError(t, m.Read(ctx, func(w *state.World) error { return nil }))
	require.NoError(t, m.Barrier(ctx, "restore", func(w *state.World) error { return nil }))

	require.NoError(t, m.Transition(state.PhaseRunning))
	require.NoError(t, m.Mutate(ctx, func(w *state.World) error {
		return w.Ledger.Mint(ledger.NewAccount("alice"), 10, "", time.Now())
	}))
	var supply uint64
	require.NoError(t, m.Read(ctx, func(w *state.World) error {
		supply = w.Ledger.TotalSupply()
		return nil
	}))
	require.Equal(t, uint64(10), supply)
}

func TestMachinePhaseTransitions(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()

	require.ErrorIs(t, m.Transition(state.PhaseCheckpointing), state.ErrInvalidTransition)
	require.NoError(t, m.Transition(state.PhaseRunning))
	require.ErrorIs(t, m.Transition(state.PhaseReplaced), state.ErrInvalidTransition)
	require.NoError(t, m.Transition(state.PhaseCheckpointing))
	// checkpoint failure returns to Running
	require.NoError(t, m.Transition(state.PhaseRunning))
	require.NoError(t, m.Transition(state.PhaseCheckpointing))
	require.NoError(t, m.Transition(state.PhaseReplaced))
	err := m.Mutate(context.Background(), func(w *state.World) error { return nil })
	require.ErrorIs(t, err, state.ErrNotRunning)
	require.NoError(t, m.Transition(state.PhaseRestoring))
	require.NoError(t, m.Transition(state.PhaseRunning))
}

func TestMachineFIFO(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()
	require.NoError(t, m.Transition(state.PhaseRunning))

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := range 50 {
		ok := m.Submit("append", func(w *state.World) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 49 {
				close(done)
			}
			return nil
		})
		require.True(t, ok)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for submitted tasks")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestMachineSerializesMutations(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()
	require.NoError(t, m.Transition(state.PhaseRunning))
	ctx := context.Background()

	// unsynchronized read-modify-write is safe because tasks never overlap
	counter := 0
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				assert.NoError(t, m.Mutate(ctx, func(w *state.World) error {
					counter++
					return nil
				}))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1000, counter)
}

func TestMachineTaskPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()
	err := m.Read(context.Background(), func(w *state.World) error {
		panic("boom")
	})
	require.ErrorContains(t, err, "panicked")
	require.NoError(t, m.Read(context.Background(), func(w *state.World) error { return nil }))
}

func TestMachineCancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	defer m.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := m.Read(ctx, func(w *state.World) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	// drain the queue before checking
	require.NoError(t, m.Read(context.Background(), func(w *state.World) error { return nil }))
	require.False(t, ran)
}

func TestMachineStopped(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newTestMachine(t)
	m.Stop()
	m.Stop()
	err := m.Read(context.Background(), func(w *state.World) error { return nil })
	require.ErrorIs(t, err, state.ErrMachineStopped)
	require.False(t, m.Submit("late", func(w *state.World) error { return nil }))
}

func TestMachineMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)
	reg := prometheus.NewRegistry()
	m := newTestMachine(t, state.WithPromRegistry(reg))
	defer m.Stop()
	require.NoError(t, m.Read(context.Background(), func(w *state.World) error { return nil }))
	require.NoError(t, m.Transition(state.PhaseRunning))
	count, err := testutil.GatherAndCount(reg, "state_tasks_total", "state_phase")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
