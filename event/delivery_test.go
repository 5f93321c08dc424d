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

package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingSubscriber struct {
	closed bool
	panics bool
}

func (f *failingSubscriber) Deliver(evt Event) error {
	if f.panics {
		panic("subscriber broke")
	}
	return errors.New("deliver failed")
}

func (f *failingSubscriber) Close() {
	f.closed = true
}

func TestDeliverFailureUnregisters(t *testing.T) {
	for _, panics := range []bool{false, true} {
		eb := NewEventBus(nil, nil)
		sub := &failingSubscriber{panics: panics}
		subId := eb.RegisterSubscriber("test.fail", sub)
		require.NotZero(t, subId)
		eb.Publish("test.fail", NewEvent("test.fail", "x"))

		eb.mu.RLock()
		_, exists := eb.subscribers["test.fail"][subId]
		eb.mu.RUnlock()
		require.False(t, exists, "failing subscriber should be removed")
		require.True(t, sub.closed)
		eb.Stop()
	}
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	const bufferSize = 5
	sub := newChannelSubscriber(bufferSize, nil)
	for i := range bufferSize {
		require.NoError(t, sub.Deliver(NewEvent("test", i)))
	}
	done := make(chan error, 1)
	go func() {
		done <- sub.Deliver(NewEvent("test", "overflow"))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
	for i := range bufferSize {
		evt := <-sub.ch
		require.Equal(t, i, evt.Data)
	}
	require.Empty(t, sub.ch)
}

func TestChannelSubscriberDeliverAfterClose(t *testing.T) {
	sub := newChannelSubscriber(5, nil)
	sub.Close()
	sub.Close()
	require.NoError(t, sub.Deliver(NewEvent("test", "after-close")))
}
