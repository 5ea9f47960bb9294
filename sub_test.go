// Copyright 2020 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nats

import (
	"testing"
	"time"
)

// newTestConn builds a Conn with just enough state wired up to exercise the
// subscription registry without dialing a real server.
func newTestConn() *Conn {
	return &Conn{
		opts:     defaultOptions(),
		subs:     make(map[uint64]*Subscription),
		fch:      make(chan struct{}, 1),
		closedCh: make(chan struct{}),
		status:   CONNECTED,
	}
}

func TestSubscribeRegistersAndAssignsSid(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.sid == 0 {
		t.Error("expected a non-zero sid")
	}
	if nc.subs[sub.sid] != sub {
		t.Error("expected subscription to be registered in the connection's registry")
	}
}

func TestSubscribeRejectsInvalidSubject(t *testing.T) {
	nc := newTestConn()
	if _, err := nc.SubscribeSync(""); err != ErrBadSubject {
		t.Fatalf("got err %v, want ErrBadSubject", err)
	}
}

func TestSubscribeOnClosedConnection(t *testing.T) {
	nc := newTestConn()
	nc.status = CLOSED
	if _, err := nc.SubscribeSync("foo"); err != ErrConnectionClosed {
		t.Fatalf("got err %v, want ErrConnectionClosed", err)
	}
}

func TestDeliverInboundToIteratorSubscription(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("hello"))

	m, err := sub.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(m.Data) != "hello" {
		t.Errorf("got %q, want hello", m.Data)
	}
	if sub.Delivered() != 1 {
		t.Errorf("got delivered=%d, want 1", sub.Delivered())
	}
}

func TestDeliverInboundUnknownSidIsIgnored(t *testing.T) {
	nc := newTestConn()
	// Should not panic even though no subscription is registered under 999.
	nc.deliverInbound(999, "foo", "", nil, []byte("hello"))
}

func TestDeliverInboundToFutureSubscription(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.subscribe("foo", "", nil, modeFuture)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("one"))
	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("two"))

	m, err := sub.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(m.Data) != "one" {
		t.Errorf("future mode should deliver only the first message, got %q", m.Data)
	}
}

func TestDeliverInboundToCallback(t *testing.T) {
	nc := newTestConn()
	done := make(chan *Msg, 1)
	sub, err := nc.Subscribe("foo", func(m *Msg) { done <- m })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("hello"))

	select {
	case m := <-done:
		if string(m.Data) != "hello" {
			t.Errorf("got %q, want hello", m.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback delivery")
	}
}

func TestAutoUnsubscribeCapsDelivery(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("one"))

	m, err := sub.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("expected the cap-boundary message to still be delivered, got err: %v", err)
	}
	if string(m.Data) != "one" {
		t.Errorf("got %q, want %q", m.Data, "one")
	}
	if _, ok := nc.subs[sub.sid]; ok {
		t.Error("expected subscription to be removed once its delivery cap was reached")
	}
}

func TestSlowConsumerReportedOnFullPendingQueue(t *testing.T) {
	nc := newTestConn()
	nc.opts.SubChanLen = 1
	var gotErr error
	nc.opts.AsyncErrorCB = func(_ *Conn, _ *Subscription, err error) { gotErr = err }

	sub, err := nc.Subscribe("foo", func(m *Msg) {
		// Slow handler - the delivery pump is stuck in this callback with
		// the first message, so "two" fills the one-slot pending queue and
		// the enqueue of "three" observes it full.
		time.Sleep(200 * time.Millisecond)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("one"))
	time.Sleep(10 * time.Millisecond) // let deliverCallbacks pick up "one"
	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("two"))
	nc.deliverInbound(sub.sid, "foo", "", nil, []byte("three"))

	time.Sleep(50 * time.Millisecond)
	if gotErr != ErrSlowConsumer {
		t.Fatalf("got err %v, want ErrSlowConsumer reported once the pending queue filled", gotErr)
	}
}

func TestNextMsgReleasesPendingBytes(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub.SetPendingLimits(0, 10)

	var gotErr error
	nc.opts.AsyncErrorCB = func(_ *Conn, _ *Subscription, err error) { gotErr = err }

	// Each message is 5 bytes against a 10-byte cap. If NextMsg didn't
	// release pendingBytes on consumption, the third delivery (cumulative
	// 15 bytes) would trip ErrSlowConsumer even though every prior message
	// was drained before the next one arrived.
	for i := 0; i < 3; i++ {
		nc.deliverInbound(sub.sid, "foo", "", nil, []byte("hello"))
		if _, err := sub.NextMsg(time.Second); err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
	}
	if gotErr != nil {
		t.Fatalf("got err %v, want no slow-consumer error once every message is drained before the next arrives", gotErr)
	}
}

func TestUnsubscribeRemovesFromRegistry(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := nc.subs[sub.sid]; ok {
		t.Error("expected subscription to be removed from the registry")
	}
	if sub.IsValid() {
		t.Error("expected subscription to be invalid after Unsubscribe")
	}
}

func TestNextMsgOnCallbackSubscriptionFails(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.Subscribe("foo", func(*Msg) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()
	if _, err := sub.NextMsg(time.Millisecond); err != ErrTypeSubscription {
		t.Fatalf("got err %v, want ErrTypeSubscription", err)
	}
}

func TestNextMsgTimesOut(t *testing.T) {
	nc := newTestConn()
	sub, err := nc.SubscribeSync("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()
	if _, err := sub.NextMsg(10 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("got err %v, want ErrTimeout", err)
	}
}
