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
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MsgHandler processes messages delivered to an asynchronous subscription.
type MsgHandler func(msg *Msg)

// deliveryMode selects the tagged variant from §9's design note:
// Delivery = Callback(fn) | Future(slot) | Iterator(queue).
type deliveryMode int

const (
	modeCallback deliveryMode = iota
	modeFuture
	modeIterator
)

// Subscription tracks interest in a subject (§3 "Subscription").
type Subscription struct {
	mu      sync.Mutex
	sid     uint64
	Subject string
	Queue   string

	conn *Conn
	mode deliveryMode
	mcb  MsgHandler

	// mch backs callback and iterator modes; future backs future mode.
	mch    chan *Msg
	future chan *Msg

	delivered   uint64
	max         uint64 // 0 means unbounded
	pendingMsgs int
	pendingBytes int
	msgLimit    int
	byteLimit   int

	sc      bool // slow consumer flag, reported and cleared by the next NextMsg call
	closed  bool
	draining bool
	drainDone chan struct{}
}

// IsValid reports whether the subscription is still registered with the
// connection (§3 invariant: in the registry iff the server knows it).
func (s *Subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closed
}

// isAsync reports whether this is an async (callback) subscription, as
// opposed to a sync (iterator/poll) or one-shot (future) one.
func (s *Subscription) isAsync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mcb != nil
}

// PendingLimits returns the configured message and byte backpressure caps.
func (s *Subscription) PendingLimits() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgLimit, s.byteLimit
}

// SetPendingLimits configures backpressure caps for this subscription.
func (s *Subscription) SetPendingLimits(msgLimit, byteLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgLimit, s.byteLimit = msgLimit, byteLimit
}

// Delivered returns how many messages have been delivered to this
// subscription so far.
func (s *Subscription) Delivered() uint64 {
	return atomic.LoadUint64(&s.delivered)
}

// Unsubscribe removes interest in the subject (§4.4).
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	nc := s.conn
	s.mu.Unlock()
	if nc == nil {
		return ErrBadSubscription
	}
	return nc.unsubscribe(s, 0)
}

// AutoUnsubscribe caps delivery at max messages; the server and the
// registry both enforce the cap (§4.4).
func (s *Subscription) AutoUnsubscribe(max int) error {
	s.mu.Lock()
	nc := s.conn
	s.mu.Unlock()
	if nc == nil {
		return ErrBadSubscription
	}
	return nc.unsubscribe(s, max)
}

// NextMsg blocks until a message is available on a non-callback
// subscription or the timeout elapses.
func (s *Subscription) NextMsg(timeout time.Duration) (*Msg, error) {
	s.mu.Lock()
	if s.mcb != nil {
		s.mu.Unlock()
		return nil, ErrTypeSubscription
	}
	mch := s.mch
	if s.mode == modeFuture {
		mch = s.future
	}
	if mch == nil {
		s.mu.Unlock()
		return nil, ErrBadSubscription
	}
	if s.sc {
		s.sc = false
		s.mu.Unlock()
		return nil, ErrSlowConsumer
	}
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case msg, ok := <-mch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		s.release(msg)
		return msg, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}

// NextMsgWithContext is NextMsg bound to a context instead of a bare
// timeout, used by the JetStream pull-consumer layer (C9).
func (s *Subscription) NextMsgWithContext(ctx context.Context) (*Msg, error) {
	if ctx == nil {
		return nil, ErrInvalidContext
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, ErrNoDeadlineContext
	}

	s.mu.Lock()
	if s.mcb != nil {
		s.mu.Unlock()
		return nil, ErrTypeSubscription
	}
	mch := s.mch
	if s.mode == modeFuture {
		mch = s.future
	}
	s.mu.Unlock()
	if mch == nil {
		return nil, ErrBadSubscription
	}

	select {
	case msg, ok := <-mch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		s.release(msg)
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release accounts for a message handed to a NextMsg/NextMsgWithContext
// caller. delivered is already counted on arrival in deliverInbound (so
// the auto-unsubscribe cap sees it regardless of delivery mode); only the
// pending-bytes backpressure counter, which enqueueToSub grows for
// iterator-mode messages routed through sub.mch, needs releasing here -
// deliverCallbacks does the equivalent release for callback mode.
func (s *Subscription) release(m *Msg) {
	if s.mode == modeFuture {
		return
	}
	s.mu.Lock()
	s.pendingBytes -= len(m.Data)
	s.mu.Unlock()
}

// --- connection-side registry (C4) ---

// subscribe allocates a sid, registers the subscription, and sends SUB.
func (nc *Conn) subscribe(subj, queue string, cb MsgHandler, mode deliveryMode) (*Subscription, error) {
	if err := validateSubject(subj); err != nil {
		return nil, err
	}
	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	sub := &Subscription{
		Subject: subj,
		Queue:   queue,
		conn:    nc,
		mode:    mode,
		mcb:     cb,
		msgLimit:  nc.opts.SubChanLen,
		byteLimit: DefaultSubPendingBytes,
	}
	switch mode {
	case modeFuture:
		sub.future = make(chan *Msg, 1)
	default:
		sub.mch = make(chan *Msg, nc.opts.SubChanLen)
	}

	sub.sid = atomic.AddUint64(&nc.ssid, 1)
	nc.subs[sub.sid] = sub

	if mode == modeCallback {
		nc.subDispatchWG.Add(1)
		go nc.deliverCallbacks(sub)
	}

	if !nc.isReconnectingLocked() {
		nc.enqueueProto(serializeSub(subj, queue, sub.sid))
	}
	nc.mu.Unlock()
	return sub, nil
}

// Subscribe creates an asynchronous (callback) subscription.
func (nc *Conn) Subscribe(subj string, cb MsgHandler) (*Subscription, error) {
	if cb == nil {
		return nil, ErrInvalidArg
	}
	return nc.subscribe(subj, _EMPTY_, cb, modeCallback)
}

// QueueSubscribe creates an asynchronous queue-group subscription.
func (nc *Conn) QueueSubscribe(subj, queue string, cb MsgHandler) (*Subscription, error) {
	if cb == nil {
		return nil, ErrInvalidArg
	}
	return nc.subscribe(subj, queue, cb, modeCallback)
}

// SubscribeSync creates an iterator-mode subscription polled via NextMsg.
func (nc *Conn) SubscribeSync(subj string) (*Subscription, error) {
	return nc.subscribe(subj, _EMPTY_, nil, modeIterator)
}

// QueueSubscribeSync creates an iterator-mode queue-group subscription.
func (nc *Conn) QueueSubscribeSync(subj, queue string) (*Subscription, error) {
	return nc.subscribe(subj, queue, nil, modeIterator)
}

func (nc *Conn) unsubscribe(sub *Subscription, max int) error {
	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}

	s := nc.subs[sub.sid]
	if s == nil {
		nc.mu.Unlock()
		return nil
	}

	if max > 0 {
		s.mu.Lock()
		s.max = uint64(max)
		already := s.delivered >= s.max
		s.mu.Unlock()
		if already {
			nc.removeSub(s)
		}
	} else {
		nc.removeSub(s)
	}

	if !nc.isReconnectingLocked() {
		nc.enqueueProto(serializeUnsub(sub.sid, max))
	}
	nc.mu.Unlock()
	return nil
}

// removeSub deletes the subscription from the registry and closes its
// delivery channel. Caller holds nc.mu.
func (nc *Conn) removeSub(s *Subscription) {
	delete(nc.subs, s.sid)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.conn = nil
		if s.mch != nil {
			close(s.mch)
		}
		if s.future != nil {
			close(s.future)
		}
	}
	s.mu.Unlock()
}

// deliverInbound is called from the read loop for every MSG/HMSG frame. It
// implements the cap/backpressure/dispatch rules of §4.4.
func (nc *Conn) deliverInbound(sid uint64, subj, reply string, hdr Header, data []byte) {
	nc.mu.Lock()
	sub := nc.subs[sid]
	if sub == nil {
		nc.mu.Unlock()
		return
	}

	sub.mu.Lock()
	sub.delivered++
	capped := sub.max > 0 && sub.delivered >= sub.max
	sub.mu.Unlock()
	nc.mu.Unlock()

	m := &Msg{Subject: subj, Reply: reply, Data: data, Header: hdr, Sub: sub}

	switch sub.mode {
	case modeFuture:
		sub.mu.Lock()
		ch := sub.future
		sub.mu.Unlock()
		if ch != nil {
			select {
			case ch <- m:
			default:
			}
		}
	default: // modeCallback, modeIterator share the same pending-queue rules
		nc.enqueueToSub(sub, m)
	}

	// Deliver this message before tearing the subscription down, so the
	// cap-boundary message is never dropped by a closed pending channel.
	if capped {
		nc.mu.Lock()
		nc.removeSub(sub)
		nc.mu.Unlock()
	}
}

// enqueueToSub applies the pending message/byte limits, dropping and
// reporting a slow-consumer error when either would be exceeded.
func (nc *Conn) enqueueToSub(sub *Subscription, m *Msg) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	newBytes := sub.pendingBytes + len(m.Data)
	if (sub.msgLimit > 0 && len(sub.mch) >= sub.msgLimit) ||
		(sub.byteLimit > 0 && newBytes > sub.byteLimit) {
		sub.sc = true
		sub.mu.Unlock()
		nc.reportAsyncError(sub, ErrSlowConsumer)
		return
	}
	sub.pendingBytes = newBytes
	ch := sub.mch
	sub.mu.Unlock()

	select {
	case ch <- m:
	default:
		sub.mu.Lock()
		sub.sc = true
		sub.mu.Unlock()
		nc.reportAsyncError(sub, ErrSlowConsumer)
	}
}

// deliverCallbacks is the per-subscription delivery pump for callback mode,
// serializing dispatch to mcb in arrival order (§5 ordering guarantees).
func (nc *Conn) deliverCallbacks(sub *Subscription) {
	defer nc.subDispatchWG.Done()
	for m := range sub.mch {
		sub.mu.Lock()
		cb := sub.mcb
		sub.pendingBytes -= len(m.Data)
		sub.mu.Unlock()
		if cb == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					nc.reportAsyncError(sub, errFromRecover(r))
				}
			}()
			cb(m)
		}()
	}
}

// drainSubscription unsubscribes immediately, flushes, and waits for the pending queue
// to empty before the subscription is finally removed (§4.4).
func (nc *Conn) drainSubscription(sub *Subscription) error {
	sub.mu.Lock()
	if sub.draining || sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.draining = true
	sub.drainDone = make(chan struct{})
	sub.mu.Unlock()

	nc.mu.Lock()
	if !nc.isClosedLocked() {
		nc.enqueueProto(serializeUnsub(sub.sid, 0))
	}
	delete(nc.subs, sub.sid)
	nc.mu.Unlock()

	if err := nc.Flush(); err != nil {
		return err
	}

	for {
		sub.mu.Lock()
		empty := sub.mch == nil || len(sub.mch) == 0
		sub.mu.Unlock()
		if empty {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	nc.mu.Lock()
	nc.removeSub(sub)
	nc.mu.Unlock()
	return nil
}
