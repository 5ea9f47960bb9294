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
	"strings"
	"sync"
	"time"
)

// respMux is the shared-inbox request/reply dispatcher (C5): a single
// wildcard subscription `_INBOX.<nuid>.*` is created lazily on first use,
// and every Request() call mints its own last-token suffix to correlate
// replies instead of paying for a fresh subscription per call.
type respMux struct {
	mu      sync.Mutex
	nc      *Conn
	prefix  string // "_INBOX.<nuid>."
	sub     *Subscription
	waiting map[string]chan *Msg
}

func newRespMux(nc *Conn) *respMux {
	return &respMux{nc: nc, waiting: make(map[string]chan *Msg)}
}

// ensureStarted lazily creates the wildcard inbox subscription the first
// time a shared-inbox request is made. The whole check-and-create section
// runs under rm.mu - Subscribe only registers interest and sends SUB, it
// doesn't block on a server round trip - so two concurrent first-time
// callers can't each mint a different prefix/subscription the way a
// check-then-act read of rm.sub outside the lock would allow. A failed
// Subscribe leaves rm.sub nil, so the next call retries instead of wedging
// every future Request behind one transient error.
func (rm *respMux) ensureStarted() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.sub != nil {
		return nil
	}
	prefix := NewInbox() + "."
	sub, err := rm.nc.Subscribe(prefix+"*", rm.dispatch)
	if err != nil {
		return err
	}
	rm.prefix, rm.sub = prefix, sub
	return nil
}

func (rm *respMux) dispatch(m *Msg) {
	i := strings.LastIndexByte(m.Subject, '.')
	if i < 0 {
		return
	}
	token := m.Subject[i+1:]

	rm.mu.Lock()
	ch := rm.waiting[token]
	rm.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

// newWaiter mints a fresh correlation token and registers a channel to
// receive its reply.
func (rm *respMux) newWaiter() (subj string, ch chan *Msg, cancel func()) {
	token := newToken()
	ch = make(chan *Msg, 1)

	rm.mu.Lock()
	rm.waiting[token] = ch
	subj = rm.prefix + token
	rm.mu.Unlock()

	cancel = func() {
		rm.mu.Lock()
		delete(rm.waiting, token)
		rm.mu.Unlock()
	}
	return subj, ch, cancel
}

// Request sends data on subj and waits up to timeout for a single reply
// (§4.5). It uses the shared-inbox dispatcher unless UseOldRequestStyle
// is set, in which case each call pays for its own ephemeral inbox
// subscription - the fallback the spec names for servers or deployments
// that cannot tolerate the wildcard subscription.
func (nc *Conn) Request(subj string, data []byte, timeout time.Duration) (*Msg, error) {
	if nc.opts.UseOldRequestStyle {
		return nc.oldRequest(subj, data, timeout)
	}

	if err := nc.respMux.ensureStarted(); err != nil {
		return nil, err
	}
	inbox, ch, cancel := nc.respMux.newWaiter()
	defer cancel()

	if err := nc.PublishRequest(subj, inbox, data); err != nil {
		return nil, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-ch:
		return checkNoResponders(m)
	case <-t.C:
		return nil, ErrTimeout
	}
}

// RequestMsg is Request taking a pre-built Msg so callers can attach
// headers to the request.
func (nc *Conn) RequestMsg(msg *Msg, timeout time.Duration) (*Msg, error) {
	if nc.opts.UseOldRequestStyle {
		return nc.oldRequestMsg(msg, timeout)
	}

	if err := nc.respMux.ensureStarted(); err != nil {
		return nil, err
	}
	inbox, ch, cancel := nc.respMux.newWaiter()
	defer cancel()

	if err := nc.publish(msg.Subject, inbox, msg.Header, msg.Data); err != nil {
		return nil, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-ch:
		return checkNoResponders(m)
	case <-t.C:
		return nil, ErrTimeout
	}
}

// RequestWithContext is Request bound to a context deadline instead of a
// bare timeout; a context without a deadline is rejected with
// ErrNoDeadlineContext.
func (nc *Conn) RequestWithContext(ctx context.Context, subj string, data []byte) (*Msg, error) {
	dl, ok := ctx.Deadline()
	if !ok {
		return nil, ErrNoDeadlineContext
	}
	return nc.Request(subj, data, time.Until(dl))
}

// oldRequest implements the one-shot ephemeral-inbox fallback (§4.5 Open
// Question UseOldRequestStyle): a brand new inbox subscription per call,
// exactly the shape the historical client used before shared-inbox
// dispatch existed.
func (nc *Conn) oldRequest(subj string, data []byte, timeout time.Duration) (*Msg, error) {
	inbox := NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()
	sub.AutoUnsubscribe(1)

	if err := nc.PublishRequest(subj, inbox, data); err != nil {
		return nil, err
	}
	m, err := sub.NextMsg(timeout)
	if err != nil {
		return nil, err
	}
	return checkNoResponders(m)
}

func (nc *Conn) oldRequestMsg(msg *Msg, timeout time.Duration) (*Msg, error) {
	inbox := NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()
	sub.AutoUnsubscribe(1)

	if err := nc.publish(msg.Subject, inbox, msg.Header, msg.Data); err != nil {
		return nil, err
	}
	m, err := sub.NextMsg(timeout)
	if err != nil {
		return nil, err
	}
	return checkNoResponders(m)
}

// checkNoResponders turns the inline 503 status NATS servers send when no
// subscriber exists on the request subject into ErrNoResponders (§4.5
// edge case), rather than handing callers an empty reply to misinterpret.
func checkNoResponders(m *Msg) (*Msg, error) {
	if code, ok := m.Status(); ok && code == 503 {
		return nil, ErrNoResponders
	}
	return m, nil
}
