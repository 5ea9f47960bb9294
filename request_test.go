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
	"sync"
	"testing"
)

func TestCheckNoRespondersTranslatesStatus(t *testing.T) {
	m := &Msg{Header: Header{}}
	m.Header.Set(statusHdr, "503")
	if _, err := checkNoResponders(m); err != ErrNoResponders {
		t.Fatalf("got err %v, want ErrNoResponders", err)
	}
}

func TestCheckNoRespondersPassesThroughOrdinaryReply(t *testing.T) {
	m := &Msg{Data: []byte("pong")}
	got, err := checkNoResponders(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != m {
		t.Error("expected the original message to be returned unchanged")
	}
}

func TestRespMuxDispatchCorrelatesByLastToken(t *testing.T) {
	rm := newRespMux(newTestConn())
	rm.prefix = "_INBOX.xyz."
	subj, ch, cancel := rm.newWaiter()
	defer cancel()

	rm.dispatch(&Msg{Subject: subj, Data: []byte("reply")})

	select {
	case m := <-ch:
		if string(m.Data) != "reply" {
			t.Errorf("got %q, want reply", m.Data)
		}
	default:
		t.Fatal("expected dispatch to deliver to the matching waiter")
	}
}

func TestRespMuxDispatchIgnoresUnknownToken(t *testing.T) {
	rm := newRespMux(newTestConn())
	rm.prefix = "_INBOX.xyz."
	_, ch, cancel := rm.newWaiter()
	defer cancel()

	// A reply for a token nobody is waiting on should not panic or be
	// delivered to an unrelated waiter.
	rm.dispatch(&Msg{Subject: "_INBOX.xyz.someoneelse", Data: []byte("reply")})

	select {
	case m := <-ch:
		t.Fatalf("unexpected delivery to unrelated waiter: %v", m)
	default:
	}
}

func TestRespMuxCancelRemovesWaiter(t *testing.T) {
	rm := newRespMux(newTestConn())
	rm.prefix = "_INBOX.xyz."
	subj, _, cancel := rm.newWaiter()
	cancel()

	rm.dispatch(&Msg{Subject: subj, Data: []byte("late reply")})
	rm.mu.Lock()
	n := len(rm.waiting)
	rm.mu.Unlock()
	if n != 0 {
		t.Errorf("got %d waiters still registered, want 0 after cancel", n)
	}
}

func TestRespMuxDispatchNoTokenSeparator(t *testing.T) {
	rm := newRespMux(newTestConn())
	// A subject with no "." has nowhere to take a last token from; dispatch
	// must not panic.
	rm.dispatch(&Msg{Subject: "noSeparator", Data: []byte("x")})
}

func TestRespMuxEnsureStartedOnceUnderConcurrency(t *testing.T) {
	rm := newRespMux(newTestConn())

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if err := rm.ensureStarted(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	rm.mu.Lock()
	prefix, sub := rm.prefix, rm.sub
	rm.mu.Unlock()
	if sub == nil {
		t.Fatal("expected a subscription to have been created")
	}
	if prefix == "" {
		t.Fatal("expected a prefix to have been set")
	}
	// Exactly one subscription should be registered under the winning
	// prefix's wildcard subject - a losing goroutine's separate
	// subscribe/prefix pair would leak a second registry entry.
	count := 0
	for _, s := range rm.nc.subs {
		if s.Subject == prefix+"*" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d subscriptions for %q, want exactly 1", count, prefix+"*")
	}
}
