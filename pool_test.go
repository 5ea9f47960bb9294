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

import "testing"

func TestNewServerPoolRejectsEmpty(t *testing.T) {
	if _, err := newServerPool(nil, true); err != ErrNoServers {
		t.Fatalf("got err %v, want ErrNoServers", err)
	}
}

func TestNewServerPoolParsesURLs(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222", "nats://b:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(pool.servers))
	}
}

func TestServerPoolNextCycles(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222", "nats://b:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := pool.next(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.url.Host != "a:4222" {
		t.Fatalf("got %q, want a:4222", first.url.Host)
	}
	second, err := pool.next(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.url.Host != "b:4222" {
		t.Fatalf("got %q, want b:4222", second.url.Host)
	}
	// first was cycled to the tail, so a third call returns it again.
	third, err := pool.next(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != first {
		t.Fatalf("expected first candidate to be cycled back to the tail")
	}
}

func TestServerPoolNextDropsExhaustedCandidate(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.servers[0].reconnects = 5
	if _, err := pool.next(5); err != ErrNoServers {
		t.Fatalf("got err %v, want ErrNoServers once maxReconnect is exceeded", err)
	}
}

func TestServerPoolNextUnboundedWhenNegative(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.servers[0].reconnects = 1000
	if _, err := pool.next(-1); err != nil {
		t.Fatalf("unexpected error with unbounded maxReconnect: %v", err)
	}
}

func TestAddGossipedURLsSkipsDuplicates(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added := pool.addGossipedURLs([]string{"a:4222", "b:4222"}, true)
	if !added {
		t.Fatal("expected a new server to be added")
	}
	if len(pool.servers) != 2 {
		t.Fatalf("got %d servers, want 2 (duplicate skipped)", len(pool.servers))
	}
}

func TestAddGossipedURLsNoNewServers(t *testing.T) {
	pool, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.addGossipedURLs([]string{"a:4222"}, true) {
		t.Fatal("expected no new servers to be added")
	}
}

func TestEnsureScheme(t *testing.T) {
	if got := ensureScheme("foo:4222"); got != "nats://foo:4222" {
		t.Errorf("got %q, want nats://foo:4222", got)
	}
	if got := ensureScheme("nats://foo:4222"); got != "nats://foo:4222" {
		t.Errorf("got %q, want unchanged", got)
	}
	if got := ensureScheme("tls://foo:4222"); got != "tls://foo:4222" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestTLSHostnamePrecedence(t *testing.T) {
	pool, err := newServerPool([]string{"nats://original.example.com:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := pool.servers[0]

	if got := tlsHostname(s, "override.example.com"); got != "override.example.com" {
		t.Errorf("got %q, want explicit override to win", got)
	}

	s.tlsName = "discovered.example.com"
	if got := tlsHostname(s, ""); got != "discovered.example.com" {
		t.Errorf("got %q, want discovered hostname to win absent an override", got)
	}

	s.tlsName = ""
	if got := tlsHostname(s, ""); got != "original.example.com" {
		t.Errorf("got %q, want the candidate URL's own hostname as the fallback", got)
	}
}
