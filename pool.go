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
	"math/rand"
	"net/url"
	"time"
)

// srv is one candidate endpoint in the server pool (§3 "Server endpoint").
type srv struct {
	url        *url.URL
	reconnects int
	lastAttempt time.Time
	discovered bool
	tlsName    string // hostname override for cert verification
}

// serverPool holds candidate endpoints for one Conn (C2).
type serverPool struct {
	servers []*srv
}

func newServerPool(urls []string, dontRandomize bool) (*serverPool, error) {
	pool := &serverPool{}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, err
		}
		pool.servers = append(pool.servers, &srv{url: parsed})
	}
	if len(pool.servers) == 0 {
		return nil, ErrNoServers
	}
	if !dontRandomize {
		pool.shuffle()
	}
	return pool, nil
}

func (p *serverPool) shuffle() {
	rand.Shuffle(len(p.servers), func(i, j int) {
		p.servers[i], p.servers[j] = p.servers[j], p.servers[i]
	})
}

// next pops the head candidate, discarding it if its attempt count exceeds
// maxReconnect (when maxReconnect >= 0), then cycles it to the tail so a
// later pass can retry it. Returns ErrNoServers when the pool is empty.
func (p *serverPool) next(maxReconnect int) (*srv, error) {
	for len(p.servers) > 0 {
		s := p.servers[0]
		p.servers = p.servers[1:]
		if maxReconnect >= 0 && s.reconnects >= maxReconnect {
			continue
		}
		p.servers = append(p.servers, s)
		return s, nil
	}
	return nil, ErrNoServers
}

// waitForReconnectSlot sleeps out the remainder of reconnectWait since s's
// last attempt, if any time remains.
func waitForReconnectSlot(s *srv, reconnectWait time.Duration) {
	if s.lastAttempt.IsZero() {
		return
	}
	elapsed := time.Since(s.lastAttempt)
	if elapsed < reconnectWait {
		time.Sleep(reconnectWait - elapsed)
	}
}

func (s *srv) recordAttempt() {
	s.lastAttempt = time.Now()
	s.reconnects++
}

// addGossipedURLs appends newly discovered peer URLs, skipping duplicates
// by host:port, shuffling unless dontRandomize is set. Returns true if any
// new server was added.
func (p *serverPool) addGossipedURLs(peers []string, dontRandomize bool) bool {
	known := make(map[string]bool, len(p.servers))
	for _, s := range p.servers {
		known[s.url.Host] = true
	}
	added := false
	for _, raw := range peers {
		u, err := url.Parse(ensureScheme(raw))
		if err != nil {
			continue
		}
		if known[u.Host] {
			continue
		}
		known[u.Host] = true
		p.servers = append(p.servers, &srv{url: u, discovered: true})
		added = true
	}
	if added && !dontRandomize {
		p.shuffle()
	}
	return added
}

func ensureScheme(raw string) string {
	if len(raw) >= 7 && (raw[:7] == "nats://" || raw[:6] == "tls://") {
		return raw
	}
	return "nats://" + raw
}

// tlsHostname resolves the hostname used for certificate verification,
// preferring (in order) an explicit override, the endpoint's discovered
// original hostname, then the candidate URL's own hostname (§4.2).
func tlsHostname(s *srv, override string) string {
	if override != _EMPTY_ {
		return override
	}
	if s.tlsName != _EMPTY_ {
		return s.tlsName
	}
	return s.url.Hostname()
}
