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

	"github.com/nats-io/nuid"
)

// InboxPrefix is the subject prefix reserved for request/reply inboxes.
const InboxPrefix = "_INBOX."

// nextID hands out short, URL-safe, collision-resistant identifiers used
// for correlation tokens and inbox subjects (C6). A single process-wide
// generator is reused the way the teacher's own nats.go does: nuid
// amortizes its cryptographically seeded prefix across many calls instead
// of paying that cost on every inbox mint. *nuid.NUID.Next mutates its
// internal sequence/prefix state with no locking of its own, so every
// call through this generator is serialized under globalIDMu.
var (
	globalIDMu sync.Mutex
	globalID   = nuid.New()
)

func nextID() string {
	globalIDMu.Lock()
	defer globalIDMu.Unlock()
	return globalID.Next()
}

// NewInbox returns a new inbox subject of the form `_INBOX.<id>`.
func NewInbox() string {
	return InboxPrefix + nextID()
}

// newToken returns a fresh correlation token suitable for suffixing onto a
// shared inbox prefix.
func newToken() string {
	return nextID()
}
