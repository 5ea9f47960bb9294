// Copyright 2020-2022 The NATS Authors
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

// Package jetstream layers JetStream's persistence/streaming request/reply
// API (C7-C10) on top of the transport core in the parent nats package:
// stream and consumer management, a pull-consumer iterator, and a
// key/value facade built on a stream.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-community/corenats"
)

// DefaultAPIPrefix is the subject prefix JetStream's management API lives
// under absent an import/export account mapping.
const DefaultAPIPrefix = "$JS.API."

// DefaultAPITimeout bounds a management API round trip when the caller's
// context carries no deadline.
const DefaultAPITimeout = 5 * time.Second

const apiAccountInfoSubj = "INFO"

// JetStream is a handle bound to one API prefix on one connection (C7).
// All management calls on it (GetMsg included) are JSON request/reply
// round-trips through nc.Request on the API prefix; Publish is a
// nc.RequestMsg to the stream's own subject.
type JetStream struct {
	conn      *nats.Conn
	apiPrefix string
	wait      time.Duration
}

// Option configures a JetStream handle.
type Option func(*JetStream) error

// APIPrefix overrides the default "$JS.API." prefix, for accessing
// JetStream imported from another account.
func APIPrefix(prefix string) Option {
	return func(js *JetStream) error {
		if prefix == "" {
			return nil
		}
		if !strings.HasSuffix(prefix, ".") {
			prefix += "."
		}
		js.apiPrefix = prefix
		return nil
	}
}

// MaxWait sets the default timeout for API requests made without a
// context deadline of their own.
func MaxWait(d time.Duration) Option {
	return func(js *JetStream) error {
		js.wait = d
		return nil
	}
}

// New binds a JetStream handle to nc and confirms the account actually
// has JetStream enabled.
func New(nc *nats.Conn, opts ...Option) (*JetStream, error) {
	js := &JetStream{conn: nc, apiPrefix: DefaultAPIPrefix, wait: DefaultAPITimeout}
	for _, opt := range opts {
		if err := opt(js); err != nil {
			return nil, err
		}
	}
	if _, err := js.AccountInfo(context.Background()); err != nil {
		return nil, err
	}
	return js, nil
}

// AccountInfo reports the account's JetStream usage and limits.
type AccountInfo struct {
	Memory    uint64 `json:"memory"`
	Store     uint64 `json:"storage"`
	Streams   int    `json:"streams"`
	Consumers int    `json:"consumers"`
	Limits    struct {
		MaxMemory    int64 `json:"max_memory"`
		MaxStore     int64 `json:"max_storage"`
		MaxStreams   int   `json:"max_streams"`
		MaxConsumers int   `json:"max_consumers"`
	} `json:"limits"`
}

type accountInfoResponse struct {
	apiResponse
	*AccountInfo
}

// AccountInfo fetches the current account's JetStream usage.
func (js *JetStream) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var resp accountInfoResponse
	if _, err := js.apiRequestJSON(ctx, apiAccountInfoSubj, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.AccountInfo, nil
}

// apiResponse is the envelope every JetStream API response embeds.
type apiResponse struct {
	Type  string    `json:"type,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

func apiSubj(prefix, subj string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(subj))
	b.WriteString(prefix)
	b.WriteString(subj)
	return b.String()
}

// requestTimeout resolves the effective timeout for an API call: the
// context's deadline if it has one, else the handle's configured wait.
func (js *JetStream) requestTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return js.wait
}

// apiRequestJSON performs one JetStream API round trip and unmarshals the
// reply into resp, translating a no-responders reply into
// ErrJetStreamNotEnabled (the account has no JetStream, or the API
// prefix doesn't exist) rather than surfacing the transport-level error.
func (js *JetStream) apiRequestJSON(ctx context.Context, subject string, resp interface{}, payload ...[]byte) (*nats.Msg, error) {
	var body []byte
	if len(payload) > 0 {
		body = payload[0]
	}
	m, err := js.conn.Request(apiSubj(js.apiPrefix, subject), body, js.requestTimeout(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrJetStreamNotEnabled
		}
		return nil, err
	}
	if err := json.Unmarshal(m.Data, resp); err != nil {
		return nil, err
	}
	return m, nil
}
