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

import "errors"

// Protocol and handshake errors.
var (
	ErrConnectionClosed      = errors.New("nats: connection closed")
	ErrConnectionDraining    = errors.New("nats: connection draining")
	ErrConnectionReconnecting = errors.New("nats: connection reconnecting")
	ErrSecureConnRequired    = errors.New("nats: secure connection required")
	ErrSecureConnWanted      = errors.New("nats: secure connection not available")
	ErrBadSubscription       = errors.New("nats: invalid subscription")
	ErrTypeSubscription      = errors.New("nats: invalid subscription type")
	ErrBadSubject            = errors.New("nats: invalid subject")
	ErrSlowConsumer          = errors.New("nats: slow consumer, messages dropped")
	ErrTimeout               = errors.New("nats: timeout")
	ErrNoServers             = errors.New("nats: no servers available for connection")
	ErrStaleConnection       = errors.New("nats: stale connection")
	ErrMaxPayload            = errors.New("nats: maximum payload exceeded")
	ErrAuthorization         = errors.New("nats: authorization violation")
	ErrAuthExpired           = errors.New("nats: authentication expired")
	ErrNoResponders          = errors.New("nats: no responders available for request")
	ErrMsgNotBound           = errors.New("nats: message not bound to subscription/connection")
	ErrMsgNoReply            = errors.New("nats: message does not have a reply")
	ErrProtocolOverflow      = errors.New("nats: control line too long")
	ErrInvalidArg            = errors.New("nats: invalid argument")
	ErrInvalidMsg            = errors.New("nats: invalid message or message arguments")
	ErrInvalidContext        = errors.New("nats: invalid context")
	ErrNoDeadlineContext     = errors.New("nats: context requires a deadline or cancellation")
	ErrConnectionTimeout     = errors.New("nats: connect timeout")
)

// IsConnectionClosedError reports whether err represents the connection
// being permanently closed, as opposed to merely draining or reconnecting.
func IsConnectionClosedError(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}
