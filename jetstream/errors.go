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

package jetstream

import (
	"errors"
	"fmt"
)

// APIError is the discriminated error envelope returned by JetStream's
// request/reply API (every non-successful response carries one of these
// instead of a bare JSON body).
type APIError struct {
	Code        int    `json:"code"`
	ErrorCode   int    `json:"err_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nats: jetstream api error %d: %s", e.Code, e.Description)
}

// Numeric err_code values the client branches on to raise typed sentinels
// instead of a bare *APIError.
const (
	JSErrCodeStreamNotFound   = 10059
	JSErrCodeStreamNameExist  = 10058
	JSErrCodeConsumerNotFound = 10014
	JSErrCodeMessageNotFound  = 10037
)

var (
	ErrJetStreamNotEnabled  = errors.New("nats: jetstream not enabled")
	ErrStreamNotFound       = errors.New("nats: stream not found")
	ErrStreamNameRequired   = errors.New("nats: stream name is required")
	ErrNoStreamResponse     = errors.New("nats: no response from stream")
	ErrConsumerNotFound     = errors.New("nats: consumer not found")
	ErrConsumerNameRequired = errors.New("nats: consumer name is required")
	ErrInvalidConsumerName  = errors.New("nats: invalid consumer name")
	ErrNoMatchingStream     = errors.New("nats: no stream matches subject")
	ErrInvalidJSAck         = errors.New("nats: invalid jetstream publish ack")
	ErrMsgNotBound          = errors.New("nats: message is not a jetstream message")
	ErrMsgNoReply           = errors.New("nats: message has no reply subject to ack on")
	ErrMsgAlreadyAckd       = errors.New("nats: message was already acknowledged")
	ErrNoMessages           = errors.New("nats: no messages available")
	ErrNoHeartbeat          = errors.New("nats: consumer missed its idle heartbeat")
	ErrConsumerHasActiveFetch = errors.New("nats: consumer already has an active Next or Messages call")
	ErrHandlerRequired      = errors.New("nats: message handler is required")
	ErrMessageNotFound      = errors.New("nats: message not found")

	ErrBadBucketName = errors.New("nats: invalid key-value bucket name")
	ErrBadKey        = errors.New("nats: invalid key")
	ErrKeyNotFound   = errors.New("nats: key not found")
	ErrKeyDeleted    = errors.New("nats: key was deleted")
)
