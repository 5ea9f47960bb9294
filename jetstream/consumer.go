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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-community/corenats"
)

// DeliverPolicy selects where in a stream a new consumer starts reading.
type DeliverPolicy int

const (
	DeliverAll DeliverPolicy = iota
	DeliverLast
	DeliverNew
	DeliverByStartSequence
	DeliverByStartTime
	DeliverLastPerSubject
)

func (p DeliverPolicy) String() string {
	switch p {
	case DeliverLast:
		return "last"
	case DeliverNew:
		return "new"
	case DeliverByStartSequence:
		return "by_start_sequence"
	case DeliverByStartTime:
		return "by_start_time"
	case DeliverLastPerSubject:
		return "last_per_subject"
	default:
		return "all"
	}
}

func (p DeliverPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *DeliverPolicy) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "last":
		*p = DeliverLast
	case "new":
		*p = DeliverNew
	case "by_start_sequence":
		*p = DeliverByStartSequence
	case "by_start_time":
		*p = DeliverByStartTime
	case "last_per_subject":
		*p = DeliverLastPerSubject
	default:
		*p = DeliverAll
	}
	return nil
}

// AckPolicy controls whether and how a consumer's messages must be acked.
type AckPolicy int

const (
	AckExplicit AckPolicy = iota
	AckNone
	AckAll
)

func (p AckPolicy) String() string {
	switch p {
	case AckNone:
		return "none"
	case AckAll:
		return "all"
	default:
		return "explicit"
	}
}

func (p AckPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *AckPolicy) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "none":
		*p = AckNone
	case "all":
		*p = AckAll
	default:
		*p = AckExplicit
	}
	return nil
}

// ReplayPolicy controls whether historical messages replay at their
// original publish cadence or as fast as the consumer can ack them.
type ReplayPolicy int

const (
	ReplayInstant ReplayPolicy = iota
	ReplayOriginal
)

func (p ReplayPolicy) String() string {
	if p == ReplayOriginal {
		return "original"
	}
	return "instant"
}

func (p ReplayPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *ReplayPolicy) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	if str == "original" {
		*p = ReplayOriginal
	} else {
		*p = ReplayInstant
	}
	return nil
}

// ConsumerConfig describes a pull consumer bound to one stream (C8/C9).
// DeliverSubject/DeliverGroup are accepted for API-compatibility with
// push consumers created by other clients, but this package only drives
// the pull workflow.
type ConsumerConfig struct {
	Durable           string        `json:"durable_name,omitempty"`
	Description       string        `json:"description,omitempty"`
	DeliverPolicy     DeliverPolicy `json:"deliver_policy"`
	OptStartSeq       uint64        `json:"opt_start_seq,omitempty"`
	OptStartTime      *time.Time    `json:"opt_start_time,omitempty"`
	AckPolicy         AckPolicy     `json:"ack_policy"`
	AckWait           time.Duration `json:"ack_wait,omitempty"`
	MaxDeliver        int           `json:"max_deliver,omitempty"`
	BackOff           []time.Duration `json:"backoff,omitempty"`
	FilterSubject     string        `json:"filter_subject,omitempty"`
	ReplayPolicy      ReplayPolicy  `json:"replay_policy"`
	RateLimit         uint64        `json:"rate_limit_bps,omitempty"`
	SampleFrequency   string        `json:"sample_freq,omitempty"`
	MaxWaiting        int           `json:"max_waiting,omitempty"`
	MaxAckPending     int           `json:"max_ack_pending,omitempty"`
	FlowControl       bool          `json:"flow_control,omitempty"`
	Heartbeat         time.Duration `json:"idle_heartbeat,omitempty"`
	HeadersOnly       bool          `json:"headers_only,omitempty"`
	MaxRequestBatch   int           `json:"max_batch,omitempty"`
	MaxRequestExpires time.Duration `json:"max_expires,omitempty"`
	DeliverSubject    string        `json:"deliver_subject,omitempty"`
	DeliverGroup      string        `json:"deliver_group,omitempty"`
	InactiveThreshold time.Duration `json:"inactive_threshold,omitempty"`
	Replicas          int           `json:"num_replicas,omitempty"`
	MemoryStorage     bool          `json:"mem_storage,omitempty"`
}

// SequencePair ties a consumer's own sequence to the underlying stream's.
type SequencePair struct {
	Consumer uint64 `json:"consumer_seq"`
	Stream   uint64 `json:"stream_seq"`
}

// ConsumerInfo is a consumer's configuration plus its live progress.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name"`
	Name           string         `json:"name"`
	Created        time.Time      `json:"created"`
	Config         ConsumerConfig `json:"config"`
	Delivered      SequencePair   `json:"delivered"`
	AckFloor       SequencePair   `json:"ack_floor"`
	NumAckPending  int            `json:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting"`
	NumPending     uint64         `json:"num_pending"`
}

type createConsumerRequest struct {
	Stream string          `json:"stream_name"`
	Config *ConsumerConfig `json:"config"`
}

type consumerInfoResponse struct {
	apiResponse
	*ConsumerInfo
}

type consumerDeleteResponse struct {
	apiResponse
	Success bool `json:"success,omitempty"`
}

type consumerNamesRequest struct {
	Offset int `json:"offset,omitempty"`
}

type consumerNamesResponse struct {
	apiResponse
	Consumers []string `json:"consumers"`
	Total     int      `json:"total"`
	Offset    int      `json:"offset"`
	Limit     int      `json:"limit"`
}

type consumerListResponse struct {
	apiResponse
	Consumers []*ConsumerInfo `json:"consumers"`
	Total     int             `json:"total"`
	Offset    int             `json:"offset"`
	Limit     int             `json:"limit"`
}

// Consumer fetches and acknowledges messages from one pull consumer
// bound to a stream (C9's iterator surface).
type Consumer interface {
	// Next retrieves a single message, waiting up to ctx's deadline.
	Next(ctx context.Context, opts ...PullOpt) (*Msg, error)
	// Messages continuously fetches batches and hands each message to
	// handler until ctx is done.
	Messages(ctx context.Context, handler MessageHandler, opts ...PullOpt) error
	// Info fetches this consumer's current state from the server.
	Info(ctx context.Context) (*ConsumerInfo, error)
	// CachedInfo returns the last ConsumerInfo observed, without a round
	// trip; it may be stale.
	CachedInfo() *ConsumerInfo
	// Delete removes the consumer from its stream.
	Delete(ctx context.Context) error
}

// PullOpt configures a pull request shared by Next and Messages.
type PullOpt func(*pullRequest) error

// MessageHandler is the callback Messages dispatches fetched messages
// (or a terminal fetch error) to.
type MessageHandler func(msg *Msg, err error)

type pullRequest struct {
	Expires   time.Duration `json:"expires,omitempty"`
	Batch     int           `json:"batch,omitempty"`
	MaxBytes  int           `json:"max_bytes,omitempty"`
	NoWait    bool          `json:"no_wait,omitempty"`
	Heartbeat time.Duration `json:"idle_heartbeat,omitempty"`
	autoAck   bool
}

// WithNoWait makes Next/Messages return immediately instead of waiting
// out the batch's expiry when nothing is pending.
func WithNoWait() PullOpt {
	return func(r *pullRequest) error { r.NoWait = true; return nil }
}

// WithBatchSize overrides the number of messages requested per fetch
// (Messages default: 100; Next is always 1 regardless of this option).
func WithBatchSize(n int) PullOpt {
	return func(r *pullRequest) error {
		if n < 1 {
			return fmt.Errorf("%w: batch size must be at least 1", nats.ErrInvalidArg)
		}
		r.Batch = n
		return nil
	}
}

// WithExpiry overrides how long the server holds a fetch request open
// waiting for matching messages.
func WithExpiry(d time.Duration) PullOpt {
	return func(r *pullRequest) error { r.Expires = d; return nil }
}

// WithHeartbeat asks the server for an idle heartbeat on long-lived
// fetches, so a silently dead server is detected instead of hanging.
func WithHeartbeat(d time.Duration) PullOpt {
	return func(r *pullRequest) error { r.Heartbeat = d; return nil }
}

// WithAutoAck acknowledges each fetched message just before it's handed to
// the caller, for consumers that don't need per-message ack control.
func WithAutoAck() PullOpt {
	return func(r *pullRequest) error { r.autoAck = true; return nil }
}

type pullConsumer struct {
	mu        sync.Mutex
	js        *JetStream
	stream    string
	name      string
	durable   bool
	info      *ConsumerInfo
	sub       *nats.Subscription
	heartbeat chan struct{}
	fetching  uint32
}

// CreateConsumer creates a new consumer (durable if cfg.Durable is set,
// ephemeral otherwise) on stream.
func (js *JetStream) CreateConsumer(ctx context.Context, stream string, cfg ConsumerConfig) (Consumer, error) {
	return upsertConsumer(ctx, js, stream, cfg)
}

// CreateOrUpdateConsumer creates a durable consumer, or - if one by that
// name already exists - verifies its configuration agrees with cfg on the
// fields compareConsumerConfig checks (§ open question: update semantics mirror the underlying API, which
// only accepts a resend of the same durable's configuration).
func (js *JetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg ConsumerConfig) (Consumer, error) {
	if cfg.Durable == "" {
		return upsertConsumer(ctx, js, stream, cfg)
	}
	existing, err := js.Consumer(ctx, stream, cfg.Durable)
	if err != nil {
		if errors.Is(err, ErrConsumerNotFound) {
			return upsertConsumer(ctx, js, stream, cfg)
		}
		return nil, err
	}
	info := existing.CachedInfo()
	if err := compareConsumerConfig(&info.Config, &cfg); err != nil {
		return nil, err
	}
	return existing, nil
}

// Consumer looks up an existing consumer by name.
func (js *JetStream) Consumer(ctx context.Context, stream, name string) (Consumer, error) {
	return getConsumer(ctx, js, stream, name)
}

// DeleteConsumer removes a consumer from stream.
func (js *JetStream) DeleteConsumer(ctx context.Context, stream, name string) error {
	return deleteConsumer(ctx, js, stream, name)
}

// ConsumerNames lists the names of every consumer bound to stream,
// following the server's offset pagination across as many CONSUMER.NAMES
// calls as it takes to drain the full list.
func (js *JetStream) ConsumerNames(ctx context.Context, stream string) ([]string, error) {
	var names []string
	offset := 0
	for {
		req, err := json.Marshal(consumerNamesRequest{Offset: offset})
		if err != nil {
			return nil, err
		}
		var resp consumerNamesResponse
		subj := fmt.Sprintf("CONSUMER.NAMES.%s", stream)
		if _, err := js.apiRequestJSON(ctx, subj, &resp, req); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
				return nil, ErrStreamNotFound
			}
			return nil, resp.Error
		}
		names = append(names, resp.Consumers...)
		offset += len(resp.Consumers)
		if len(resp.Consumers) == 0 || offset >= resp.Total {
			break
		}
	}
	return names, nil
}

// Consumers lists full ConsumerInfo records for every consumer bound to
// stream - the CONSUMER.LIST counterpart to ConsumerNames' name-only
// CONSUMER.NAMES, paginated the same way.
func (js *JetStream) Consumers(ctx context.Context, stream string) ([]*ConsumerInfo, error) {
	var infos []*ConsumerInfo
	offset := 0
	for {
		req, err := json.Marshal(consumerNamesRequest{Offset: offset})
		if err != nil {
			return nil, err
		}
		var resp consumerListResponse
		subj := fmt.Sprintf("CONSUMER.LIST.%s", stream)
		if _, err := js.apiRequestJSON(ctx, subj, &resp, req); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
				return nil, ErrStreamNotFound
			}
			return nil, resp.Error
		}
		infos = append(infos, resp.Consumers...)
		offset += len(resp.Consumers)
		if len(resp.Consumers) == 0 || offset >= resp.Total {
			break
		}
	}
	return infos, nil
}

// Next retrieves a single message, the building block Messages loops on
// (C9). ctx's deadline bounds the wait; a context without a deadline
// waits up to 30 seconds, and the pull request's expiry is derived from
// that wait.
func (p *pullConsumer) Next(ctx context.Context, opts ...PullOpt) (*Msg, error) {
	p.mu.Lock()
	if !atomic.CompareAndSwapUint32(&p.fetching, 0, 1) {
		p.mu.Unlock()
		return nil, ErrConsumerHasActiveFetch
	}
	p.mu.Unlock()
	defer atomic.StoreUint32(&p.fetching, 0)

	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	req := &pullRequest{Batch: 1}
	if timeout >= 20*time.Millisecond {
		req.Expires = timeout - 10*time.Millisecond
	}
	for _, opt := range opts {
		if err := opt(req); err != nil {
			return nil, err
		}
	}
	req.Batch = 1

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := make(chan *Msg, 1)
	if err := p.fetch(fetchCtx, *req, target); err != nil {
		if errors.Is(err, ErrNoMessages) || errors.Is(err, nats.ErrTimeout) {
			return nil, ErrNoMessages
		}
		return nil, err
	}
	select {
	case m := <-target:
		return m, nil
	default:
		return nil, ErrNoMessages
	}
}

// Messages continuously fetches batches in the background, handing each
// delivered message (or a terminal error) to handler, until ctx is done.
func (p *pullConsumer) Messages(ctx context.Context, handler MessageHandler, opts ...PullOpt) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	if !atomic.CompareAndSwapUint32(&p.fetching, 0, 1) {
		return ErrConsumerHasActiveFetch
	}

	req := &pullRequest{Batch: 100, Expires: 30 * time.Second}
	for _, opt := range opts {
		if err := opt(req); err != nil {
			atomic.StoreUint32(&p.fetching, 0)
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	pending := make(chan *Msg, 2*req.Batch)
	errs := make(chan error, 1)

	go func() {
		defer atomic.StoreUint32(&p.fetching, 0)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if len(pending) >= req.Batch {
				time.Sleep(time.Millisecond)
				continue
			}
			fetchCtx, fetchCancel := context.WithTimeout(ctx, req.Expires+10*time.Millisecond)
			err := p.fetch(fetchCtx, *req, pending)
			fetchCancel()
			if err != nil && !errors.Is(err, ErrNoMessages) && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.Canceled) {
				select {
				case errs <- err:
				default:
				}
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case m := <-pending:
				handler(m, nil)
			case err := <-errs:
				handler(nil, err)
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// fetch issues one CONSUMER.MSG.NEXT pull request and drains up to
// req.Batch messages from the consumer's reply subscription into target
// (grounded on the fetch loop of a pull-consumer's Next/Stream).
func (p *pullConsumer) fetch(ctx context.Context, req pullRequest, target chan<- *Msg) error {
	if req.Batch < 1 {
		return fmt.Errorf("%w: batch size must be at least 1", nats.ErrInvalidArg)
	}
	p.mu.Lock()
	if p.sub == nil {
		sub, err := p.js.conn.SubscribeSync(nats.NewInbox())
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.sub = sub
	}
	sub := p.sub
	stream, name := p.stream, p.name
	p.mu.Unlock()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	subj := apiSubj(p.js.apiPrefix, fmt.Sprintf("CONSUMER.MSG.NEXT.%s.%s", stream, name))
	if err := p.js.conn.PublishRequest(subj, sub.Subject, reqJSON); err != nil {
		return err
	}

	var count int
	for count < req.Batch {
		raw, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return err
		}
		deliverable, err := checkPullStatus(raw)
		if err != nil {
			return err
		}
		if !deliverable {
			continue
		}
		msg := p.js.toMsg(raw)
		if req.autoAck {
			if err := msg.Ack(); err != nil {
				return err
			}
		}
		target <- msg
		count++
	}
	return nil
}

// checkPullStatus classifies a reply to a pull request: a real message
// (true), or a protocol-level status the caller should swallow or raise
// as a sentinel (false) - 404/408 mean nothing was available, 100 is an
// idle heartbeat swallowed without error, anything else is unexpected
// (§ consumer edge cases).
func checkPullStatus(m *nats.Msg) (bool, error) {
	code, ok := m.Status()
	if !ok {
		return true, nil
	}
	switch code {
	case 404, 408:
		return false, ErrNoMessages
	case 100:
		return false, nil
	default:
		return false, fmt.Errorf("nats: unexpected pull status %d: %s", code, m.StatusDescription())
	}
}

func (p *pullConsumer) Info(ctx context.Context) (*ConsumerInfo, error) {
	p.mu.Lock()
	stream, name := p.stream, p.name
	p.mu.Unlock()

	var resp consumerInfoResponse
	subj := fmt.Sprintf("CONSUMER.INFO.%s.%s", stream, name)
	if _, err := p.js.apiRequestJSON(ctx, subj, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeConsumerNotFound {
			return nil, ErrConsumerNotFound
		}
		return nil, resp.Error
	}
	p.mu.Lock()
	p.info = resp.ConsumerInfo
	p.mu.Unlock()
	return resp.ConsumerInfo, nil
}

func (p *pullConsumer) CachedInfo() *ConsumerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *pullConsumer) Delete(ctx context.Context) error {
	p.mu.Lock()
	stream, name := p.stream, p.name
	p.mu.Unlock()
	return deleteConsumer(ctx, p.js, stream, name)
}

func upsertConsumer(ctx context.Context, js *JetStream, stream string, cfg ConsumerConfig) (Consumer, error) {
	req := createConsumerRequest{Stream: stream, Config: &cfg}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var subj string
	if cfg.Durable != "" {
		if err := validateDurableName(cfg.Durable); err != nil {
			return nil, err
		}
		subj = fmt.Sprintf("CONSUMER.DURABLE.CREATE.%s.%s", stream, cfg.Durable)
	} else {
		subj = fmt.Sprintf("CONSUMER.CREATE.%s", stream)
	}

	var resp consumerInfoResponse
	if _, err := js.apiRequestJSON(ctx, subj, &resp, reqJSON); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
			return nil, ErrStreamNotFound
		}
		return nil, resp.Error
	}

	return &pullConsumer{
		js:      js,
		stream:  stream,
		name:    resp.Name,
		durable: cfg.Durable != "",
		info:    resp.ConsumerInfo,
	}, nil
}

func getConsumer(ctx context.Context, js *JetStream, stream, name string) (Consumer, error) {
	if err := validateDurableName(name); err != nil {
		return nil, err
	}
	var resp consumerInfoResponse
	subj := fmt.Sprintf("CONSUMER.INFO.%s.%s", stream, name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeConsumerNotFound {
			return nil, ErrConsumerNotFound
		}
		return nil, resp.Error
	}

	return &pullConsumer{
		js:      js,
		stream:  stream,
		name:    name,
		durable: resp.Config.Durable != "",
		info:    resp.ConsumerInfo,
	}, nil
}

func deleteConsumer(ctx context.Context, js *JetStream, stream, consumer string) error {
	if err := validateDurableName(consumer); err != nil {
		return err
	}
	var resp consumerDeleteResponse
	subj := fmt.Sprintf("CONSUMER.DELETE.%s.%s", stream, consumer)
	if _, err := js.apiRequestJSON(ctx, subj, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeConsumerNotFound {
			return ErrConsumerNotFound
		}
		return resp.Error
	}
	return nil
}

func validateDurableName(dur string) error {
	if strings.Contains(dur, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidConsumerName, dur)
	}
	return nil
}

// compareConsumerConfig reports the first checked field where a requested
// update (u) diverges from the server's current configuration (s), since JetStream
// rejects an incompatible overwrite of a durable rather than merging it.
func compareConsumerConfig(s, u *ConsumerConfig) error {
	fail := func(field string, want, got interface{}) error {
		return fmt.Errorf("nats: consumer update requests %s %v, but existing consumer has %v", field, want, got)
	}
	if u.DeliverPolicy != s.DeliverPolicy {
		return fail("deliver policy", u.DeliverPolicy, s.DeliverPolicy)
	}
	if u.AckPolicy != s.AckPolicy {
		return fail("ack policy", u.AckPolicy, s.AckPolicy)
	}
	if u.AckWait != 0 && u.AckWait != s.AckWait {
		return fail("ack wait", u.AckWait, s.AckWait)
	}
	if u.MaxDeliver != 0 && u.MaxDeliver != s.MaxDeliver {
		return fail("max deliver", u.MaxDeliver, s.MaxDeliver)
	}
	if u.FilterSubject != s.FilterSubject {
		return fail("filter subject", u.FilterSubject, s.FilterSubject)
	}
	if u.ReplayPolicy != s.ReplayPolicy {
		return fail("replay policy", u.ReplayPolicy, s.ReplayPolicy)
	}
	if u.MaxWaiting != 0 && u.MaxWaiting != s.MaxWaiting {
		return fail("max waiting", u.MaxWaiting, s.MaxWaiting)
	}
	if u.MaxAckPending != 0 && u.MaxAckPending != s.MaxAckPending {
		return fail("max ack pending", u.MaxAckPending, s.MaxAckPending)
	}
	return nil
}

// Msg wraps a delivered JetStream message with ack/metadata operations
// (C9). It is a distinct type from nats.Msg rather than added methods on
// it, so the transport-level Msg stays free of JetStream's acking
// protocol.
type Msg struct {
	*nats.Msg

	mu   sync.Mutex
	js   *JetStream
	ackd bool
}

func (js *JetStream) toMsg(m *nats.Msg) *Msg {
	return &Msg{Msg: m, js: js}
}

var (
	ackAck      = []byte("+ACK")
	ackNak      = []byte("-NAK")
	ackProgress = []byte("+WPI")
	ackTerm     = []byte("+TERM")
)

// Ack acknowledges successful processing of the message.
func (m *Msg) Ack() error { return m.ackReply(ackAck, false) }

// AckSync is Ack, but waits for the server's acknowledgement of the ack
// itself before returning.
func (m *Msg) AckSync() error { return m.ackReply(ackAck, true) }

// Nak signals the message was not processed and should be redelivered.
func (m *Msg) Nak() error { return m.ackReply(ackNak, false) }

// Term signals the message must never be redelivered, regardless of
// MaxDeliver.
func (m *Msg) Term() error { return m.ackReply(ackTerm, false) }

// InProgress resets the consumer's redelivery timer without acking,
// for handlers that need more than AckWait to finish processing.
func (m *Msg) InProgress() error { return m.ackReply(ackProgress, false) }

func (m *Msg) ackReply(ackType []byte, sync bool) error {
	m.mu.Lock()
	if m.Msg.Reply == "" {
		m.mu.Unlock()
		return ErrMsgNoReply
	}
	if m.ackd {
		m.mu.Unlock()
		return ErrMsgAlreadyAckd
	}
	reply := m.Msg.Reply
	if !sync {
		m.ackd = true
	}
	m.mu.Unlock()

	if sync {
		_, err := m.js.conn.Request(reply, ackType, m.js.wait)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.ackd = true
		m.mu.Unlock()
		return nil
	}
	return m.js.conn.Publish(reply, ackType)
}

// MsgMetadata decodes the sequence/delivery bookkeeping JetStream embeds
// in every delivered message's reply subject.
type MsgMetadata struct {
	Consumer  uint64
	Stream    uint64
	Delivered uint64
	Pending   uint64
	Timestamp time.Time
}

// Metadata parses the message's ack-reply subject for delivery and
// sequence bookkeeping (§ open question: an unparseable ack subject
// fails fast with ErrMsgNotBound rather than returning a zero value).
func (m *Msg) Metadata() (*MsgMetadata, error) {
	return parseAckReplySubject(m.Msg.Reply)
}

func parseAckReplySubject(subject string) (*MsgMetadata, error) {
	const expectedTokens = 9
	tokens := strings.Split(subject, ".")
	if len(tokens) != expectedTokens || tokens[0] != "$JS" || tokens[1] != "ACK" {
		return nil, ErrMsgNotBound
	}
	delivered, err1 := strconv.ParseUint(tokens[4], 10, 64)
	streamSeq, err2 := strconv.ParseUint(tokens[5], 10, 64)
	consumerSeq, err3 := strconv.ParseUint(tokens[6], 10, 64)
	tsNano, err4 := strconv.ParseInt(tokens[7], 10, 64)
	pending, err5 := strconv.ParseUint(tokens[8], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, ErrMsgNotBound
	}
	return &MsgMetadata{
		Delivered: delivered,
		Stream:    streamSeq,
		Consumer:  consumerSeq,
		Timestamp: time.Unix(0, tsNano),
		Pending:   pending,
	}, nil
}
