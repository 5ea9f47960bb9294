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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-community/corenats"
)

// decodeBase64Headers decodes the base64-encoded raw header block
// STREAM.MSG.GET responses embed alongside a stored message's body.
func decodeBase64Headers(enc []byte) (nats.Header, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(enc)))
	n, err := base64.StdEncoding.Decode(raw, enc)
	if err != nil {
		return nil, err
	}
	return nats.DecodeHeaders(raw[:n])
}

// RetentionPolicy decides when the server discards the oldest message in
// a stream.
type RetentionPolicy int

const (
	LimitsPolicy RetentionPolicy = iota
	InterestPolicy
	WorkQueuePolicy
)

func (p RetentionPolicy) String() string {
	switch p {
	case InterestPolicy:
		return "interest"
	case WorkQueuePolicy:
		return "workqueue"
	default:
		return "limits"
	}
}

func (p RetentionPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *RetentionPolicy) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "interest":
		*p = InterestPolicy
	case "workqueue":
		*p = WorkQueuePolicy
	default:
		*p = LimitsPolicy
	}
	return nil
}

// DiscardPolicy decides what happens once a stream's limits are hit.
type DiscardPolicy int

const (
	DiscardOld DiscardPolicy = iota
	DiscardNew
)

func (p DiscardPolicy) String() string {
	if p == DiscardNew {
		return "new"
	}
	return "old"
}

func (p DiscardPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *DiscardPolicy) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	if str == "new" {
		*p = DiscardNew
	} else {
		*p = DiscardOld
	}
	return nil
}

// StorageType selects the stream's backing store.
type StorageType int

const (
	FileStorage StorageType = iota
	MemoryStorage
)

func (s StorageType) MarshalJSON() ([]byte, error) {
	switch s {
	case MemoryStorage:
		return json.Marshal("memory")
	default:
		return json.Marshal("file")
	}
}

func (s *StorageType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	if str == "memory" {
		*s = MemoryStorage
	} else {
		*s = FileStorage
	}
	return nil
}

// StreamConfig describes a stream's subjects, limits and storage (C8).
type StreamConfig struct {
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Subjects          []string        `json:"subjects,omitempty"`
	Retention         RetentionPolicy `json:"retention"`
	MaxConsumers      int             `json:"max_consumers"`
	MaxMsgs           int64           `json:"max_msgs"`
	MaxBytes          int64           `json:"max_bytes"`
	Discard           DiscardPolicy   `json:"discard"`
	MaxAge            time.Duration   `json:"max_age"`
	MaxMsgsPerSubject int64           `json:"max_msgs_per_subject"`
	MaxMsgSize        int32           `json:"max_msg_size,omitempty"`
	Storage           StorageType     `json:"storage"`
	Replicas          int             `json:"num_replicas"`
	NoAck             bool            `json:"no_ack,omitempty"`
	Duplicates        time.Duration   `json:"duplicate_window,omitempty"`
	AllowDirect       bool            `json:"allow_direct"`
}

// mergeStreamConfig overlays update's non-zero fields onto existing,
// leaving fields update didn't set at existing's current value (§ stream
// update validation). Name always comes from update, since it selects
// which stream STREAM.UPDATE targets. Enum and bool fields have no zero
// value that unambiguously means "unset", so they always take update's
// value, matching update's explicit Retention/Discard/Storage selection.
func mergeStreamConfig(existing, update StreamConfig) StreamConfig {
	merged := existing
	merged.Name = update.Name
	if update.Description != "" {
		merged.Description = update.Description
	}
	if update.Subjects != nil {
		merged.Subjects = update.Subjects
	}
	merged.Retention = update.Retention
	if update.MaxConsumers != 0 {
		merged.MaxConsumers = update.MaxConsumers
	}
	if update.MaxMsgs != 0 {
		merged.MaxMsgs = update.MaxMsgs
	}
	if update.MaxBytes != 0 {
		merged.MaxBytes = update.MaxBytes
	}
	merged.Discard = update.Discard
	if update.MaxAge != 0 {
		merged.MaxAge = update.MaxAge
	}
	if update.MaxMsgsPerSubject != 0 {
		merged.MaxMsgsPerSubject = update.MaxMsgsPerSubject
	}
	if update.MaxMsgSize != 0 {
		merged.MaxMsgSize = update.MaxMsgSize
	}
	merged.Storage = update.Storage
	if update.Replicas != 0 {
		merged.Replicas = update.Replicas
	}
	merged.NoAck = update.NoAck
	if update.Duplicates != 0 {
		merged.Duplicates = update.Duplicates
	}
	merged.AllowDirect = update.AllowDirect
	return merged
}

// StreamState reports a stream's current occupancy. Deleted/NumDeleted
// are only populated when Stream is called with WithDeletedDetails.
type StreamState struct {
	Msgs          uint64   `json:"messages"`
	Bytes         uint64   `json:"bytes"`
	FirstSeq      uint64   `json:"first_seq"`
	LastSeq       uint64   `json:"last_seq"`
	ConsumerCount int      `json:"consumer_count"`
	NumDeleted    int      `json:"num_deleted,omitempty"`
	Deleted       []uint64 `json:"deleted,omitempty"`
}

// StreamInfo is a stream's configuration plus its live state.
type StreamInfo struct {
	Config  StreamConfig `json:"config"`
	Created time.Time    `json:"created"`
	State   StreamState  `json:"state"`
}

type streamInfoResponse struct {
	apiResponse
	*StreamInfo
}

type streamNamesRequest struct {
	Subject string `json:"subject,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type streamNamesResponse struct {
	apiResponse
	Streams []string `json:"streams"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

type streamListResponse struct {
	apiResponse
	Streams []*StreamInfo `json:"streams"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
}

type streamDeleteResponse struct {
	apiResponse
	Success bool `json:"success,omitempty"`
}

// CreateStream creates a new stream, failing if one by that name already
// exists with a different configuration.
func (js *JetStream) CreateStream(ctx context.Context, cfg StreamConfig) (*StreamInfo, error) {
	if cfg.Name == "" {
		return nil, ErrStreamNameRequired
	}
	req, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var resp streamInfoResponse
	subj := fmt.Sprintf("STREAM.CREATE.%s", cfg.Name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, req); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.StreamInfo, nil
}

// UpdateStream loads the stream's current configuration and overlays cfg's
// non-zero fields onto it, so a caller only naming the fields it wants
// changed doesn't clobber the rest back to their zero values. Enum and
// bool fields (Retention, Discard, Storage, NoAck, AllowDirect) always
// take cfg's value, zero or not (see mergeStreamConfig).
func (js *JetStream) UpdateStream(ctx context.Context, cfg StreamConfig) (*StreamInfo, error) {
	if cfg.Name == "" {
		return nil, ErrStreamNameRequired
	}
	existing, err := js.Stream(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}
	merged := mergeStreamConfig(existing.Config, cfg)

	req, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var resp streamInfoResponse
	subj := fmt.Sprintf("STREAM.UPDATE.%s", cfg.Name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, req); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
			return nil, ErrStreamNotFound
		}
		return nil, resp.Error
	}
	return resp.StreamInfo, nil
}

type streamInfoRequest struct {
	DeletedDetails bool `json:"deleted_details,omitempty"`
}

// StreamInfoOpt configures one Stream lookup.
type StreamInfoOpt func(*streamInfoRequest)

// WithDeletedDetails asks the server to report the sequence numbers of
// messages no longer in the stream (deleted, purged, or aged out)
// alongside its state.
func WithDeletedDetails() StreamInfoOpt {
	return func(r *streamInfoRequest) { r.DeletedDetails = true }
}

// Stream fetches a stream's current configuration and state.
func (js *JetStream) Stream(ctx context.Context, name string, opts ...StreamInfoOpt) (*StreamInfo, error) {
	var r streamInfoRequest
	for _, opt := range opts {
		opt(&r)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var resp streamInfoResponse
	subj := fmt.Sprintf("STREAM.INFO.%s", name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, body); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
			return nil, ErrStreamNotFound
		}
		return nil, resp.Error
	}
	return resp.StreamInfo, nil
}

// DeleteStream removes a stream and every message it holds.
func (js *JetStream) DeleteStream(ctx context.Context, name string) error {
	var resp streamDeleteResponse
	subj := fmt.Sprintf("STREAM.DELETE.%s", name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeStreamNotFound {
			return ErrStreamNotFound
		}
		return resp.Error
	}
	return nil
}

type purgeRequest struct {
	Subject string `json:"filter,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Keep    uint64 `json:"keep,omitempty"`
}

// PurgeOpt narrows one PurgeStream call.
type PurgeOpt func(*purgeRequest)

// WithPurgeSubject restricts the purge to messages on subjects matching
// filter instead of the whole stream.
func WithPurgeSubject(filter string) PurgeOpt {
	return func(r *purgeRequest) { r.Subject = filter }
}

// WithPurgeSequence purges only messages older than seq.
func WithPurgeSequence(seq uint64) PurgeOpt {
	return func(r *purgeRequest) { r.Seq = seq }
}

// WithPurgeKeep retains the newest keep messages (matching Subject, if
// also set) instead of purging everything.
func WithPurgeKeep(keep uint64) PurgeOpt {
	return func(r *purgeRequest) { r.Keep = keep }
}

// PurgeStream removes a stream's messages while leaving the stream
// itself (and its consumers) intact. With no options, every message is
// removed; PurgeOpt narrows that to a subject, a sequence cutoff, or a
// trailing count to keep.
func (js *JetStream) PurgeStream(ctx context.Context, name string, opts ...PurgeOpt) error {
	var r purgeRequest
	for _, opt := range opts {
		opt(&r)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var resp streamDeleteResponse
	subj := fmt.Sprintf("STREAM.PURGE.%s", name)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, body); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// StreamNames lists stream names, optionally filtered to those whose
// subjects overlap subjectFilter. The server paginates its responses;
// StreamNames advances its offset by the names received and stops at
// resp.Total (or an empty page), across as many STREAM.NAMES calls as it
// takes to drain the full list.
func (js *JetStream) StreamNames(ctx context.Context, subjectFilter string) ([]string, error) {
	var names []string
	offset := 0
	for {
		req, err := json.Marshal(streamNamesRequest{Subject: subjectFilter, Offset: offset})
		if err != nil {
			return nil, err
		}
		var resp streamNamesResponse
		if _, err := js.apiRequestJSON(ctx, "STREAM.NAMES", &resp, req); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		names = append(names, resp.Streams...)
		offset += len(resp.Streams)
		if len(resp.Streams) == 0 || offset >= resp.Total {
			break
		}
	}
	return names, nil
}

// Streams lists full StreamInfo records, optionally filtered to those
// whose subjects overlap subjectFilter - the STREAM.LIST counterpart to
// StreamNames' name-only STREAM.NAMES, paginated the same way.
func (js *JetStream) Streams(ctx context.Context, subjectFilter string) ([]*StreamInfo, error) {
	var infos []*StreamInfo
	offset := 0
	for {
		req, err := json.Marshal(streamNamesRequest{Subject: subjectFilter, Offset: offset})
		if err != nil {
			return nil, err
		}
		var resp streamListResponse
		if _, err := js.apiRequestJSON(ctx, "STREAM.LIST", &resp, req); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		infos = append(infos, resp.Streams...)
		offset += len(resp.Streams)
		if len(resp.Streams) == 0 || offset >= resp.Total {
			break
		}
	}
	return infos, nil
}

// RawMessage is a single message retrieved directly from stream storage
// by sequence or by last-for-subject, bypassing any consumer.
type RawMessage struct {
	Subject string      `json:"subject"`
	Seq     uint64      `json:"seq"`
	Data    []byte      `json:"data"`
	Header  nats.Header `json:"-"`
	Time    time.Time   `json:"time"`
}

type storedMsg struct {
	Subject string    `json:"subject"`
	Seq     uint64    `json:"seq"`
	Data    []byte    `json:"data"`
	Hdrs    []byte    `json:"hdrs,omitempty"`
	Time    time.Time `json:"time"`
}

type msgGetRequest struct {
	Seq     uint64 `json:"seq,omitempty"`
	LastFor string `json:"last_by_subj,omitempty"`
}

type msgGetResponse struct {
	apiResponse
	Message *storedMsg `json:"message,omitempty"`
}

// GetMsg retrieves the message at seq directly from stream storage.
func (js *JetStream) GetMsg(ctx context.Context, stream string, seq uint64) (*RawMessage, error) {
	return js.getMsg(ctx, stream, msgGetRequest{Seq: seq})
}

// GetLastMsg retrieves the newest message on subject directly from
// stream storage - the primitive the key/value facade (C10) reads with.
func (js *JetStream) GetLastMsg(ctx context.Context, stream, subject string) (*RawMessage, error) {
	return js.getMsg(ctx, stream, msgGetRequest{LastFor: subject})
}

func (js *JetStream) getMsg(ctx context.Context, stream string, req msgGetRequest) (*RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp msgGetResponse
	subj := fmt.Sprintf("STREAM.MSG.GET.%s", stream)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, body); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.ErrorCode == JSErrCodeMessageNotFound {
			return nil, ErrMessageNotFound
		}
		return nil, resp.Error
	}
	if resp.Message == nil {
		return nil, ErrMessageNotFound
	}
	raw := &RawMessage{Subject: resp.Message.Subject, Seq: resp.Message.Seq, Data: resp.Message.Data, Time: resp.Message.Time}
	if len(resp.Message.Hdrs) > 0 {
		hdr, err := decodeBase64Headers(resp.Message.Hdrs)
		if err != nil {
			return nil, err
		}
		raw.Header = hdr
	}
	return raw, nil
}

type msgDeleteRequest struct {
	Seq     uint64 `json:"seq"`
	NoErase bool   `json:"no_erase,omitempty"`
}

// DeleteMsgOpt narrows one DeleteMsg call.
type DeleteMsgOpt func(*msgDeleteRequest)

// WithNoErase skips overwriting the deleted message's content on disk,
// only removing it from the stream's index - faster, but the data is
// still recoverable from the underlying storage until reclaimed.
func WithNoErase() DeleteMsgOpt {
	return func(r *msgDeleteRequest) { r.NoErase = true }
}

// DeleteMsg erases a single message from stream storage by sequence.
func (js *JetStream) DeleteMsg(ctx context.Context, stream string, seq uint64, opts ...DeleteMsgOpt) error {
	r := msgDeleteRequest{Seq: seq}
	for _, opt := range opts {
		opt(&r)
	}
	req, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var resp streamDeleteResponse
	subj := fmt.Sprintf("STREAM.MSG.DELETE.%s", stream)
	if _, err := js.apiRequestJSON(ctx, subj, &resp, req); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Headers placed on publishes to control de-duplication and optimistic
// concurrency (§ stream publish edge cases).
const (
	MsgIDHeader             = "Nats-Msg-Id"
	ExpectedStreamHeader    = "Nats-Expected-Stream"
	ExpectedLastSeqHeader   = "Nats-Expected-Last-Sequence"
	ExpectedLastMsgIDHeader = "Nats-Expected-Last-Msg-Id"
)

// PubAck confirms a message was stored, at which stream and sequence.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type pubAckResponse struct {
	apiResponse
	*PubAck
}

// PubOpt configures one JetStream-aware publish.
type PubOpt func(*pubOpts) error

type pubOpts struct {
	msgID            string
	expectStream     string
	expectLastMsgID  string
	expectLastSeq    uint64
	expectLastSeqSet bool
	timeout          time.Duration
}

// MsgID sets the de-duplication ID the server uses to drop a republish
// of the same message within the stream's duplicate window.
func MsgID(id string) PubOpt {
	return func(o *pubOpts) error { o.msgID = id; return nil }
}

// ExpectStream fails the publish unless it lands in the named stream.
func ExpectStream(stream string) PubOpt {
	return func(o *pubOpts) error { o.expectStream = stream; return nil }
}

// ExpectLastSequence fails the publish unless the stream's last sequence
// matches seq - seq == 0 asserts the stream holds no messages yet.
func ExpectLastSequence(seq uint64) PubOpt {
	return func(o *pubOpts) error { o.expectLastSeq, o.expectLastSeqSet = seq, true; return nil }
}

// ExpectLastMsgID fails the publish unless the last message's ID matches.
func ExpectLastMsgID(id string) PubOpt {
	return func(o *pubOpts) error { o.expectLastMsgID = id; return nil }
}

// PubTimeout overrides the handle's default wait for one publish call.
func PubTimeout(d time.Duration) PubOpt {
	return func(o *pubOpts) error { o.timeout = d; return nil }
}

// Publish stores data on subj and waits for the stream's acknowledgement.
func (js *JetStream) Publish(ctx context.Context, subj string, data []byte, opts ...PubOpt) (*PubAck, error) {
	return js.PublishMsg(ctx, &nats.Msg{Subject: subj, Data: data}, opts...)
}

// PublishMsg is Publish for a caller-built Msg, so headers set by the
// caller survive alongside the ones PubOpt adds.
func (js *JetStream) PublishMsg(ctx context.Context, m *nats.Msg, opts ...PubOpt) (*PubAck, error) {
	var o pubOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.msgID != "" || o.expectStream != "" || o.expectLastMsgID != "" || o.expectLastSeqSet {
		if m.Header == nil {
			m.Header = nats.Header{}
		}
		if o.msgID != "" {
			m.Header.Set(MsgIDHeader, o.msgID)
		}
		if o.expectStream != "" {
			m.Header.Set(ExpectedStreamHeader, o.expectStream)
		}
		if o.expectLastMsgID != "" {
			m.Header.Set(ExpectedLastMsgIDHeader, o.expectLastMsgID)
		}
		if o.expectLastSeqSet {
			m.Header.Set(ExpectedLastSeqHeader, strconv.FormatUint(o.expectLastSeq, 10))
		}
	}

	timeout := js.wait
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if o.timeout > 0 {
		timeout = o.timeout
	}

	resp, err := js.conn.RequestMsg(m, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoStreamResponse
		}
		return nil, err
	}
	var par pubAckResponse
	if err := json.Unmarshal(resp.Data, &par); err != nil {
		return nil, ErrInvalidJSAck
	}
	if par.Error != nil {
		return nil, par.Error
	}
	if par.PubAck == nil || par.PubAck.Stream == "" {
		return nil, ErrInvalidJSAck
	}
	return par.PubAck, nil
}
