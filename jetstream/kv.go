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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-community/corenats"
)

// kvBucketStreamPrefix and kvSubjectPrefix are the stream-name and
// subject conventions the key/value facade (C10) lays over a plain
// stream: bucket "orders" becomes stream "KV_orders" with subjects
// under "$KV.orders.>".
const (
	kvBucketStreamPrefix = "KV_"
	kvSubjectPrefix      = "$KV."
)

// kvMaxDuplicateWindow is the ceiling JetStream places on a stream's
// de-duplication window; a bucket's TTL only narrows it, never widens it.
const kvMaxDuplicateWindow = 2 * time.Minute

// KV operation markers, carried as a header on the stored message rather
// than inferred from an empty body, so a deliberate empty value is never
// confused with a delete.
const (
	kvOpHeader   = "KV-Operation"
	kvOpDelete   = "DEL"
	kvOpPurge    = "PURGE"
	rollupHeader = "Nats-Rollup"
	rollupSub    = "sub"
)

// KeyValueConfig describes a new key/value bucket.
type KeyValueConfig struct {
	Bucket       string
	Description  string
	MaxValueSize int32
	History      uint8
	TTL          time.Duration
	MaxBytes     int64
	Storage      StorageType
	Replicas     int
}

// KeyValueOp classifies what produced a KeyValueEntry.
type KeyValueOp int

const (
	KeyValuePut KeyValueOp = iota
	KeyValueDelete
	KeyValuePurge
)

// KeyValueEntry is one key's current (or historical) value.
type KeyValueEntry struct {
	Bucket    string
	Key       string
	Value     []byte
	Revision  uint64
	Created   time.Time
	Operation KeyValueOp
}

// KeyValue is a handle to one bucket (C10).
type KeyValue struct {
	js     *JetStream
	bucket string
	stream string
	pre    string
}

func validateBucketName(name string) error {
	if name == "" {
		return ErrBadBucketName
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return ErrBadBucketName
		}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.ContainsAny(key, " \t\r\n>*") {
		return ErrBadKey
	}
	return nil
}

// CreateKeyValue provisions a new key/value bucket backed by a stream.
func (js *JetStream) CreateKeyValue(ctx context.Context, cfg KeyValueConfig) (*KeyValue, error) {
	if err := validateBucketName(cfg.Bucket); err != nil {
		return nil, err
	}
	history := int64(cfg.History)
	if history <= 0 {
		history = 1
	}
	// The duplicate window tracks max_age up to the server's 2-minute
	// ceiling on it, so short-TTL buckets still get de-duplication.
	dupWindow := cfg.TTL
	if dupWindow <= 0 || dupWindow > kvMaxDuplicateWindow {
		dupWindow = kvMaxDuplicateWindow
	}

	streamName := kvBucketStreamPrefix + cfg.Bucket
	scfg := StreamConfig{
		Name:              streamName,
		Description:       cfg.Description,
		Subjects:          []string{kvSubjectPrefix + cfg.Bucket + ".>"},
		MaxMsgsPerSubject: history,
		MaxBytes:          cfg.MaxBytes,
		MaxAge:            cfg.TTL,
		MaxMsgSize:        cfg.MaxValueSize,
		Storage:           cfg.Storage,
		Replicas:          cfg.Replicas,
		Discard:           DiscardNew,
		Duplicates:        dupWindow,
		AllowDirect:       true,
	}
	if _, err := js.CreateStream(ctx, scfg); err != nil {
		return nil, err
	}
	return &KeyValue{js: js, bucket: cfg.Bucket, stream: streamName, pre: kvSubjectPrefix + cfg.Bucket + "."}, nil
}

// KeyValue binds to an already-provisioned bucket.
func (js *JetStream) KeyValue(ctx context.Context, bucket string) (*KeyValue, error) {
	if err := validateBucketName(bucket); err != nil {
		return nil, err
	}
	streamName := kvBucketStreamPrefix + bucket
	if _, err := js.Stream(ctx, streamName); err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return nil, fmt.Errorf("nats: bucket %q not found", bucket)
		}
		return nil, err
	}
	return &KeyValue{js: js, bucket: bucket, stream: streamName, pre: kvSubjectPrefix + bucket + "."}, nil
}

// DeleteKeyValue removes a bucket and every key it holds.
func (js *JetStream) DeleteKeyValue(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return err
	}
	return js.DeleteStream(ctx, kvBucketStreamPrefix+bucket)
}

// Get returns the current value of key.
func (kv *KeyValue) Get(ctx context.Context, key string) (*KeyValueEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	raw, err := kv.js.GetLastMsg(ctx, kv.stream, kv.pre+key)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	entry := &KeyValueEntry{Bucket: kv.bucket, Key: key, Value: raw.Data, Revision: raw.Seq, Created: raw.Time}
	switch raw.Header.Get(kvOpHeader) {
	case kvOpDelete:
		entry.Operation = KeyValueDelete
		return entry, ErrKeyDeleted
	case kvOpPurge:
		entry.Operation = KeyValuePurge
		return entry, ErrKeyDeleted
	}
	return entry, nil
}

// Put stores value under key, returning the new revision.
func (kv *KeyValue) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	ack, err := kv.js.Publish(ctx, kv.pre+key, value)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Create stores value under key only if the key has no current value
// (no prior put, or the prior value was deleted/purged).
func (kv *KeyValue) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	ack, err := kv.js.Publish(ctx, kv.pre+key, value, ExpectLastSequence(0))
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Update stores value under key only if its current revision matches
// the expected one, the key/value analogue of JetStream's optimistic
// concurrency publish options.
func (kv *KeyValue) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	ack, err := kv.js.Publish(ctx, kv.pre+key, value, ExpectLastSequence(revision))
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Delete marks key as deleted; its history up to the configured bucket
// History is retained, unlike Purge.
func (kv *KeyValue) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m := &nats.Msg{Subject: kv.pre + key, Header: nats.Header{kvOpHeader: []string{kvOpDelete}}}
	_, err := kv.js.PublishMsg(ctx, m)
	return err
}

// Purge removes key and collapses its history to a single tombstone.
func (kv *KeyValue) Purge(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m := &nats.Msg{Subject: kv.pre + key, Header: nats.Header{
		kvOpHeader:   []string{kvOpPurge},
		rollupHeader: []string{rollupSub},
	}}
	_, err := kv.js.PublishMsg(ctx, m)
	return err
}

// History returns every value key has held, oldest first: a durable,
// explicit-ack consumer filtered to the key's subject, replayed instant
// rather than at original publish cadence, draining exactly the
// num_pending the consumer reported at creation before it is deleted.
func (kv *KeyValue) History(ctx context.Context, key string) ([]*KeyValueEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	consumer, err := kv.js.CreateConsumer(ctx, kv.stream, ConsumerConfig{
		Durable:           strings.TrimPrefix(nats.NewInbox(), nats.InboxPrefix),
		DeliverPolicy:     DeliverAll,
		AckPolicy:         AckExplicit,
		ReplayPolicy:      ReplayInstant,
		FilterSubject:     kv.pre + key,
		MaxWaiting:        1,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	defer consumer.Delete(context.Background())

	pending := consumer.CachedInfo().NumPending
	if pending == 0 {
		return nil, ErrKeyNotFound
	}

	entries := make([]*KeyValueEntry, 0, pending)
	for uint64(len(entries)) < pending {
		m, err := consumer.Next(ctx, WithAutoAck())
		if err != nil {
			return nil, err
		}
		meta, err := m.Metadata()
		if err != nil {
			return nil, err
		}
		entry := &KeyValueEntry{Bucket: kv.bucket, Key: key, Value: m.Data, Revision: meta.Stream, Created: meta.Timestamp}
		switch m.Header.Get(kvOpHeader) {
		case kvOpDelete:
			entry.Operation = KeyValueDelete
		case kvOpPurge:
			entry.Operation = KeyValuePurge
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Keys lists every key currently holding a live value in the bucket.
func (kv *KeyValue) Keys(ctx context.Context) ([]string, error) {
	consumer, err := kv.js.CreateConsumer(ctx, kv.stream, ConsumerConfig{
		DeliverPolicy:  DeliverLastPerSubject,
		FilterSubject:  kv.pre + ">",
		AckPolicy:      AckNone,
		MaxWaiting:     1,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	defer consumer.Delete(context.Background())

	var keys []string
	for {
		m, err := consumer.Next(ctx, WithNoWait())
		if err != nil {
			if errors.Is(err, ErrNoMessages) {
				break
			}
			return nil, err
		}
		if m.Header.Get(kvOpHeader) == kvOpDelete || m.Header.Get(kvOpHeader) == kvOpPurge {
			continue
		}
		keys = append(keys, strings.TrimPrefix(m.Subject, kv.pre))
	}
	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	return keys, nil
}
