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
	"testing"
	"time"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"Orders_1-Bucket", false},
		{"", true},
		{"orders.bucket", true},
		{"orders bucket", true},
		{"orders/bucket", true},
	}
	for _, tt := range tests {
		err := validateBucketName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateBucketName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"orders.123", false},
		{"order_42", false},
		{"", true},
		{".leading", true},
		{"trailing.", true},
		{"has space", true},
		{"has\ttab", true},
		{"wild.>", true},
		{"wild.*", true},
	}
	for _, tt := range tests {
		err := validateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestCreateKeyValueRejectsBadBucketName(t *testing.T) {
	js := &JetStream{apiPrefix: DefaultAPIPrefix}
	if _, err := js.CreateKeyValue(nil, KeyValueConfig{Bucket: "bad bucket"}); err != ErrBadBucketName {
		t.Fatalf("got %v, want ErrBadBucketName", err)
	}
}

func TestKeyValueOpConstants(t *testing.T) {
	if kvOpDelete == kvOpPurge {
		t.Error("delete and purge tombstone markers must be distinct")
	}
	if kvOpHeader == rollupHeader {
		t.Error("operation header and rollup header must be distinct")
	}
}

func TestHistoryRejectsBadKey(t *testing.T) {
	kv := &KeyValue{js: &JetStream{apiPrefix: DefaultAPIPrefix}, bucket: "orders", stream: "KV_orders", pre: "$KV.orders."}
	if _, err := kv.History(nil, ""); err != ErrBadKey {
		t.Fatalf("got %v, want ErrBadKey", err)
	}
}

func TestKVMaxDuplicateWindowCeiling(t *testing.T) {
	if kvMaxDuplicateWindow != 2*time.Minute {
		t.Errorf("got %v, want 2m", kvMaxDuplicateWindow)
	}
}
