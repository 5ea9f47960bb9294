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
	"testing"

	"github.com/nats-io/nkeys"
)

func TestResolveAuthPrecedence(t *testing.T) {
	sigCB := func(nonce []byte) ([]byte, error) { return nonce, nil }

	tests := []struct {
		name string
		opts Options
		urlUser, urlPass string
		want authVariant
	}{
		{
			name: "nkey wins over everything",
			opts: Options{SignatureCB: sigCB, Nkey: "UABC", User: "u", Password: "p", Token: "t"},
			want: authVariant{nkey: "UABC"},
		},
		{
			name: "user/pass wins over token and url",
			opts: Options{User: "u", Password: "p", Token: "t"},
			urlUser: "url-u", urlPass: "url-p",
			want: authVariant{user: "u", pass: "p"},
		},
		{
			name: "token wins over url-embedded credentials",
			opts: Options{Token: "t"},
			urlUser: "url-u", urlPass: "url-p",
			want: authVariant{tok: "t"},
		},
		{
			name:    "url user+pass used absent explicit options",
			opts:    Options{},
			urlUser: "url-u", urlPass: "url-p",
			want: authVariant{user: "url-u", pass: "url-p"},
		},
		{
			name:    "url user alone is treated as a token",
			opts:    Options{},
			urlUser: "url-u",
			want:    authVariant{tok: "url-u"},
		},
		{
			name: "nothing configured yields an empty variant",
			opts: Options{},
			want: authVariant{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveAuth(&tt.opts, tt.urlUser, tt.urlPass)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNkeyOptionFromSeed(t *testing.T) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantPub, err := kp.PublicKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pub, cb, err := NkeyOptionFromSeed(seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub != wantPub {
		t.Errorf("got public key %q, want %q", pub, wantPub)
	}

	sig, err := cb([]byte("nonce"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sig) == 0 {
		t.Error("expected a non-empty signature")
	}
}

func TestNkeyOptionFromSeedRejectsGarbage(t *testing.T) {
	if _, _, err := NkeyOptionFromSeed([]byte("not a seed")); err == nil {
		t.Fatal("expected an error for a malformed seed")
	}
}
