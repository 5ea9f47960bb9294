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

import "testing"

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{DISCONNECTED, "disconnected"},
		{CONNECTING, "connecting"},
		{CONNECTED, "connected"},
		{RECONNECTING, "reconnecting"},
		{DRAINING_SUBS, "draining_subs"},
		{DRAINING_PUBS, "draining_pubs"},
		{CLOSED, "closed"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestPublishRejectsInvalidSubject(t *testing.T) {
	nc := newTestConn()
	if err := nc.Publish("", []byte("x")); err != ErrBadSubject {
		t.Fatalf("got err %v, want ErrBadSubject", err)
	}
}

func TestPublishOnClosedConnection(t *testing.T) {
	nc := newTestConn()
	nc.status = CLOSED
	if err := nc.Publish("foo", []byte("x")); err != ErrConnectionClosed {
		t.Fatalf("got err %v, want ErrConnectionClosed", err)
	}
}

func TestPublishOnDrainingConnection(t *testing.T) {
	nc := newTestConn()
	nc.status = DRAINING_PUBS
	if err := nc.Publish("foo", []byte("x")); err != ErrConnectionDraining {
		t.Fatalf("got err %v, want ErrConnectionDraining", err)
	}
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	nc := newTestConn()
	nc.info.MaxPayload = 4
	if err := nc.Publish("foo", []byte("toolong")); err != ErrMaxPayload {
		t.Fatalf("got err %v, want ErrMaxPayload", err)
	}
}

func TestPublishMsgWithHeadersRequiresServerSupport(t *testing.T) {
	nc := newTestConn()
	nc.info.Headers = false
	m := &Msg{Subject: "foo", Header: Header{"X": []string{"Y"}}}
	if err := nc.PublishMsg(m); err == nil {
		t.Fatal("expected an error publishing headers to a server that doesn't support them")
	}
}

func TestIsConnectionClosedError(t *testing.T) {
	if !IsConnectionClosedError(ErrConnectionClosed) {
		t.Error("expected ErrConnectionClosed to be recognized")
	}
	if IsConnectionClosedError(ErrTimeout) {
		t.Error("did not expect ErrTimeout to be recognized as a closed-connection error")
	}
}

func TestConnectedUrlEmptyBeforeDial(t *testing.T) {
	nc := newTestConn()
	if got := nc.ConnectedUrl(); got != "" {
		t.Errorf("got %q, want empty before any successful dial", got)
	}
}

func TestIsConnectedReflectsStatus(t *testing.T) {
	nc := newTestConn()
	if !nc.IsConnected() {
		t.Error("expected a fresh test connection in CONNECTED status to report connected")
	}
	nc.status = RECONNECTING
	if nc.IsConnected() {
		t.Error("expected RECONNECTING to not report connected")
	}
}
