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
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestParserNextBasicOps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want opKind
	}{
		{"ping", "PING\r\n", opPing},
		{"pong", "PONG\r\n", opPong},
		{"ok", "+OK\r\n", opOK},
		{"info", "INFO {\"server_id\":\"x\"}\r\n", opInfo},
		{"err", "-ERR 'Unknown Protocol Operation'\r\n", opErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser(strings.NewReader(tt.in))
			f, err := p.Next()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.kind != tt.want {
				t.Errorf("got kind %v, want %v", f.kind, tt.want)
			}
		})
	}
}

func TestParserNextSkipsBlankLines(t *testing.T) {
	p := newParser(strings.NewReader("\r\n\r\nPING\r\n"))
	f, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.kind != opPing {
		t.Errorf("got kind %v, want opPing", f.kind)
	}
}

func TestParserReadMsgNoReply(t *testing.T) {
	p := newParser(strings.NewReader("MSG foo.bar 1 5\r\nhello\r\n"))
	f, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.kind != opMsg || f.subject != "foo.bar" || f.sid != 1 || f.reply != "" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if string(f.payload) != "hello" {
		t.Errorf("got payload %q, want %q", f.payload, "hello")
	}
}

func TestParserReadMsgWithReply(t *testing.T) {
	p := newParser(strings.NewReader("MSG foo.bar 1 INBOX.1 5\r\nhello\r\n"))
	f, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.reply != "INBOX.1" {
		t.Errorf("got reply %q, want INBOX.1", f.reply)
	}
}

func TestParserReadHMsg(t *testing.T) {
	hdr := "NATS/1.0\r\nFoo: Bar\r\n\r\n"
	data := "hello"
	total := len(hdr) + len(data)
	raw := "HMSG foo.bar 1 " + strconv.Itoa(len(hdr)) + " " + strconv.Itoa(total) + "\r\n" + hdr + data + "\r\n"

	p := newParser(strings.NewReader(raw))
	f, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.kind != opHMsg {
		t.Fatalf("got kind %v, want opHMsg", f.kind)
	}
	if f.hdrLen != len(hdr) {
		t.Errorf("got hdrLen %d, want %d", f.hdrLen, len(hdr))
	}
	if string(f.payload[f.hdrLen:]) != data {
		t.Errorf("got body %q, want %q", f.payload[f.hdrLen:], data)
	}
}

func TestParserBadHeaderSizeRejected(t *testing.T) {
	p := newParser(strings.NewReader("HMSG foo 1 999 5\r\nhello\r\n"))
	if _, err := p.Next(); err == nil {
		t.Fatal("expected error for header size exceeding total size")
	}
}

func TestParserMalformedMsgArgs(t *testing.T) {
	p := newParser(strings.NewReader("MSG foo.bar\r\n"))
	if _, err := p.Next(); err == nil {
		t.Fatal("expected error for malformed MSG arguments")
	}
}

func TestParserMissingTrailingCRLF(t *testing.T) {
	p := newParser(strings.NewReader("MSG foo 1 5\r\nhelloXX"))
	if _, err := p.Next(); err == nil {
		t.Fatal("expected error for missing trailing CRLF")
	}
}

func TestParserControlLineTooLong(t *testing.T) {
	long := strings.Repeat("a", maxControlLineSize+10)
	p := newParser(strings.NewReader("PING " + long + "\r\n"))
	if _, err := p.Next(); err != ErrProtocolOverflow {
		t.Fatalf("got err %v, want ErrProtocolOverflow", err)
	}
}

func TestSerializePub(t *testing.T) {
	out := serializePub("foo", "", []byte("hi"))
	if !bytes.Equal(out, []byte("PUB foo 2\r\nhi\r\n")) {
		t.Errorf("got %q", out)
	}
}

func TestSerializePubWithReply(t *testing.T) {
	out := serializePub("foo", "bar", []byte("hi"))
	if !bytes.Equal(out, []byte("PUB foo bar 2\r\nhi\r\n")) {
		t.Errorf("got %q", out)
	}
}

func TestSerializeHPub(t *testing.T) {
	hdr := []byte("NATS/1.0\r\n\r\n")
	out := serializeHPub("foo", "", hdr, []byte("hi"))
	want := "HPUB foo " + strconv.Itoa(len(hdr)) + " " + strconv.Itoa(len(hdr)+2) + "\r\n" + string(hdr) + "hi\r\n"
	if string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestSerializeSubAndUnsub(t *testing.T) {
	if got := string(serializeSub("foo", "", 3)); got != "SUB foo 3\r\n" {
		t.Errorf("got %q", got)
	}
	if got := string(serializeSub("foo", "grp", 3)); got != "SUB foo grp 3\r\n" {
		t.Errorf("got %q", got)
	}
	if got := string(serializeUnsub(3, 0)); got != "UNSUB 3\r\n" {
		t.Errorf("got %q", got)
	}
	if got := string(serializeUnsub(3, 5)); got != "UNSUB 3 5\r\n" {
		t.Errorf("got %q", got)
	}
}
