// Copyright 2021 The NATS Authors
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
	"bufio"
	"bytes"
	"errors"
	"net/textproto"
	"strconv"
	"strings"
)

// hdrLine is the fixed version preamble every header block starts with.
const hdrLine = "NATS/1.0"

var hdrPreEnd = len(hdrLine)

// ErrBadHeaderMsg is returned when a header block cannot be parsed.
var ErrBadHeaderMsg = errors.New("nats: malformed header message")

// Header represents NATS message headers, case-insensitively keyed the way
// net/textproto.MIMEHeader is. The wire format's fields are read with
// textproto's MIME header reader, while the inline-status form on the
// version line is parsed separately by parseStatusLine; the map shape
// mirrors textproto so callers get the canonicalization for free.
type Header map[string][]string

// Add appends a value for key.
func (h Header) Add(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	h[key] = append(h[key], value)
}

// Set replaces any values for key.
func (h Header) Set(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	h[key] = []string{value}
}

// Get returns the first value for key, or the empty string.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[textproto.CanonicalMIMEHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values for key.
func (h Header) Values(key string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Del removes key.
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// statusHdr carries an inline status form, e.g. "404 No Messages", which
// is a header block with no fields - just a three digit status and an
// optional description. NATS uses this for protocol-level signaling
// (no responders, no messages, max bytes exceeded, ...).
const statusHdr = "Status"
const descrHdr = "Description"

// DecodeHeaders parses a raw "NATS/1.0\r\n...\r\n\r\n" header block, the
// form JetStream embeds (base64-encoded) in stored-message API responses
// (C8 message retrieval).
func DecodeHeaders(buf []byte) (Header, error) {
	return decodeHeadersMsg(buf)
}

// decodeHeadersMsg parses a header block (without the trailing CRLFCRLF
// already stripped by the caller is NOT assumed; buf includes everything
// up to and including the blank line that terminates the block).
func decodeHeadersMsg(buf []byte) (Header, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(buf)))
	l, err := tp.ReadLine()
	if err != nil || len(l) < hdrPreEnd || l[:hdrPreEnd] != hdrLine {
		return nil, ErrBadHeaderMsg
	}

	mh, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, bufio.ErrFinalToken) {
		// An inline status line has no colon-separated fields, e.g.
		// "NATS/1.0 404 No Messages" followed directly by a blank line.
		// textproto.ReadMIMEHeader on that remainder simply yields an
		// empty header, so an error here means real malformed input.
		if _, _, statusErr := parseStatusLine(strings.TrimSpace(l[min(len(l), hdrPreEnd):])); statusErr != nil {
			return nil, ErrBadHeaderMsg
		}
	}

	h := Header(mh)
	if len(l) > hdrPreEnd {
		// Inline status info appended to the version line itself.
		rest := strings.TrimSpace(l[hdrPreEnd:])
		if rest != "" {
			code, desc, err := parseStatusLine(rest)
			if err != nil {
				return nil, ErrBadHeaderMsg
			}
			if h == nil {
				h = Header{}
			}
			h.Set(statusHdr, code)
			if desc != "" {
				h.Set(descrHdr, desc)
			}
		}
	}
	return h, nil
}

// parseStatusLine parses "<3-digit-status> <description>" returning the
// status as a string and the (possibly empty) description.
func parseStatusLine(s string) (code string, desc string, err error) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts[0]) != 3 {
		return "", "", ErrBadHeaderMsg
	}
	if _, convErr := strconv.Atoi(parts[0]); convErr != nil {
		return "", "", ErrBadHeaderMsg
	}
	code = parts[0]
	if len(parts) == 2 {
		desc = strings.TrimSpace(parts[1])
	}
	return code, desc, nil
}

// encodeHeaders serializes h as "NATS/1.0\r\nKey: Value\r\n...\r\n\r\n".
func encodeHeaders(h Header) []byte {
	var buf bytes.Buffer
	buf.WriteString(hdrLine)
	buf.WriteString(_CRLF_)
	for k, vals := range h {
		for _, v := range vals {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString(_CRLF_)
		}
	}
	buf.WriteString(_CRLF_)
	return buf.Bytes()
}

// Status returns the numeric status carried by an inline status header
// (e.g. 503 for no-responders, 404/408 for pull-consumer signaling), and
// whether one was present at all.
func (m *Msg) Status() (int, bool) {
	if m.Header == nil {
		return 0, false
	}
	s := m.Header.Get(statusHdr)
	if s == "" {
		return 0, false
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return code, true
}

// StatusDescription returns the human text accompanying Status, if any.
func (m *Msg) StatusDescription() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get(descrHdr)
}
