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

// Package nats implements the transport core of an asynchronous client for
// a NATS-family publish/subscribe messaging server: protocol framing, a
// cluster-aware server pool, connection management with reconnect and
// subscription replay, a subscription registry with backpressure, and a
// request/reply engine. The nats/jetstream subpackage layers a persistence
// API on top of it.
package nats

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Version is the protocol version this client reports in CONNECT.
const Version = "1.0.0"

// clientProtoInfo is the `protocol` field value signaling support for the
// INFO-based server pool/gossip protocol.
const clientProtoInfo = 1

// Status is the connection's position in the state machine of §4.3.
type Status int

const (
	DISCONNECTED Status = iota
	CONNECTING
	CONNECTED
	RECONNECTING
	DRAINING_SUBS
	DRAINING_PUBS
	CLOSED
)

func (s Status) String() string {
	switch s {
	case DISCONNECTED:
		return "disconnected"
	case CONNECTING:
		return "connecting"
	case CONNECTED:
		return "connected"
	case RECONNECTING:
		return "reconnecting"
	case DRAINING_SUBS:
		return "draining_subs"
	case DRAINING_PUBS:
		return "draining_pubs"
	case CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats tracks message/byte counters and reconnect count (§3).
type Stats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

// serverInfo is the latest INFO record advertised by the server (§3).
type serverInfo struct {
	MaxPayload   int64    `json:"max_payload"`
	ClientID     uint64   `json:"client_id"`
	TLSRequired  bool     `json:"tls_required"`
	Headers      bool     `json:"headers"`
	AuthRequired bool     `json:"auth_required"`
	Nonce        string   `json:"nonce"`
	ConnectURLs  []string `json:"connect_urls"`
}

// connectInfo is the CONNECT JSON body (§4.3).
type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLS          bool   `json:"tls_required,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Name         string `json:"name,omitempty"`
	Echo         bool   `json:"echo"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	Nkey         string `json:"nkey,omitempty"`
	Sig          string `json:"sig,omitempty"`
	JWT          string `json:"jwt,omitempty"`
}

// Msg is a message published or delivered over the connection (§3).
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Header  Header
	Sub     *Subscription
}

// Conn is a client connection to a NATS-family server (§3 "Connection
// state", C3). A single Conn is driven by goroutines coordinated through
// mu, the permitted translation of the spec's single cooperative loop
// (§9 design note): one reader, one writer/flusher, one ping ticker, and
// one delivery pump per callback subscription.
type Conn struct {
	Stats

	mu     sync.Mutex
	opts   Options
	status Status
	err    error

	pool *serverPool
	cur  *srv

	conn   net.Conn
	bw     *bufio.Writer
	parser *parser

	// pending backs bw with an in-memory buffer while RECONNECTING, so
	// writes issued by callers during that window are not lost (§4.3).
	pending *bytes.Buffer

	info serverInfo

	ssid          uint64
	subs          map[uint64]*Subscription
	subDispatchWG sync.WaitGroup

	pongs []chan error
	fch   chan struct{}

	respMux *respMux

	// lastDialURL is the most recent candidate's URL, consulted for
	// URL-embedded credentials (§4.3 auth precedence).
	lastDialURL *url.URL

	closedCh chan struct{}
}

// Connect dials the first reachable server from opts (or DefaultURL) and
// completes the handshake (§4.2, §4.3).
func Connect(url string, options ...Option) (*Conn, error) {
	opts := defaultOptions()
	opts.Servers = []string{url}
	for _, o := range options {
		if err := o(&opts); err != nil {
			return nil, err
		}
	}
	return opts.Connect()
}

// Connect dials using a fully assembled Options value.
func (o Options) Connect() (*Conn, error) {
	if len(o.Servers) == 0 {
		o.Servers = []string{DefaultURL}
	}
	pool, err := newServerPool(o.Servers, o.NoRandomize)
	if err != nil {
		return nil, err
	}
	nc := &Conn{
		opts:     o,
		pool:     pool,
		subs:     make(map[uint64]*Subscription),
		fch:      make(chan struct{}, 1),
		closedCh: make(chan struct{}),
		status:   DISCONNECTED,
	}
	nc.respMux = newRespMux(nc)
	if err := nc.connect(); err != nil {
		return nil, err
	}
	return nc, nil
}

// connect implements the server-pool dial loop of §4.2.
func (nc *Conn) connect() error {
	nc.mu.Lock()
	nc.status = CONNECTING
	nc.mu.Unlock()

	var lastErr error
	for {
		s, err := nc.pool.next(nc.opts.MaxReconnect)
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return ErrNoServers
		}
		waitForReconnectSlot(s, nc.opts.ReconnectWait)
		s.recordAttempt()

		if err := nc.dial(s); err != nil {
			lastErr = err
			if nc.opts.AsyncErrorCB != nil {
				nc.opts.AsyncErrorCB(nc, nil, err)
			}
			continue
		}

		nc.mu.Lock()
		nc.cur = s
		nc.status = CONNECTED
		nc.mu.Unlock()

		go nc.readLoop()
		go nc.flusher()
		go nc.pingLoop()
		return nil
	}
}

// dial performs one connect attempt against s: TCP dial, INFO read, TLS
// upgrade if required, then CONNECT/PING handshake (§4.2, §4.3).
func (nc *Conn) dial(s *srv) error {
	host := s.url.Host
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, DefaultPort)
	}
	conn, err := net.DialTimeout("tcp", host, nc.opts.Timeout)
	if err != nil {
		return err
	}

	nc.mu.Lock()
	nc.conn = conn
	nc.bw = bufio.NewWriterSize(conn, defaultBufSize)
	nc.parser = newParser(conn)
	nc.lastDialURL = s.url
	nc.mu.Unlock()

	if err := nc.readInfoWithTimeout(); err != nil {
		conn.Close()
		return err
	}

	if nc.info.TLSRequired || s.url.Scheme == "tls" {
		if err := nc.upgradeTLS(s); err != nil {
			conn.Close()
			return err
		}
	}

	if err := nc.sendConnectAndHandshake(); err != nil {
		conn.Close()
		return err
	}
	return nil
}

const defaultBufSize = 32768

// readInfoWithTimeout reads the mandatory first INFO line (§4.3).
func (nc *Conn) readInfoWithTimeout() error {
	nc.mu.Lock()
	conn := nc.conn
	nc.mu.Unlock()
	conn.SetReadDeadline(time.Now().Add(nc.opts.Timeout))
	defer conn.SetReadDeadline(time.Time{})

	f, err := nc.parser.Next()
	if err != nil {
		return ErrConnectionTimeout
	}
	if f.kind != opInfo {
		return fmt.Errorf("%w: INFO not received", ErrProtocol)
	}
	return nc.processInfo(f.raw)
}

func (nc *Conn) processInfo(raw []byte) error {
	var info serverInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return err
	}
	nc.mu.Lock()
	firstInfo := nc.info.MaxPayload == 0
	nc.info = info
	added := false
	if len(info.ConnectURLs) > 0 {
		added = nc.pool.addGossipedURLs(info.ConnectURLs, nc.opts.NoRandomize)
	}
	cb := nc.opts.DiscoveredServersCB
	nc.mu.Unlock()
	if added && !firstInfo && cb != nil {
		cb(nc)
	}
	return nil
}

// upgradeTLS wraps the raw TCP connection with TLS, verifying against the
// hostname precedence of §4.2.
func (nc *Conn) upgradeTLS(s *srv) error {
	nc.mu.Lock()
	conn := nc.conn
	cfg := nc.opts.TLSConfig
	nc.mu.Unlock()

	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = tlsHostname(s, nc.opts.TLSHostname)
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	nc.mu.Lock()
	nc.conn = tlsConn
	nc.bw = bufio.NewWriterSize(tlsConn, defaultBufSize)
	nc.parser = newParser(tlsConn)
	nc.mu.Unlock()
	return nil
}

// sendConnectAndHandshake sends CONNECT+PING and waits for the server's
// acknowledgement, accepting either handshake order under verbose mode
// per §9 Open Question 1.
func (nc *Conn) sendConnectAndHandshake() error {
	nc.mu.Lock()
	info := nc.info
	var urlUser, urlPass string
	if nc.lastDialURL != nil && nc.lastDialURL.User != nil {
		urlUser = nc.lastDialURL.User.Username()
		urlPass, _ = nc.lastDialURL.User.Password()
	}
	nc.mu.Unlock()

	var ci connectInfo
	ci.Verbose = nc.opts.Verbose
	ci.Pedantic = nc.opts.Pedantic
	ci.Lang = "go"
	ci.Version = Version
	ci.Protocol = clientProtoInfo
	ci.Name = nc.opts.Name
	ci.Echo = !nc.opts.NoEcho
	ci.Headers = true
	ci.NoResponders = true

	if info.AuthRequired {
		av := resolveAuth(&nc.opts, urlUser, urlPass)
		switch {
		case av.nkey != _EMPTY_ && nc.opts.SignatureCB != nil:
			sig, err := nc.opts.SignatureCB([]byte(info.Nonce))
			if err != nil {
				return err
			}
			ci.Nkey = av.nkey
			ci.Sig = base64URLEncode(sig)
			if nc.opts.UserJWTCB != nil {
				jwt, err := nc.opts.UserJWTCB()
				if err != nil {
					return err
				}
				ci.JWT = jwt
			}
		case av.user != _EMPTY_:
			ci.User, ci.Pass = av.user, av.pass
		case av.tok != _EMPTY_:
			ci.AuthToken = av.tok
		}
	}

	body, err := json.Marshal(ci)
	if err != nil {
		return err
	}

	nc.mu.Lock()
	nc.bw.Write(serializeConnect(body))
	nc.bw.WriteString(pingProto)
	if err := nc.bw.Flush(); err != nil {
		nc.mu.Unlock()
		return err
	}
	nc.mu.Unlock()

	// Read frames until PONG, accepting an optional leading +OK; any -ERR
	// is fatal to the handshake.
	for {
		f, err := nc.parser.Next()
		if err != nil {
			return err
		}
		switch f.kind {
		case opOK:
			continue
		case opPong:
			return nil
		case opErr:
			return fmt.Errorf("%w: %s", ErrAuthorization, string(f.raw))
		case opInfo:
			nc.processInfo(f.raw)
			continue
		default:
			return fmt.Errorf("%w: unexpected frame during handshake", ErrProtocol)
		}
	}
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// readLoop owns the read half of the connection exclusively (§5).
func (nc *Conn) readLoop() {
	for {
		nc.mu.Lock()
		if nc.isClosedLocked() || nc.isReconnectingLocked() {
			nc.mu.Unlock()
			return
		}
		p := nc.parser
		nc.mu.Unlock()

		f, err := p.Next()
		if err != nil {
			nc.handleReadError(err)
			return
		}
		nc.dispatchFrame(f)
	}
}

func (nc *Conn) dispatchFrame(f *frame) {
	switch f.kind {
	case opMsg, opHMsg:
		nc.processInboundMsg(f)
	case opPing:
		nc.sendProto(pongProto)
	case opPong:
		nc.completeOldestPong(nil)
	case opInfo:
		nc.processInfo(f.raw)
	case opErr:
		nc.handleServerErr(string(f.raw))
	case opOK:
		// no-op
	}
}

func (nc *Conn) processInboundMsg(f *frame) {
	nc.mu.Lock()
	nc.InMsgs++
	nc.InBytes += uint64(len(f.payload))
	nc.mu.Unlock()

	var hdr Header
	payload := f.payload
	if f.kind == opHMsg {
		hdrBlock := f.payload[:f.hdrLen]
		payload = f.payload[f.hdrLen:]
		var err error
		hdr, err = decodeHeadersMsg(hdrBlock)
		if err != nil {
			nc.reportAsyncError(nil, err)
			return
		}
	}
	nc.deliverInbound(f.sid, f.subject, f.reply, hdr, payload)
}

func (nc *Conn) handleServerErr(text string) {
	err := fmt.Errorf("nats: %s", text)
	nc.mu.Lock()
	nc.err = err
	nc.mu.Unlock()
	nc.reportAsyncError(nil, err)
	nc.Close()
}

// handleReadError implements §4.3/§7 propagation: reconnect if allowed and
// currently connected, otherwise close.
func (nc *Conn) handleReadError(err error) {
	nc.mu.Lock()
	if nc.isClosedLocked() || nc.isReconnectingLocked() {
		nc.mu.Unlock()
		return
	}
	allow := nc.opts.AllowReconnect
	connected := nc.status == CONNECTED
	nc.mu.Unlock()

	if allow && connected {
		nc.beginReconnect()
	} else {
		nc.mu.Lock()
		nc.err = err
		nc.mu.Unlock()
		nc.Close()
	}
}

// flusher batches and writes queued bytes (§4.3 write path).
func (nc *Conn) flusher() {
	for range nc.fch {
		nc.mu.Lock()
		if nc.isClosedLocked() || nc.isReconnectingLocked() || nc.bw == nil {
			nc.mu.Unlock()
			continue
		}
		if nc.bw.Buffered() > 0 {
			nc.err = nc.bw.Flush()
		}
		done := nc.status == CLOSED
		nc.mu.Unlock()
		if done {
			return
		}
	}
}

// pingLoop sends periodic keepalive pings and treats an excess of
// outstanding pings as a stale connection (§4.3).
func (nc *Conn) pingLoop() {
	t := time.NewTicker(nc.opts.PingInterval)
	defer t.Stop()
	for range t.C {
		nc.mu.Lock()
		if nc.isClosedLocked() || nc.isReconnectingLocked() {
			nc.mu.Unlock()
			return
		}
		if len(nc.pongs) >= nc.opts.MaxPingsOut {
			nc.mu.Unlock()
			nc.handleReadError(ErrStaleConnection)
			return
		}
		ch := make(chan error, 1)
		nc.pongs = append(nc.pongs, ch)
		nc.enqueueProto([]byte(pingProto))
		nc.mu.Unlock()
	}
}

func (nc *Conn) completeOldestPong(err error) {
	nc.mu.Lock()
	if len(nc.pongs) == 0 {
		nc.mu.Unlock()
		return
	}
	ch := nc.pongs[0]
	nc.pongs = nc.pongs[1:]
	nc.mu.Unlock()
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

func (nc *Conn) sendProto(proto string) {
	nc.mu.Lock()
	nc.enqueueProto([]byte(proto))
	nc.mu.Unlock()
}

// enqueueProto writes to bw (or, while reconnecting, the pending buffer)
// and kicks the flusher. Caller holds nc.mu.
func (nc *Conn) enqueueProto(b []byte) {
	if nc.pending != nil {
		nc.pending.Write(b)
		return
	}
	if nc.bw != nil {
		nc.bw.Write(b)
		nc.kickFlusherLocked()
	}
}

func (nc *Conn) kickFlusherLocked() {
	select {
	case nc.fch <- struct{}{}:
	default:
	}
}

func (nc *Conn) isClosedLocked() bool      { return nc.status == CLOSED }
func (nc *Conn) isReconnectingLocked() bool { return nc.status == RECONNECTING }
func (nc *Conn) isDrainingLocked() bool {
	return nc.status == DRAINING_SUBS || nc.status == DRAINING_PUBS
}

func (nc *Conn) reportAsyncError(sub *Subscription, err error) {
	nc.mu.Lock()
	cb := nc.opts.AsyncErrorCB
	nc.mu.Unlock()
	if cb != nil {
		go cb(nc, sub, err)
	}
}

// --- publish path ---

// publish writes PUB/HPUB, enforcing MaxPayload before touching the wire
// (§8 boundary case).
func (nc *Conn) publish(subj, reply string, hdr Header, data []byte) error {
	if err := validateSubject(subj); err != nil {
		return err
	}
	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	if nc.isDrainingLocked() {
		nc.mu.Unlock()
		return ErrConnectionDraining
	}
	maxPayload := nc.info.MaxPayload
	headersOK := nc.info.Headers
	nc.mu.Unlock()

	if maxPayload > 0 && int64(len(data)) > maxPayload {
		return ErrMaxPayload
	}

	var out []byte
	if len(hdr) > 0 {
		if !headersOK {
			return errors.New("nats: server does not support headers")
		}
		out = serializeHPub(subj, reply, encodeHeaders(hdr), data)
	} else {
		out = serializePub(subj, reply, data)
	}

	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	nc.enqueueProto(out)
	nc.OutMsgs++
	nc.OutBytes += uint64(len(data))
	nc.mu.Unlock()
	return nil
}

// Publish publishes data to subj.
func (nc *Conn) Publish(subj string, data []byte) error {
	return nc.publish(subj, _EMPTY_, nil, data)
}

// PublishMsg publishes m, including any headers.
func (nc *Conn) PublishMsg(m *Msg) error {
	return nc.publish(m.Subject, m.Reply, m.Header, m.Data)
}

// PublishRequest publishes data to subj with reply set, without waiting
// for a response (the building block Request() and the JetStream layer
// use for correlated publishes).
func (nc *Conn) PublishRequest(subj, reply string, data []byte) error {
	return nc.publish(subj, reply, nil, data)
}

// Flush round-trips a PING/PONG to confirm everything queued has reached
// the server (§4.3).
func (nc *Conn) Flush() error {
	return nc.FlushTimeout(10 * time.Second)
}

// FlushTimeout is Flush bounded by timeout.
func (nc *Conn) FlushTimeout(timeout time.Duration) error {
	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	ch := make(chan error, 1)
	nc.pongs = append(nc.pongs, ch)
	nc.enqueueProto([]byte(pingProto))
	nc.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-ch:
		return err
	case <-t.C:
		return ErrTimeout
	}
}

// LastError reports the last error observed on the connection.
func (nc *Conn) LastError() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.err
}

// ConnectedUrl returns the URL of the currently connected server, if any.
func (nc *Conn) ConnectedUrl() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.cur == nil {
		return _EMPTY_
	}
	return nc.cur.url.String()
}

// MaxPayload returns the server-advertised maximum payload size.
func (nc *Conn) MaxPayload() int64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.info.MaxPayload
}

// HeadersSupported reports whether the connected server supports headers.
func (nc *Conn) HeadersSupported() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.info.Headers
}

// Status returns the current connection state.
func (nc *Conn) Status() Status {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.status
}

// IsConnected reports whether the connection is currently usable.
func (nc *Conn) IsConnected() bool {
	return nc.Status() == CONNECTED
}

// --- reconnect (§4.3) ---

func (nc *Conn) beginReconnect() {
	nc.mu.Lock()
	if nc.isClosedLocked() || nc.isReconnectingLocked() {
		nc.mu.Unlock()
		return
	}
	nc.status = RECONNECTING
	if nc.conn != nil {
		nc.conn.Close()
	}
	nc.pending = &bytes.Buffer{}
	if nc.bw != nil {
		nc.bw = bufio.NewWriterSize(nc.pending, nc.opts.PendingSize)
	}
	cb := nc.opts.DisconnectedCB
	nc.mu.Unlock()

	if cb != nil {
		cb(nc)
	}
	go nc.doReconnect()
}

func (nc *Conn) doReconnect() {
	var lastErr error
	for {
		s, err := nc.pool.next(nc.opts.MaxReconnect)
		if err != nil {
			nc.mu.Lock()
			nc.status = CLOSED
			nc.mu.Unlock()
			if lastErr == nil {
				lastErr = ErrNoServers
			}
			nc.mu.Lock()
			nc.err = lastErr
			nc.mu.Unlock()
			close(nc.closedCh)
			if nc.opts.ClosedCB != nil {
				nc.opts.ClosedCB(nc)
			}
			return
		}
		waitForReconnectSlot(s, nc.opts.ReconnectWait)
		s.recordAttempt()

		if err := nc.dial(s); err != nil {
			lastErr = err
			continue
		}

		nc.mu.Lock()
		nc.cur = s
		nc.status = CONNECTED
		nc.Reconnects++
		nc.replaySubscriptionsLocked()
		if nc.pending != nil {
			pendingBytes := nc.pending.Bytes()
			nc.pending = nil
			nc.bw.Write(pendingBytes)
		}
		nc.bw.Flush()
		nc.mu.Unlock()

		go nc.readLoop()
		go nc.flusher()
		go nc.pingLoop()

		nc.Flush()
		if nc.opts.ReconnectedCB != nil {
			nc.opts.ReconnectedCB(nc)
		}
		return
	}
}

// replaySubscriptionsLocked re-sends SUB (and a residual UNSUB, if capped)
// for every surviving subscription (§4.3). Caller holds nc.mu.
func (nc *Conn) replaySubscriptionsLocked() {
	for sid, s := range nc.subs {
		s.mu.Lock()
		exhausted := s.max > 0 && s.delivered >= s.max
		subj, queue, max, delivered := s.Subject, s.Queue, s.max, s.delivered
		s.mu.Unlock()
		if exhausted {
			delete(nc.subs, sid)
			continue
		}
		nc.bw.Write(serializeSub(subj, queue, sid))
		if max > 0 {
			remaining := int(max - delivered)
			nc.bw.Write(serializeUnsub(sid, remaining))
		}
	}
}

// --- close / drain ---

// Close tears down the connection and fails every pending operation with
// ErrConnectionClosed (§4.3, §5 cancellation).
func (nc *Conn) Close() {
	nc.mu.Lock()
	if nc.isClosedLocked() {
		nc.mu.Unlock()
		return
	}
	nc.status = CLOSED
	conn := nc.conn
	pongs := nc.pongs
	nc.pongs = nil
	subs := nc.subs
	nc.subs = make(map[uint64]*Subscription)
	closedCh := nc.closedCh
	cb := nc.opts.ClosedCB
	discb := nc.opts.DisconnectedCB
	nc.mu.Unlock()

	for _, ch := range pongs {
		if ch != nil {
			select {
			case ch <- ErrConnectionClosed:
			default:
			}
		}
	}
	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			s.conn = nil
			if s.mch != nil {
				close(s.mch)
			}
			if s.future != nil {
				close(s.future)
			}
		}
		s.mu.Unlock()
	}

	select {
	case nc.fch <- struct{}{}:
	default:
	}
	close(nc.fch)

	if conn != nil {
		conn.Close()
	}
	if discb != nil {
		discb(nc)
	}
	select {
	case <-closedCh:
	default:
		close(closedCh)
	}
	if cb != nil {
		cb(nc)
	}
}

// Drain puts the connection through DRAINING_SUBS then DRAINING_PUBS
// before closing it, per §4.3's disconnect semantics.
func (nc *Conn) Drain() error {
	nc.mu.Lock()
	switch {
	case nc.isClosedLocked():
		nc.mu.Unlock()
		return ErrConnectionClosed
	case nc.isDrainingLocked():
		nc.mu.Unlock()
		return nil
	case nc.status == CONNECTING || nc.status == RECONNECTING:
		nc.mu.Unlock()
		return ErrConnectionReconnecting
	}
	nc.status = DRAINING_SUBS
	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	timeout := nc.opts.DrainTimeout
	nc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, s := range subs {
			nc.drainSubscription(s)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	nc.mu.Lock()
	nc.status = DRAINING_PUBS
	nc.mu.Unlock()

	err := nc.Flush()
	nc.Close()
	return err
}

