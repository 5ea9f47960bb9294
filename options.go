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
	"crypto/tls"
	"time"
)

const (
	DefaultURL            = "nats://127.0.0.1:4222"
	DefaultPort           = 4222
	DefaultMaxReconnect   = 60
	DefaultReconnectWait  = 2 * time.Second
	DefaultTimeout        = 2 * time.Second
	DefaultPingInterval   = 2 * time.Minute
	DefaultMaxPingOut     = 2
	DefaultDrainTimeout   = 30 * time.Second
	DefaultPendingSize    = 1024 * 1024
	DefaultFlusherQueue   = 1024
	DefaultSubPendingMsgs = 65536
	DefaultSubPendingBytes = 64 * 1024 * 1024
)

// ConnHandler is invoked for async connection lifecycle events.
type ConnHandler func(*Conn)

// ErrHandler is invoked for asynchronous errors, optionally scoped to a
// specific subscription (nil when not subscription-specific).
type ErrHandler func(*Conn, *Subscription, error)

// DiscoveredServersHandler is invoked when server gossip introduces new
// endpoints into the pool after the initial connect.
type DiscoveredServersHandler func(*Conn)

// Option configures a Conn before Connect dials out.
type Option func(*Options) error

// Options holds every recognized configuration surface from §6.
type Options struct {
	Servers        []string
	NoRandomize    bool
	Name           string
	Verbose        bool
	Pedantic       bool
	Secure         bool
	TLSConfig      *tls.Config
	TLSHostname    string
	AllowReconnect bool
	MaxReconnect   int
	ReconnectWait  time.Duration
	Timeout        time.Duration
	PingInterval   time.Duration
	MaxPingsOut    int
	DrainTimeout   time.Duration
	NoEcho         bool
	UseOldRequestStyle bool

	PendingSize      int
	FlusherQueueSize int
	SubChanLen       int

	User     string
	Password string
	Token    string
	Nkey     string
	SignatureCB SignatureHandler
	UserJWTCB   UserJWTHandler

	ClosedCB            ConnHandler
	DisconnectedCB       ConnHandler
	ReconnectedCB        ConnHandler
	AsyncErrorCB         ErrHandler
	DiscoveredServersCB  DiscoveredServersHandler
}

func defaultOptions() Options {
	return Options{
		AllowReconnect:   true,
		MaxReconnect:     DefaultMaxReconnect,
		ReconnectWait:    DefaultReconnectWait,
		Timeout:          DefaultTimeout,
		PingInterval:     DefaultPingInterval,
		MaxPingsOut:      DefaultMaxPingOut,
		DrainTimeout:     DefaultDrainTimeout,
		PendingSize:      DefaultPendingSize,
		FlusherQueueSize: DefaultFlusherQueue,
		SubChanLen:       DefaultSubPendingMsgs,
	}
}

func URL(url string) Option {
	return func(o *Options) error { o.Servers = append(o.Servers, url); return nil }
}

func Servers(urls ...string) Option {
	return func(o *Options) error { o.Servers = append(o.Servers, urls...); return nil }
}

func DontRandomize() Option {
	return func(o *Options) error { o.NoRandomize = true; return nil }
}

func Name(name string) Option {
	return func(o *Options) error { o.Name = name; return nil }
}

func NoReconnect() Option {
	return func(o *Options) error { o.AllowReconnect = false; return nil }
}

func MaxReconnects(n int) Option {
	return func(o *Options) error { o.MaxReconnect = n; return nil }
}

func ReconnectWait(d time.Duration) Option {
	return func(o *Options) error { o.ReconnectWait = d; return nil }
}

func Timeout(d time.Duration) Option {
	return func(o *Options) error { o.Timeout = d; return nil }
}

func PingInterval(d time.Duration) Option {
	return func(o *Options) error { o.PingInterval = d; return nil }
}

func MaxPingsOutstanding(n int) Option {
	return func(o *Options) error { o.MaxPingsOut = n; return nil }
}

func DrainTimeout(d time.Duration) Option {
	return func(o *Options) error { o.DrainTimeout = d; return nil }
}

func NoEcho() Option {
	return func(o *Options) error { o.NoEcho = true; return nil }
}

func UseOldRequestStyle() Option {
	return func(o *Options) error { o.UseOldRequestStyle = true; return nil }
}

func Secure(tc *tls.Config) Option {
	return func(o *Options) error { o.Secure = true; o.TLSConfig = tc; return nil }
}

func TLSHostname(name string) Option {
	return func(o *Options) error { o.TLSHostname = name; return nil }
}

func UserInfo(user, pass string) Option {
	return func(o *Options) error { o.User = user; o.Password = pass; return nil }
}

func Token(tok string) Option {
	return func(o *Options) error { o.Token = tok; return nil }
}

func Nkey(pub string, cb SignatureHandler) Option {
	return func(o *Options) error { o.Nkey = pub; o.SignatureCB = cb; return nil }
}

func UserJWT(jwtCB UserJWTHandler, sigCB SignatureHandler) Option {
	return func(o *Options) error { o.UserJWTCB = jwtCB; o.SignatureCB = sigCB; return nil }
}

func ClosedHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.ClosedCB = cb; return nil }
}

func DisconnectHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.DisconnectedCB = cb; return nil }
}

func ReconnectHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.ReconnectedCB = cb; return nil }
}

func ErrorHandler(cb ErrHandler) Option {
	return func(o *Options) error { o.AsyncErrorCB = cb; return nil }
}

func DiscoveredServersHandlerOpt(cb DiscoveredServersHandler) Option {
	return func(o *Options) error { o.DiscoveredServersCB = cb; return nil }
}

func PendingBufferSize(n int) Option {
	return func(o *Options) error { o.PendingSize = n; return nil }
}

func FlusherQueueSize(n int) Option {
	return func(o *Options) error { o.FlusherQueueSize = n; return nil }
}

func SubscriptionChannelLength(n int) Option {
	return func(o *Options) error { o.SubChanLen = n; return nil }
}
