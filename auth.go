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
	"github.com/nats-io/nkeys"
)

// SignatureHandler accepts a server-provided nonce and returns the bytes
// to sign it with an nkey seed. Authentication-key cryptography itself is
// out of scope (§1); this is the pluggable boundary the spec names.
type SignatureHandler func(nonce []byte) ([]byte, error)

// UserJWTHandler returns the JWT to present alongside an nkey signature.
type UserJWTHandler func() (string, error)

// NkeyOptionFromSeed builds a SignatureHandler (and exposes the matching
// public key) from an nkey seed, the way applications wire up nkey auth
// without embedding a raw seed in the connection options.
func NkeyOptionFromSeed(seed []byte) (pub string, cb SignatureHandler, err error) {
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return "", nil, err
	}
	pub, err = kp.PublicKey()
	if err != nil {
		return "", nil, err
	}
	cb = func(nonce []byte) ([]byte, error) {
		return kp.Sign(nonce)
	}
	return pub, cb, nil
}

// authVariant picks the CONNECT authentication fields to send, following
// the precedence in §4.3: signature callback (nkey/jwt) first, then
// explicit user+password, then token, then URL user-info.
type authVariant struct {
	nkey string
	sig  string // left empty by resolveAuth; sendConnectAndHandshake signs the nonce into CONNECT's sig
	jwt  string
	user string
	pass string
	tok  string
}

func resolveAuth(o *Options, urlUser, urlPass string) authVariant {
	var v authVariant
	switch {
	case o.SignatureCB != nil && o.Nkey != _EMPTY_:
		v.nkey = o.Nkey
	case o.User != _EMPTY_ || o.Password != _EMPTY_:
		v.user, v.pass = o.User, o.Password
	case o.Token != _EMPTY_:
		v.tok = o.Token
	case urlUser != _EMPTY_ && urlPass != _EMPTY_:
		v.user, v.pass = urlUser, urlPass
	case urlUser != _EMPTY_:
		v.tok = urlUser
	}
	return v
}
