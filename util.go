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

import "fmt"

// validateSubject rejects empty subjects and anything containing a space
// or control character; segments are otherwise opaque to the client (the
// server is the wildcard-matching authority).
func validateSubject(subj string) error {
	if subj == _EMPTY_ {
		return ErrBadSubject
	}
	for i := 0; i < len(subj); i++ {
		c := subj[i]
		if c <= ' ' || c == 0x7f {
			return ErrBadSubject
		}
	}
	return nil
}

func errFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("nats: panic in message handler: %v", r)
}
