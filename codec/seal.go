/*
 *
 * Copyright 2026 sgx-spark authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// TrustDomain marks where a sealed blob may be opened.
type TrustDomain uint8

const (
	DomainHost    TrustDomain = 1
	DomainEnclave TrustDomain = 2
)

// ErrOutsideTrustDomain is returned when sealed data is opened in the wrong
// protection domain. This fails immediately; it never degrades to returning
// undefined data.
var ErrOutsideTrustDomain = errors.New("sealed data opened outside its trust domain")

// Sealer is the pluggable confidentiality hook. The transport only relies
// on it producing and consuming opaque byte sequences; integrity is handled
// separately by the per-frame digest.
type Sealer interface {
	Seal(data []byte) ([]byte, error)
	Unseal(data []byte) ([]byte, error)
}

// Base64Sealer is the placeholder sealer: it provides no confidentiality,
// only the domain-tagging contract real sealing will need.
//
// TODO: replace with SGX sealing once the enclave runtime exposes it.
type Base64Sealer struct {
	Domain TrustDomain
}

// Seal tags data with the sealer's domain and encodes it.
func (s Base64Sealer) Seal(data []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	out := make([]byte, 1+len(encoded))
	out[0] = byte(s.Domain)
	copy(out[1:], encoded)
	return out, nil
}

// Unseal decodes data sealed for this domain. Opening a blob sealed for a
// different domain is refused outright.
func (s Base64Sealer) Unseal(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("sealed blob too short")
	}
	if TrustDomain(data[0]) != s.Domain {
		return nil, ErrOutsideTrustDomain
	}
	out, err := base64.StdEncoding.AppendDecode(nil, data[1:])
	if err != nil {
		return nil, fmt.Errorf("sealed blob corrupt: %w", err)
	}
	return out, nil
}
