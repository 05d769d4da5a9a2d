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

// Package codec implements the serialization boundary of the transport. The
// transport itself treats payloads as opaque byte sequences; a Codec turns
// application objects into those bytes and back.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec serializes application objects for transfer across the enclave
// boundary.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Register records a concrete type for transfer through the default codec.
// Values of unregistered struct types cannot cross the boundary.
func Register(v any) {
	gob.Register(v)
}

// Gob is the default codec: Go's native object-graph encoding.
type Gob struct{}

// Encode serializes v.
func (Gob) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, fmt.Errorf("gob encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes one value from data.
func (Gob) Decode(data []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("gob decode failed: %w", err)
	}
	return v, nil
}
