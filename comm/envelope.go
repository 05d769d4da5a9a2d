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

// Package comm multiplexes logical connections over the shared-memory ring
// channel pair: typed envelopes, the connection handshake, per-connection
// communicators and the demultiplexing manager.
package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind tags an envelope.
type Kind uint8

const (
	// KindNewConnection requests a connection; payload is the requester's
	// local port.
	KindNewConnection Kind = 0x01

	// KindAcceptedConnection answers a request; payload is the pair
	// (accepted-side port, original requester port).
	KindAcceptedConnection Kind = 0x02

	// KindCloseConnection tears a connection down; payload is the target
	// port on the receiving side.
	KindCloseConnection Kind = 0x03

	// KindRegular carries an application payload.
	KindRegular Kind = 0x04
)

// ControlPort is reserved for control-plane traffic. Ports above it
// identify logical connection endpoints.
const ControlPort uint32 = 0

// Envelope header layout (9 bytes, little-endian):
// uint8  kind
// uint32 port
// uint32 length   // payload length in bytes
const envelopeHeaderSize = 9

// Envelope is the kind+port+payload wrapper occupying one ring frame.
type Envelope struct {
	Kind    Kind
	Port    uint32
	Payload []byte
}

func encodeEnvelope(e Envelope) []byte {
	out := make([]byte, envelopeHeaderSize+len(e.Payload))
	out[0] = byte(e.Kind)
	binary.LittleEndian.PutUint32(out[1:5], e.Port)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(e.Payload)))
	copy(out[envelopeHeaderSize:], e.Payload)
	return out
}

func decodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < envelopeHeaderSize {
		return Envelope{}, errors.New("envelope too short")
	}
	e := Envelope{
		Kind: Kind(b[0]),
		Port: binary.LittleEndian.Uint32(b[1:5]),
	}
	length := int(binary.LittleEndian.Uint32(b[5:9]))
	if len(b)-envelopeHeaderSize != length {
		return Envelope{}, fmt.Errorf("envelope length mismatch: header says %d, frame carries %d",
			length, len(b)-envelopeHeaderSize)
	}
	if length > 0 {
		e.Payload = b[envelopeHeaderSize:]
	}
	return e, nil
}

// Control payloads.

func encodePort(port uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, port)
	return out
}

func decodePort(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("port payload has %d bytes, want 4", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func encodePortPair(local, requester uint32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], local)
	binary.LittleEndian.PutUint32(out[4:8], requester)
	return out
}

func decodePortPair(b []byte) (local, requester uint32, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("port pair payload has %d bytes, want 8", len(b))
	}
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8]), nil
}
