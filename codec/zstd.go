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
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps another codec and compresses its output. Frames crossing the
// boundary are slot-bounded, so compression lets larger objects fit a slot.
type Zstd struct {
	inner Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd builds a compressing wrapper around inner.
func NewZstd(inner Codec) (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{inner: inner, enc: enc, dec: dec}, nil
}

// Encode serializes v with the inner codec and compresses the result.
func (z *Zstd) Encode(v any) ([]byte, error) {
	data, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(data, nil), nil
}

// Decode decompresses data and deserializes it with the inner codec.
func (z *Zstd) Decode(data []byte) (any, error) {
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	return z.inner.Decode(raw)
}
