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

	"github.com/bytedance/sonic"
)

// JSON encodes payloads as JSON. Useful when the peer is not a Go process;
// note that decoding yields JSON-shaped values (numbers become float64).
type JSON struct{}

// Encode serializes v as JSON.
func (JSON) Encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	return data, nil
}

// Decode deserializes one JSON value from data.
func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("json decode failed: %w", err)
	}
	return v, nil
}
