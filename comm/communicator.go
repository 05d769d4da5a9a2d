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

package comm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCommunicatorClosed is returned by operations on a closed communicator.
var ErrCommunicatorClosed = errors.New("communicator closed")

// closeNotifyTimeout bounds the teardown notification so Close cannot hang
// on a stalled outbound ring.
const closeNotifyTimeout = time.Second

// Communicator is the caller-facing handle for one logical, bidirectional,
// ordered connection multiplexed over the shared channel pair.
type Communicator struct {
	localPort  uint32
	remotePort uint32
	inbox      *queue[any]
	mgr        *Manager
	closed     atomic.Bool
}

// LocalPort returns this side's port.
func (c *Communicator) LocalPort() uint32 { return c.localPort }

// RemotePort returns the peer's port.
func (c *Communicator) RemotePort() uint32 { return c.remotePort }

// Send serializes v and writes it to the peer's port. It either commits a
// whole frame or fails; it never drops silently.
func (c *Communicator) Send(ctx context.Context, v any) error {
	if c.closed.Load() {
		return ErrCommunicatorClosed
	}
	data, err := c.mgr.cod.Encode(v)
	if err != nil {
		return fmt.Errorf("serialize failed: %w", err)
	}
	return c.mgr.send(ctx, Envelope{Kind: KindRegular, Port: c.remotePort, Payload: data})
}

// Recv blocks until an object arrives in this connection's inbox. Delivery
// latency of other connections does not affect it beyond the shared receive
// loop's processing order.
func (c *Communicator) Recv(ctx context.Context) (any, error) {
	v, err := c.inbox.pop(ctx)
	if errors.Is(err, errQueueClosed) {
		return nil, ErrCommunicatorClosed
	}
	return v, err
}

// Close deregisters the inbox and notifies the peer. No further messages
// are delivered to this communicator; later Recv calls fail with
// ErrCommunicatorClosed. Close is idempotent.
func (c *Communicator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mgr.deregister(c.localPort)

	// Best-effort teardown notification; the peer releases its side. The
	// deadline keeps Close from blocking on a stalled outbound ring.
	if c.remotePort != ControlPort {
		ctx, cancel := context.WithTimeout(context.Background(), closeNotifyTimeout)
		defer cancel()
		err := c.mgr.send(ctx,
			Envelope{Kind: KindCloseConnection, Port: ControlPort, Payload: encodePort(c.remotePort)})
		if err != nil && !errors.Is(err, ErrManagerClosed) {
			return fmt.Errorf("close notification failed: %w", err)
		}
	}
	return nil
}
