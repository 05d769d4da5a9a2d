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
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anddev68/sgx-spark/codec"
	"github.com/anddev68/sgx-spark/config"
	"github.com/anddev68/sgx-spark/metrics"
	"github.com/anddev68/sgx-spark/shm"
)

var (
	// ErrManagerClosed is returned by operations after Close.
	ErrManagerClosed = errors.New("communication manager closed")

	// ErrAlreadyStarted is returned by a second Start call: the receive
	// loop is the only permitted reader of the inbound ring.
	ErrAlreadyStarted = errors.New("receive loop already running")
)

// Manager owns the physical ring channel pair, allocates ports, and runs
// the single demultiplexing receive loop. Construct exactly one per process
// role and pass it to everything that needs the transport.
type Manager struct {
	cfg config.Transport
	log *zap.Logger
	met *metrics.Transport
	cod codec.Codec

	seg *shm.Segment
	out *shm.RingChannel
	in  *shm.RingChannel

	// wmu serializes outbound frames so their bytes never interleave. It is
	// held per frame, never across a connection's lifetime.
	wmu sync.Mutex

	mu       sync.Mutex
	inboxes  map[uint32]*queue[any]
	pending  map[uint32]chan uint32
	nextPort uint32

	accepted *queue[*Communicator]

	started  atomic.Bool
	closed   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	shutOnce sync.Once
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(met *metrics.Transport) Option {
	return func(m *Manager) { m.met = met }
}

// WithCodec sets the payload codec.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) { m.cod = c }
}

// New creates the manager for the configured role. The host role creates
// the segment and produces into ring A; the enclave role attaches and
// produces into ring B. Port numbering starts at 1 and is never reused.
func New(cfg config.Transport, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		log:      zap.NewNop(),
		met:      metrics.Nop(),
		cod:      codec.Gob{},
		inboxes:  make(map[uint32]*queue[any]),
		pending:  make(map[uint32]chan uint32),
		nextPort: 1,
		accepted: newQueue[*Communicator](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	switch cfg.Role {
	case config.RoleHost:
		m.seg, err = shm.CreateSegment(cfg.Path, cfg.SlotCount, cfg.SlotSize)
		if err != nil {
			return nil, fmt.Errorf("create segment: %w", err)
		}
		m.out, m.in = m.seg.A, m.seg.B
	case config.RoleEnclave:
		m.seg, err = shm.AttachSegment(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("attach segment: %w", err)
		}
		m.out, m.in = m.seg.B, m.seg.A
	}

	m.log.Info("communication manager ready",
		zap.String("role", cfg.Role),
		zap.String("path", cfg.Path),
		zap.Uint64("slots", cfg.SlotCount),
		zap.Uint64("slot_size", cfg.SlotSize))
	return m, nil
}

// Segment exposes the underlying segment for diagnostics.
func (m *Manager) Segment() *shm.Segment { return m.seg }

// WaitPeer blocks until the counterpart process has mapped the segment.
func (m *Manager) WaitPeer(ctx context.Context) error {
	if m.cfg.Role == config.RoleHost {
		return m.seg.WaitEnclaveReady(ctx)
	}
	return m.seg.WaitHostReady(ctx)
}

// Start launches the receive loop. It may be called once; the loop runs
// until ctx is cancelled or the manager is closed.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.receiveLoop(loopCtx)
	return nil
}

// Open allocates a fresh local port, performs the connection handshake and
// returns a communicator once the peer has resolved the remote port.
func (m *Manager) Open(ctx context.Context) (*Communicator, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	port, inbox := m.allocPort()
	resolve := make(chan uint32, 1)
	m.mu.Lock()
	m.pending[port] = resolve
	m.mu.Unlock()

	abort := func() {
		m.mu.Lock()
		delete(m.pending, port)
		m.mu.Unlock()
		m.deregister(port)
	}

	err := m.send(ctx, Envelope{Kind: KindNewConnection, Port: ControlPort, Payload: encodePort(port)})
	if err != nil {
		abort()
		return nil, fmt.Errorf("connection request failed: %w", err)
	}

	select {
	case remote := <-resolve:
		return &Communicator{localPort: port, remotePort: remote, inbox: inbox, mgr: m}, nil
	case <-ctx.Done():
		abort()
		return nil, ctx.Err()
	case <-m.done:
		abort()
		return nil, ErrManagerClosed
	}
}

// Accept blocks until an incoming connection request has been turned into a
// communicator by the receive loop.
func (m *Manager) Accept(ctx context.Context) (*Communicator, error) {
	c, err := m.accepted.pop(ctx)
	if errors.Is(err, errQueueClosed) {
		return nil, ErrManagerClosed
	}
	return c, err
}

// Close stops the receive loop and tears the segment down. It is
// idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.started.Load() {
		<-m.done
	} else {
		m.shutdown()
	}
	return m.seg.Shutdown()
}

// allocPort reserves the next port and registers a fresh inbox for it.
// Ports increase strictly monotonically and are never reused.
func (m *Manager) allocPort() (uint32, *queue[any]) {
	inbox := newQueue[any]()
	m.mu.Lock()
	port := m.nextPort
	m.nextPort++
	m.inboxes[port] = inbox
	m.mu.Unlock()
	return port, inbox
}

// deregister removes a port's inbox. Late messages for the port surface as
// delivery errors in the receive loop.
func (m *Manager) deregister(port uint32) {
	m.mu.Lock()
	inbox, ok := m.inboxes[port]
	delete(m.inboxes, port)
	m.mu.Unlock()
	if ok {
		inbox.close()
	}
}

// send writes one envelope under the write lock. Transient failures are
// retried with capped backoff; slot contention is handled inside Produce
// and is not a failure.
func (m *Manager) send(ctx context.Context, env Envelope) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	frame := encodeEnvelope(env)

	m.wmu.Lock()
	defer m.wmu.Unlock()

	for attempt := 0; ; attempt++ {
		err := m.out.Produce(ctx, frame)
		if err == nil {
			m.met.FramesSent.Inc()
			m.met.BytesSent.Add(float64(len(frame)))
			return nil
		}
		if errors.Is(err, shm.ErrFrameTooLarge) ||
			errors.Is(err, shm.ErrChannelClosed) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= m.cfg.SendRetries {
			return fmt.Errorf("send failed after %d retries: %w", attempt, err)
		}
		m.met.SendRetries.Inc()
		m.log.Warn("transient send failure, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Millisecond << attempt)
	}
}

// receiveLoop is the only reader of the inbound ring. It stays alive across
// per-frame errors; only cancellation or channel teardown stops it.
func (m *Manager) receiveLoop(ctx context.Context) {
	defer m.shutdown()

	for {
		frame, err := m.in.Consume(ctx)
		switch {
		case err == nil:
			m.dispatch(ctx, frame)
		case errors.Is(err, shm.ErrChecksumMismatch):
			m.met.ChecksumErrors.Inc()
			m.log.Error("dropped corrupt frame", zap.Error(err))
		case errors.Is(err, io.EOF), errors.Is(err, shm.ErrChannelClosed),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			m.log.Info("receive loop stopping", zap.Error(err))
			return
		default:
			m.log.Error("receive failure", zap.Error(err))
		}
	}
}

// shutdown releases everything blocked on the manager.
func (m *Manager) shutdown() {
	m.shutOnce.Do(func() {
		close(m.done)
		m.accepted.close()
		m.mu.Lock()
		inboxes := m.inboxes
		m.inboxes = make(map[uint32]*queue[any])
		m.mu.Unlock()
		for _, inbox := range inboxes {
			inbox.close()
		}
	})
}

// dispatch decodes one frame and routes it: port 0 is handled inline as
// control traffic, anything else goes to the addressed inbox.
func (m *Manager) dispatch(ctx context.Context, frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		m.met.RoutingErrors.Inc()
		m.log.Error("undecodable envelope", zap.Error(err))
		return
	}
	m.met.FramesReceived.Inc()
	m.met.BytesReceived.Add(float64(len(frame)))

	if env.Port == ControlPort {
		m.handleControl(ctx, env)
		return
	}
	m.deliver(env)
}

func (m *Manager) deliver(env Envelope) {
	m.mu.Lock()
	inbox, ok := m.inboxes[env.Port]
	m.mu.Unlock()
	if !ok {
		m.met.RoutingErrors.Inc()
		m.log.Error("delivery to unknown or closed port",
			zap.Uint32("port", env.Port), zap.Uint8("kind", uint8(env.Kind)))
		return
	}

	obj, err := m.cod.Decode(env.Payload)
	if err != nil {
		m.met.RoutingErrors.Inc()
		m.log.Error("payload decode failed", zap.Uint32("port", env.Port), zap.Error(err))
		return
	}
	if err := inbox.push(obj); err != nil {
		m.met.RoutingErrors.Inc()
		m.log.Error("late delivery to closed port", zap.Uint32("port", env.Port))
	}
}

func (m *Manager) handleControl(ctx context.Context, env Envelope) {
	switch env.Kind {
	case KindNewConnection:
		requester, err := decodePort(env.Payload)
		if err != nil {
			m.log.Error("malformed connection request", zap.Error(err))
			return
		}
		port, inbox := m.allocPort()
		c := &Communicator{localPort: port, remotePort: requester, inbox: inbox, mgr: m}
		if err := m.accepted.push(c); err != nil {
			return
		}
		m.met.Accepted.Inc()
		reply := Envelope{
			Kind:    KindAcceptedConnection,
			Port:    ControlPort,
			Payload: encodePortPair(port, requester),
		}
		if err := m.send(ctx, reply); err != nil {
			m.log.Error("accept reply failed",
				zap.Uint32("local_port", port), zap.Uint32("requester", requester), zap.Error(err))
		}

	case KindAcceptedConnection:
		local, requester, err := decodePortPair(env.Payload)
		if err != nil {
			m.log.Error("malformed accept reply", zap.Error(err))
			return
		}
		m.mu.Lock()
		resolve, ok := m.pending[requester]
		delete(m.pending, requester)
		m.mu.Unlock()
		if !ok {
			m.met.RoutingErrors.Inc()
			m.log.Error("accept reply for unknown request", zap.Uint32("requester", requester))
			return
		}
		resolve <- local

	case KindCloseConnection:
		target, err := decodePort(env.Payload)
		if err != nil {
			m.log.Error("malformed close notification", zap.Error(err))
			return
		}
		m.deregister(target)

	case KindRegular:
		// Reserved: data traffic uses ports above the control port.
		m.log.Warn("regular payload on control port ignored")

	default:
		m.log.Error("unknown control kind", zap.Uint8("kind", uint8(env.Kind)))
	}
}
