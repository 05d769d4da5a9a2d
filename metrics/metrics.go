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

// Package metrics exposes prometheus instrumentation for the shared-memory
// transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transport holds the counters maintained by the communication manager and
// the ring channels.
type Transport struct {
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	RoutingErrors  prometheus.Counter
	ChecksumErrors prometheus.Counter
	SendRetries    prometheus.Counter
	Accepted       prometheus.Counter
}

// New creates the transport collectors and registers them with reg. A nil
// registerer yields working but unregistered collectors, which keeps tests
// and tools free of global registry collisions.
func New(reg prometheus.Registerer) *Transport {
	t := &Transport{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_frames_sent_total",
			Help: "Frames written to the outbound ring channel.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_frames_received_total",
			Help: "Frames drained from the inbound ring channel.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_bytes_sent_total",
			Help: "Payload bytes written to the outbound ring channel.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_bytes_received_total",
			Help: "Payload bytes drained from the inbound ring channel.",
		}),
		RoutingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_routing_errors_total",
			Help: "Envelopes addressed to an unknown or closed port.",
		}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_checksum_errors_total",
			Help: "Frames dropped due to integrity digest mismatch.",
		}),
		SendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_send_retries_total",
			Help: "Transient send failures that were retried.",
		}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shm_connections_accepted_total",
			Help: "Inbound logical connections accepted.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			t.FramesSent, t.FramesReceived,
			t.BytesSent, t.BytesReceived,
			t.RoutingErrors, t.ChecksumErrors,
			t.SendRetries, t.Accepted,
		)
	}
	return t
}

// Nop returns unregistered collectors.
func Nop() *Transport {
	return New(nil)
}
