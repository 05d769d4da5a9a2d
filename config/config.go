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

// Package config loads transport configuration from the environment.
package config

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/anddev68/sgx-spark/shm"
)

// Role selects which side of the trust boundary this process plays. The
// host creates the segment; the enclave attaches to it.
const (
	RoleHost    = "host"
	RoleEnclave = "enclave"
)

// Transport configures the shared-memory channel pair.
type Transport struct {
	Path      string `envconfig:"SHM_PATH"`
	Name      string `envconfig:"SHM_NAME"`
	Role      string `envconfig:"SHM_ROLE" default:"host"`
	SlotCount uint64 `envconfig:"SHM_SLOT_COUNT" default:"64"`
	SlotSize  uint64 `envconfig:"SHM_SLOT_SIZE" default:"4096"`

	// SendRetries caps re-attempts for transient write failures. Slot
	// contention is not counted; it is a wait condition, not a failure.
	SendRetries int `envconfig:"SHM_SEND_RETRIES" default:"3"`

	LogLevel string `envconfig:"SHM_LOG_LEVEL" default:"info"`
}

// FromEnv reads the transport configuration from the environment.
func FromEnv() (Transport, error) {
	var c Transport
	if err := envconfig.Process("", &c); err != nil {
		return Transport{}, fmt.Errorf("failed to process environment: %w", err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

// Default returns a usable host-side configuration with a random segment
// name.
func Default() Transport {
	c := Transport{
		Role:        RoleHost,
		SlotCount:   shm.DefaultSlotCount,
		SlotSize:    shm.DefaultSlotSize,
		SendRetries: 3,
		LogLevel:    "info",
	}
	c.applyDefaults()
	return c
}

func (c *Transport) applyDefaults() {
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	if c.Path == "" {
		c.Path = shm.DefaultPath(c.Name)
	}
}

// Validate rejects geometry the segment layout cannot express.
func (c Transport) Validate() error {
	if c.Role != RoleHost && c.Role != RoleEnclave {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	if !shm.IsPowerOfTwo(c.SlotCount) {
		return fmt.Errorf("slot count %d is not a power of two", c.SlotCount)
	}
	if !shm.IsPowerOfTwo(c.SlotSize) || c.SlotSize < shm.MinSlotSize {
		return fmt.Errorf("invalid slot size %d", c.SlotSize)
	}
	if c.SendRetries < 0 {
		return fmt.Errorf("negative send retries")
	}
	return nil
}
