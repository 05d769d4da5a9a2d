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

// Command shmctl manages shared-memory transport segments: create one for a
// host process, inspect a live segment's ring cursors, or remove a stale
// backing file.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/anddev68/sgx-spark/config"
	"github.com/anddev68/sgx-spark/logging"
	"github.com/anddev68/sgx-spark/shm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:], cfg, log)
	case "inspect":
		err = runInspect(os.Args[2:], cfg)
	case "rm":
		err = runRemove(os.Args[2:], cfg, log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: shmctl <command> [flags]

commands:
  create   create a segment backing file
  inspect  dump a segment's header and ring state
  rm       remove a segment backing file`)
}

func segmentPath(fs *flag.FlagSet, cfg config.Transport, args []string) (string, error) {
	path := fs.String("path", cfg.Path, "segment backing file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

func runCreate(args []string, cfg config.Transport, log *zap.Logger) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	slots := fs.Uint64("slots", cfg.SlotCount, "slots per ring (power of 2)")
	slotSize := fs.Uint64("slot-size", cfg.SlotSize, "bytes per slot (power of 2)")
	path, err := segmentPath(fs, cfg, args)
	if err != nil {
		return err
	}

	seg, err := shm.CreateSegment(path, *slots, *slotSize)
	if err != nil {
		return err
	}
	defer seg.Close()

	log.Info("segment created",
		zap.String("path", path),
		zap.Uint64("slots", *slots),
		zap.Uint64("slot_size", *slotSize),
		zap.Uint64("total_bytes", seg.Header().TotalSize()))
	return nil
}

func runInspect(args []string, cfg config.Transport) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	path, err := segmentPath(fs, cfg, args)
	if err != nil {
		return err
	}

	// OpenSegment, not AttachSegment: inspecting must not flip the enclave
	// ready flag on a live segment.
	seg, err := shm.OpenSegment(path)
	if err != nil {
		return err
	}
	defer seg.Close()

	hdr := seg.Header()
	fmt.Printf("segment %s\n", path)
	fmt.Printf("  version:       %d\n", hdr.Version())
	fmt.Printf("  total size:    %d bytes\n", hdr.TotalSize())
	fmt.Printf("  slots/ring:    %d x %d bytes\n", hdr.SlotCount(), hdr.SlotSize())
	fmt.Printf("  host:          pid=%d ready=%v\n", hdr.HostPID(), hdr.HostReady())
	fmt.Printf("  enclave:       pid=%d ready=%v\n", hdr.EnclavePID(), hdr.EnclaveReady())
	fmt.Printf("  closed:        %v\n", hdr.Closed())

	for name, ring := range map[string]*shm.RingChannel{"host->enclave": seg.A, "enclave->host": seg.B} {
		st := ring.State()
		fmt.Printf("  ring %-15s widx=%d ridx=%d used=%d closed=%v\n",
			name, st.Widx, st.Ridx, st.Used, st.Closed)
	}
	return nil
}

func runRemove(args []string, cfg config.Transport, log *zap.Logger) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	path, err := segmentPath(fs, cfg, args)
	if err != nil {
		return err
	}
	if err := shm.RemoveSegment(path); err != nil {
		return err
	}
	log.Info("segment removed", zap.String("path", path))
	return nil
}
