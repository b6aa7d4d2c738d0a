// Package main runs the host security recorder: BPF-forwarded syscall
// triggers are turned into fixed-layout security events by the capture
// pipeline, then drained, enriched, stored and matched against
// detection rules by the consumer side.
//
// The platform-specific attach logic lives in bpf_linux.go; this file
// keeps the reader surface platform-independent so the rest of the
// program compiles and tests anywhere.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Trigger op codes, fixed by the BPF object's output format.
const (
	trigOpen    = 1
	trigExec    = 2
	trigConnect = 3
	trigSetUID  = 4
)

// triggerHeader is the fixed prefix of every raw trigger record the
// BPF programs forward. Any bytes after the header are the path read
// from the triggering operation; a short or absent tail means the
// kernel side could only read part of it.
type triggerHeader struct {
	Op        uint32
	PID       uint32
	UID       uint32
	GID       uint32
	Timestamp uint64
	Comm      [16]byte
	Arg0      uint32 // open flags, or the requested uid for setuid
	Arg1      uint32 // open mode
}

// triggerHeaderSize must match the C struct layout exactly.
const triggerHeaderSize = 4 + 4 + 4 + 4 + 8 + 16 + 4 + 4

// PerfReader is a platform-agnostic source of raw trigger records.
// On Linux it is backed by a BPF perf buffer; tests feed records
// directly.
type PerfReader interface {
	Read() (Record, error)
	Close() error
}

// Record is one raw sample from the trigger buffer.
type Record struct {
	RawSample   []byte
	LostSamples uint64
}

func parseTrigger(raw []byte) (triggerHeader, []byte, error) {
	var hdr triggerHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
		return triggerHeader{}, nil, fmt.Errorf("failed to parse trigger header: %v", err)
	}
	return hdr, raw[triggerHeaderSize:], nil
}
