// Package capture builds fixed-layout security events inside the
// instrumented operation's execution path and hands them to a consumer.
//
// Everything in this package runs synchronously on the triggering
// goroutine and must stay bounded: no logging, no I/O beyond the final
// non-blocking publish, no unbounded iteration.
package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Event type constants, stable wire identifiers consumers switch on
const (
	EventFileAccess     = 1
	EventProcessSpawn   = 2
	EventNetActivity    = 3
	EventPrivEscalation = 4
)

// Fixed field capacities, including the NUL terminator
const (
	CommLen = 16
	PathLen = 256
)

// EventSize is the encoded size of every event regardless of type.
const EventSize = 4 + 4 + 4 + 4 + 8 + CommLen + PathLen + 4 + 4

// Event is the record emitted for every observed operation. The field
// order is the wire format; all four event types share the same layout
// so the sink and consumers can treat records uniformly. Fields unused
// by a given type are zero, string fields are always NUL-terminated.
type Event struct {
	EventType uint32
	PID       uint32
	UID       uint32
	GID       uint32
	Timestamp uint64
	Comm      [CommLen]byte
	Path      [PathLen]byte
	Flags     uint32
	Mode      uint32
}

// putBounded copies src into dst, truncating to len(dst)-1 bytes and
// terminating with NUL. A short or empty src is fine; truncation is
// silent.
func putBounded(dst []byte, src []byte) {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	n := copy(dst[:len(dst)-1], src)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// SetComm stores the command name, truncated to the fixed capacity.
func (e *Event) SetComm(comm []byte) {
	putBounded(e.Comm[:], comm)
}

// SetPath stores the path field, truncated to the fixed capacity.
func (e *Event) SetPath(path []byte) {
	putBounded(e.Path[:], path)
}

// CommString returns the command name without trailing NUL bytes.
func (e *Event) CommString() string {
	return string(bytes.TrimRight(e.Comm[:], "\x00"))
}

// PathString returns the path without trailing NUL bytes.
func (e *Event) PathString() string {
	return string(bytes.TrimRight(e.Path[:], "\x00"))
}

// TypeString returns a short name for the event type.
func (e *Event) TypeString() string {
	switch e.EventType {
	case EventFileAccess:
		return "FILE_ACCESS"
	case EventProcessSpawn:
		return "PROCESS_SPAWN"
	case EventNetActivity:
		return "NET_ACTIVITY"
	case EventPrivEscalation:
		return "PRIV_ESCALATION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", e.EventType)
	}
}

// Encode serializes the event into its fixed little-endian wire form.
func (e *Event) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(EventSize)
	binary.Write(&buf, binary.LittleEndian, e)
	return buf.Bytes()
}

// Decode parses a wire-format record. Records shorter than EventSize
// are rejected; trailing bytes are ignored.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %v", err)
	}
	return e, nil
}

// FlagsString renders raw open(2) flags for display.
func FlagsString(flags uint32) string {
	var parts []string
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		parts = append(parts, "O_WRONLY")
	case unix.O_RDWR:
		parts = append(parts, "O_RDWR")
	default:
		parts = append(parts, "O_RDONLY")
	}
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.O_CREAT, "O_CREAT"},
		{unix.O_TRUNC, "O_TRUNC"},
		{unix.O_APPEND, "O_APPEND"},
		{unix.O_EXCL, "O_EXCL"},
		{unix.O_CLOEXEC, "O_CLOEXEC"},
	} {
		if flags&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

var clockBase = time.Now()

// Now returns a monotonic nanosecond reading for capture points that
// have no kernel timestamp in their context.
func Now() uint64 {
	return uint64(time.Since(clockBase).Nanoseconds())
}
