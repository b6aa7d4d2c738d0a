package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestEventEncodeDecode(t *testing.T) {
	ev := Event{
		EventType: EventFileAccess,
		PID:       4242,
		UID:       1000,
		GID:       1000,
		Timestamp: 123456789,
		Flags:     unix.O_WRONLY | unix.O_CREAT,
		Mode:      0644,
	}
	ev.SetComm([]byte("vim"))
	ev.SetPath([]byte("/etc/passwd"))

	raw := ev.Encode()
	require.Len(t, raw, EventSize)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
	assert.Equal(t, "vim", decoded.CommString())
	assert.Equal(t, "/etc/passwd", decoded.PathString())
}

func TestDecodeShortRecord(t *testing.T) {
	_, err := Decode(make([]byte, EventSize-1))
	assert.Error(t, err)
}

func TestEventSizeUniform(t *testing.T) {
	// All four types share one layout; the sink and wire consumers
	// rely on every record having the same size.
	for _, typ := range []uint32{EventFileAccess, EventProcessSpawn, EventNetActivity, EventPrivEscalation} {
		ev := Event{EventType: typ}
		assert.Len(t, ev.Encode(), EventSize)
	}
}

func TestPathTruncation(t *testing.T) {
	long := strings.Repeat("a", PathLen*2)

	var ev Event
	ev.SetPath([]byte(long))

	// Truncated to capacity-1 visible bytes plus terminator.
	assert.Equal(t, strings.Repeat("a", PathLen-1), ev.PathString())
	assert.Equal(t, byte(0), ev.Path[PathLen-1])
}

func TestCommTruncation(t *testing.T) {
	var ev Event
	ev.SetComm([]byte("a-command-name-longer-than-comm"))
	assert.Equal(t, "a-command-name-", ev.CommString())
	assert.Equal(t, byte(0), ev.Comm[CommLen-1])
}

func TestSetPathStopsAtNUL(t *testing.T) {
	var ev Event
	ev.SetPath([]byte("/tmp/x\x00garbage"))
	assert.Equal(t, "/tmp/x", ev.PathString())
}

func TestSetPathClearsPreviousValue(t *testing.T) {
	var ev Event
	ev.SetPath([]byte("/a/very/long/path/from/a/previous/event"))
	ev.SetPath([]byte("/short"))
	assert.Equal(t, "/short", ev.PathString())
}

func TestEmptyPathAllowed(t *testing.T) {
	// A wholly unreadable path still yields a valid, empty field.
	var ev Event
	ev.SetPath(nil)
	assert.Equal(t, "", ev.PathString())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "FILE_ACCESS", (&Event{EventType: EventFileAccess}).TypeString())
	assert.Equal(t, "PROCESS_SPAWN", (&Event{EventType: EventProcessSpawn}).TypeString())
	assert.Equal(t, "NET_ACTIVITY", (&Event{EventType: EventNetActivity}).TypeString())
	assert.Equal(t, "PRIV_ESCALATION", (&Event{EventType: EventPrivEscalation}).TypeString())
	assert.Equal(t, "UNKNOWN(9)", (&Event{EventType: 9}).TypeString())
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "O_RDONLY", FlagsString(0))
	assert.Equal(t, "O_WRONLY|O_CREAT|O_TRUNC", FlagsString(unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC))
}
