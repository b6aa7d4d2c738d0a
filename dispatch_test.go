package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsec/bpf-sentry/capture"
)

func encodeTrigger(t *testing.T, hdr triggerHeader, path string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &hdr))
	buf.WriteString(path)
	buf.WriteByte(0)
	return buf.Bytes()
}

func testHeader(op uint32) triggerHeader {
	hdr := triggerHeader{
		Op:        op,
		PID:       321,
		UID:       1000,
		GID:       1000,
		Timestamp: 7777,
	}
	copy(hdr.Comm[:], "zsh")
	return hdr
}

func TestDispatchOpen(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	hdr := testHeader(trigOpen)
	hdr.Arg0 = 0x241 // O_WRONLY|O_CREAT|O_TRUNC
	hdr.Arg1 = 0644
	require.True(t, dispatch(pipeline, encodeTrigger(t, hdr, "/var/log/auth.log")))

	ev := <-sink.Events()
	assert.Equal(t, uint32(capture.EventFileAccess), ev.EventType)
	assert.Equal(t, uint32(321), ev.PID)
	assert.Equal(t, "zsh", ev.CommString())
	assert.Equal(t, "/var/log/auth.log", ev.PathString())
	assert.Equal(t, uint32(0x241), ev.Flags)
	assert.Equal(t, uint32(0644), ev.Mode)
	assert.Equal(t, uint64(7777), ev.Timestamp)
}

func TestDispatchExecRecordsStartTime(t *testing.T) {
	sink := capture.NewSink(4)
	startTimes := capture.NewStartTimes()
	pipeline := capture.NewPipeline(sink, startTimes)

	require.True(t, dispatch(pipeline, encodeTrigger(t, testHeader(trigExec), "/usr/bin/ssh")))

	ev := <-sink.Events()
	assert.Equal(t, uint32(capture.EventProcessSpawn), ev.EventType)
	assert.Equal(t, "/usr/bin/ssh", ev.PathString())

	ts, ok := startTimes.Get(321)
	require.True(t, ok)
	assert.Equal(t, uint64(7777), ts)
}

func TestDispatchSetuidFiltered(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	// uid 1000 -> 1000: filtered, but the record itself is valid.
	hdr := testHeader(trigSetUID)
	hdr.Arg0 = 1000
	require.True(t, dispatch(pipeline, encodeTrigger(t, hdr, "")))
	assert.Empty(t, sink.Events())

	// uid 1000 -> 0: reported.
	hdr.Arg0 = 0
	require.True(t, dispatch(pipeline, encodeTrigger(t, hdr, "")))
	ev := <-sink.Events()
	assert.Equal(t, uint32(capture.EventPrivEscalation), ev.EventType)
}

func TestDispatchConnect(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	require.True(t, dispatch(pipeline, encodeTrigger(t, testHeader(trigConnect), "")))

	ev := <-sink.Events()
	assert.Equal(t, uint32(capture.EventNetActivity), ev.EventType)
	assert.Equal(t, "", ev.PathString())
}

func TestDispatchPartialPath(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	// Header only, no path tail: still dispatched, empty path.
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, testHeader(trigOpen)))
	require.True(t, dispatch(pipeline, buf.Bytes()))

	ev := <-sink.Events()
	assert.Equal(t, uint32(capture.EventFileAccess), ev.EventType)
	assert.Equal(t, "", ev.PathString())
}

func TestDispatchRejectsShortRecord(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	assert.False(t, dispatch(pipeline, make([]byte, triggerHeaderSize-1)))
	assert.Empty(t, sink.Events())
}

func TestDispatchRejectsUnknownOp(t *testing.T) {
	sink := capture.NewSink(4)
	pipeline := capture.NewPipeline(sink, capture.NewStartTimes())

	assert.False(t, dispatch(pipeline, encodeTrigger(t, testHeader(99), "")))
	assert.Empty(t, sink.Events())
}
