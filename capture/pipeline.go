package capture

// Identity is the acting process at the moment of the triggering
// operation. It is read from the operation's own context by the
// instrumentation layer, never looked up afterwards; the process may
// exit or change identity immediately after the call.
type Identity struct {
	PID       uint32
	UID       uint32
	GID       uint32
	Comm      []byte
	Timestamp uint64
}

// Pipeline holds the capture procedures for the four instrumentation
// points. Each procedure runs to completion on the caller's goroutine:
// it fills a fixed-size event from the operation context, updates
// correlation state where required, and publishes without blocking.
type Pipeline struct {
	sink       *Sink
	startTimes *StartTimes
}

// NewPipeline binds the capture procedures to a sink and a correlation
// store.
func NewPipeline(sink *Sink, startTimes *StartTimes) *Pipeline {
	return &Pipeline{
		sink:       sink,
		startTimes: startTimes,
	}
}

// StartTimes exposes the correlation store for read-only enrichment.
func (p *Pipeline) StartTimes() *StartTimes {
	return p.startTimes
}

func (p *Pipeline) newEvent(eventType uint32, id Identity) Event {
	ev := Event{
		EventType: eventType,
		PID:       id.PID,
		UID:       id.UID,
		GID:       id.GID,
		Timestamp: id.Timestamp,
	}
	ev.SetComm(id.Comm)
	return ev
}

// FileAccess captures a file open. path holds whatever bytes of the
// requested path the instrumentation could read; a partial or empty
// path still produces an event.
func (p *Pipeline) FileAccess(id Identity, path []byte, flags, mode uint32) {
	ev := p.newEvent(EventFileAccess, id)
	ev.SetPath(path)
	ev.Flags = flags
	ev.Mode = mode
	p.sink.TryPublish(ev)
}

// ProcessSpawn captures a process replacing its image. The start
// timestamp is recorded before the event is published so a consumer
// that sees the event can already resolve the pid's start time. The
// correlation write is best-effort; a full store drops it silently.
func (p *Pipeline) ProcessSpawn(id Identity, exePath []byte) {
	ev := p.newEvent(EventProcessSpawn, id)
	ev.SetPath(exePath)
	p.startTimes.Put(id.PID, id.Timestamp)
	p.sink.TryPublish(ev)
}

// UIDChange captures an attempt to change the effective uid. Unlike
// the other procedures it is filtered: only attempts flagged by the
// escalation predicate are published.
func (p *Pipeline) UIDChange(id Identity, newUID uint32) {
	if !EscalationWorthy(id.UID, newUID) {
		return
	}
	ev := p.newEvent(EventPrivEscalation, id)
	p.sink.TryPublish(ev)
}

// NetConnect captures an outbound connection attempt. This is the
// least detailed capture point: no endpoint is recorded.
func (p *Pipeline) NetConnect(id Identity) {
	ev := p.newEvent(EventNetActivity, id)
	p.sink.TryPublish(ev)
}

// EscalationWorthy decides whether a uid change attempt is reported:
// any attempt to become uid 0, or any change of identity by a non-root
// process. Root moving to a different non-zero uid is intentionally
// silent; the policy detects escalation, not all uid changes.
func EscalationWorthy(currentUID, newUID uint32) bool {
	return newUID == 0 || (currentUID != 0 && newUID != currentUID)
}
