package main

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/capture"
)

// dispatch invokes the capture procedure bound to a trigger record.
// It runs synchronously on the reader goroutine; everything it calls
// is bounded and non-blocking. A record whose path tail is short or
// missing is still dispatched with whatever bytes arrived.
func dispatch(pipeline *capture.Pipeline, raw []byte) bool {
	hdr, path, err := parseTrigger(raw)
	if err != nil {
		return false
	}

	id := capture.Identity{
		PID:       hdr.PID,
		UID:       hdr.UID,
		GID:       hdr.GID,
		Comm:      hdr.Comm[:],
		Timestamp: hdr.Timestamp,
	}

	switch hdr.Op {
	case trigOpen:
		pipeline.FileAccess(id, path, hdr.Arg0, hdr.Arg1)
	case trigExec:
		pipeline.ProcessSpawn(id, path)
	case trigConnect:
		pipeline.NetConnect(id)
	case trigSetUID:
		pipeline.UIDChange(id, hdr.Arg0)
	default:
		return false
	}
	return true
}

// startTriggerReader pumps raw records from the BPF buffer into the
// capture pipeline until the reader is closed.
func startTriggerReader(logger *zap.SugaredLogger, reader PerfReader, pipeline *capture.Pipeline) {
	for {
		record, err := reader.Read()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return
			}
			logger.Errorw("error reading trigger buffer", "error", err)
			continue
		}

		if record.LostSamples != 0 {
			logger.Warnw("kernel dropped trigger samples", "lost", record.LostSamples)
			continue
		}

		if !dispatch(pipeline, record.RawSample) {
			logger.Debugw("skipping unparseable trigger record", "size", len(record.RawSample))
		}
	}
}
