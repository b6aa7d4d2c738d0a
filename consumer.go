package main

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/binary"
	"github.com/hostsec/bpf-sentry/capture"
	"github.com/hostsec/bpf-sentry/database"
	"github.com/hostsec/bpf-sentry/process"
	"github.com/hostsec/bpf-sentry/sigma"
)

// consumer drains the capture sink: each event is enriched, stored,
// and run through the detector. All of this happens far away from the
// capture path, so it may block on disk and /proc freely.
type consumer struct {
	logger     *zap.SugaredLogger
	db         *database.DB
	binCache   *binary.Cache
	detector   *sigma.Detector // nil disables detection
	startTimes *capture.StartTimes
}

func (c *consumer) run(ctx context.Context, events <-chan capture.Event) {
	c.logger.Info("event consumer started")
	for ev := range events {
		c.consume(ctx, ev)
	}
	c.logger.Info("event consumer stopped")
}

func (c *consumer) consume(ctx context.Context, ev capture.Event) {
	rec := &database.EventRecord{
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
		TypeName:  ev.TypeString(),
		PID:       ev.PID,
		UID:       ev.UID,
		GID:       ev.GID,
		Comm:      ev.CommString(),
		Path:      ev.PathString(),
		Flags:     ev.Flags,
		Mode:      ev.Mode,
		Username:  process.UsernameFromUID(ev.UID),
	}

	// Process age relative to the last recorded spawn for this pid.
	if start, ok := c.startTimes.Get(ev.PID); ok && ev.Timestamp >= start {
		rec.ProcessAgeNs = sql.NullInt64{Int64: int64(ev.Timestamp - start), Valid: true}
	}

	if ev.EventType == capture.EventProcessSpawn {
		c.enrichSpawn(rec)
	}

	id, err := c.db.InsertEvent(rec)
	if err != nil {
		c.logger.Errorw("failed to store event", "type", rec.TypeName, "pid", rec.PID, "error", err)
		return
	}
	rec.ID = id

	if c.detector != nil {
		c.detector.CheckEvent(ctx, rec)
	}

	c.logger.Debugw("event recorded",
		"type", rec.TypeName, "pid", rec.PID, "comm", rec.Comm, "path", rec.Path)
}

func (c *consumer) enrichSpawn(rec *database.EventRecord) {
	// The event carries the resolved executable path; /proc fills in
	// what the fixed-size record could not, if the process still
	// exists.
	if md, ok := process.Collect(rec.PID); ok && rec.Path == "" {
		rec.Path = md.ExePath
	}

	if c.binCache != nil && binary.Interesting(rec.Path) {
		hash, err := c.binCache.Remember(rec.Path)
		if err != nil {
			c.logger.Debugw("binary capture failed", "path", rec.Path, "error", err)
			return
		}
		rec.ExeHash = hash
	}
}
