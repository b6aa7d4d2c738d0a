package sigma

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/capture"
	"github.com/hostsec/bpf-sentry/database"
)

const shadowRule = `title: Shadow file read
id: test-shadow-read
status: experimental
level: high
logsource:
  category: file_event
detection:
  selection:
    TargetFilename: /etc/shadow
  condition: selection
`

func newTestDetector(t *testing.T, rules map[string]string) (*Detector, *database.DB) {
	t.Helper()

	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0755))
	for name, content := range rules {
		require.NoError(t, os.WriteFile(filepath.Join(rulesDir, name), []byte(content), 0644))
	}

	db, err := database.NewDB(filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := NewDetector(zap.NewNop().Sugar(), rulesDir, db)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, db
}

func TestDetectorLoadsRules(t *testing.T) {
	d, _ := newTestDetector(t, map[string]string{"shadow.yml": shadowRule})
	assert.Equal(t, 1, d.RuleCount())
}

func TestDetectorSkipsInvalidRules(t *testing.T) {
	d, _ := newTestDetector(t, map[string]string{
		"shadow.yml": shadowRule,
		"junk.yml":   "not: [a, rule",
		"notes.txt":  "ignored entirely",
	})
	assert.Equal(t, 1, d.RuleCount())
}

func TestCheckEventMatchAndStore(t *testing.T) {
	d, db := newTestDetector(t, map[string]string{"shadow.yml": shadowRule})

	rec := &database.EventRecord{
		EventType: capture.EventFileAccess,
		TypeName:  "FILE_ACCESS",
		PID:       77,
		Comm:      "cat",
		Path:      "/etc/shadow",
	}
	id, err := db.InsertEvent(rec)
	require.NoError(t, err)
	rec.ID = id

	matches := d.CheckEvent(context.Background(), rec)
	assert.Equal(t, 1, matches)

	stored, err := db.ListMatches(10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "test-shadow-read", stored[0].RuleID)
	assert.Equal(t, "high", stored[0].Severity)
	assert.Equal(t, id, stored[0].EventID)
}

func TestCheckEventNoMatch(t *testing.T) {
	d, db := newTestDetector(t, map[string]string{"shadow.yml": shadowRule})

	rec := &database.EventRecord{
		EventType: capture.EventFileAccess,
		TypeName:  "FILE_ACCESS",
		Comm:      "cat",
		Path:      "/etc/hostname",
	}
	matches := d.CheckEvent(context.Background(), rec)
	assert.Zero(t, matches)

	stored, err := db.ListMatches(10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEventFieldsByType(t *testing.T) {
	spawn := eventFields(&database.EventRecord{
		EventType: capture.EventProcessSpawn,
		Path:      "/usr/bin/nc",
	})
	assert.Equal(t, "/usr/bin/nc", spawn["Image"])
	assert.NotContains(t, spawn, "TargetFilename")

	file := eventFields(&database.EventRecord{
		EventType: capture.EventFileAccess,
		Path:      "/etc/passwd",
	})
	assert.Equal(t, "/etc/passwd", file["TargetFilename"])
	assert.NotContains(t, file, "Image")
}
