// Package sigma evaluates consumed security events against Sigma
// rules and records the hits.
package sigma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/capture"
	"github.com/hostsec/bpf-sentry/database"
)

// Detector holds the compiled rule evaluators. Rules are reloaded
// automatically when files in the rules directory change.
type Detector struct {
	logger   *zap.SugaredLogger
	rulesDir string
	db       *database.DB
	watcher  *fsnotify.Watcher

	mu         sync.RWMutex
	evaluators map[string]*evaluator.RuleEvaluator
}

func fieldConfig() sigma.Config {
	return sigma.Config{
		Title: "bpf-sentry field mappings",
		FieldMappings: map[string]sigma.FieldMapping{
			"Image":          {TargetNames: []string{"Image"}},
			"TargetFilename": {TargetNames: []string{"TargetFilename"}},
			"User":           {TargetNames: []string{"User"}},
			"ProcessId":      {TargetNames: []string{"ProcessId"}},
			"CommandName":    {TargetNames: []string{"CommandName"}},
		},
	}
}

// NewDetector loads rules from rulesDir and starts watching it for
// changes.
func NewDetector(logger *zap.SugaredLogger, rulesDir string, db *database.DB) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	d := &Detector{
		logger:     logger,
		rulesDir:   rulesDir,
		db:         db,
		watcher:    watcher,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
	}

	if err := os.MkdirAll(rulesDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create rules directory: %v", err)
	}
	if err := d.LoadRules(); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(rulesDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %v", rulesDir, err)
	}
	go d.watchRuleChanges()

	return d, nil
}

// LoadRules replaces the evaluator set with the rules currently on
// disk. Unparseable files are skipped with a warning.
func (d *Detector) LoadRules() error {
	files, err := os.ReadDir(d.rulesDir)
	if err != nil {
		return fmt.Errorf("failed to read rules directory: %v", err)
	}

	evaluators := make(map[string]*evaluator.RuleEvaluator)
	for _, file := range files {
		ext := filepath.Ext(file.Name())
		if file.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		path := filepath.Join(d.rulesDir, file.Name())

		content, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warnw("failed to read rule file", "path", path, "error", err)
			continue
		}
		if sigma.InferFileType(content) != sigma.RuleFile {
			continue
		}
		rule, err := sigma.ParseRule(content)
		if err != nil {
			d.logger.Warnw("failed to parse rule file", "path", path, "error", err)
			continue
		}

		evaluators[rule.ID] = evaluator.ForRule(rule,
			evaluator.WithConfig(fieldConfig()),
			evaluator.WithPlaceholderExpander(func(ctx context.Context, name string) ([]string, error) {
				return nil, nil
			}),
		)
	}

	d.mu.Lock()
	d.evaluators = evaluators
	d.mu.Unlock()

	d.logger.Infow("loaded sigma rules", "count", len(evaluators), "dir", d.rulesDir)
	return nil
}

func (d *Detector) watchRuleChanges() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yml") && !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.logger.Infow("rule change detected, reloading", "file", event.Name)
				if err := d.LoadRules(); err != nil {
					d.logger.Errorw("rule reload failed", "error", err)
				}
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorw("rule watcher error", "error", err)
		}
	}
}

// eventFields flattens an event record into the field names the rule
// config maps from.
func eventFields(rec *database.EventRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"EventType":   rec.TypeName,
		"ProcessId":   int(rec.PID),
		"CommandName": rec.Comm,
		"User":        rec.Username,
	}
	switch rec.EventType {
	case capture.EventFileAccess:
		fields["TargetFilename"] = rec.Path
	case capture.EventProcessSpawn:
		fields["Image"] = rec.Path
	}
	return fields
}

// CheckEvent evaluates a stored event against all loaded rules and
// persists any hits. Returns the number of matches.
func (d *Detector) CheckEvent(ctx context.Context, rec *database.EventRecord) int {
	fields := eventFields(rec)

	d.mu.RLock()
	evaluators := d.evaluators
	d.mu.RUnlock()

	matches := 0
	for _, ruleEvaluator := range evaluators {
		result, err := ruleEvaluator.Matches(ctx, fields)
		if err != nil {
			d.logger.Debugw("rule evaluation failed", "rule", ruleEvaluator.Rule.ID, "error", err)
			continue
		}
		if !result.Match {
			continue
		}
		matches++

		err = d.db.InsertMatch(&database.MatchRecord{
			EventID:  rec.ID,
			RuleID:   ruleEvaluator.Rule.ID,
			RuleName: ruleEvaluator.Rule.Title,
			Severity: ruleEvaluator.Rule.Level,
			PID:      rec.PID,
			Comm:     rec.Comm,
			Path:     rec.Path,
		})
		if err != nil {
			d.logger.Errorw("failed to store rule match", "rule", ruleEvaluator.Rule.ID, "error", err)
		}
	}
	return matches
}

// RuleCount returns how many rules are currently loaded.
func (d *Detector) RuleCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.evaluators)
}

// Close stops the rule watcher.
func (d *Detector) Close() error {
	return d.watcher.Close()
}
