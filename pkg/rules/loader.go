package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/topoplan/topoplan/pkg/telemetry"
)

// Loader reads Rego rule packs from files and directories and can watch
// them for changes.
type Loader struct {
	log     *telemetry.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a rule loader.
func NewLoader(log *telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.FromContext(context.Background())
	}
	return &Loader{log: log.NewComponentLogger("rule-loader")}
}

// LoadFromPaths loads every .rego file under the given files or
// directories. The rule id is the file name without extension; the
// severity comes from a "# severity: <level>" header comment and
// defaults to warn.
func (l *Loader) LoadFromPaths(paths []string) ([]Rule, error) {
	var rules []Rule
	for _, path := range paths {
		loaded, err := l.loadPath(path)
		if err != nil {
			return nil, fmt.Errorf("loading rules from %s: %w", path, err)
		}
		rules = append(rules, loaded...)
	}
	l.log.Infof("loaded %d rego rules from %d paths", len(rules), len(paths))
	return rules, nil
}

func (l *Loader) loadPath(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		rule, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		return []Rule{rule}, nil
	}

	var rules []Rule
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".rego") {
			return nil
		}
		rule, err := l.loadFile(p)
		if err != nil {
			l.log.WithError(err).Warnf("skipping rule file %s", p)
			return nil
		}
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (l *Loader) loadFile(path string) (Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSuffix(filepath.Base(path), ".rego")
	severity := headerSeverity(string(data))

	rule, err := NewRegoRule(id, severity, string(data))
	if err != nil {
		return nil, err
	}
	l.log.Debugf("loaded rego rule %s (severity %s) from %s", id, severity, path)
	return rule, nil
}

// headerSeverity scans leading comments for a "# severity: <level>"
// annotation.
func headerSeverity(source string) Severity {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if rest, found := strings.CutPrefix(comment, "severity:"); found {
			if sev, err := ParseSeverity(strings.TrimSpace(rest)); err == nil {
				return sev
			}
		}
	}
	return SeverityWarn
}

// Watch reloads the rule packs whenever a .rego file under the watched
// paths is written or created. Reload events are debounced; reloadFn
// receives the full freshly-loaded rule set.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.WithError(err).Warnf("cannot watch %s", path)
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.log.WithError(err).Warnf("cannot watch %s", path)
		}
	}

	go l.processEvents(ctx, paths, reloadFn)
	l.log.Infof("watching %d rule paths", len(paths))
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Rule) error) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			l.log.Debugf("rule file changed: %s (%s)", event.Name, event.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				rules, err := l.LoadFromPaths(paths)
				if err != nil {
					l.log.WithError(err).Error("rule reload failed")
					return
				}
				if err := reloadFn(rules); err != nil {
					l.log.WithError(err).Error("applying reloaded rules failed")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.WithError(err).Error("rule watcher error")
		}
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
