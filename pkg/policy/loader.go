package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 500 * time.Millisecond

// Loader reads user policies from .rego and .json files.
//
// A .rego file is named after its base name. Leading comments form the
// description, and two directives are recognised:
//
//	# severity: warning
//	# kinds: file, sql
//
// kinds limits the inputs the policy is evaluated against; without it the
// policy sees every input.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	policy  Policy
	modTime time.Time
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

// LoadFromPaths loads every policy under paths. A path may be a file or a
// directory, which is walked recursively; unreadable files inside a
// directory are skipped with a warning.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", p, err)
		}
		if !info.IsDir() {
			policy, err := l.loadFromFile(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, *policy)
			continue
		}
		policies, err := l.loadFromDirectory(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, policies...)
	}

	l.logger.Info().Int("total", len(out)).Int("sources", len(paths)).Msg("Policies loaded")
	return out, nil
}

func isPolicyFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".rego" || ext == ".json"
}

func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(p) {
			return nil
		}
		policy, err := l.loadFromFile(ctx, p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return policies, nil
}

// loadFromFile returns the cached policy while the file's modification time
// is unchanged.
func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy: %w", err)
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		p := cached.policy
		return &p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var policy *Policy
	switch filepath.Ext(path) {
	case ".rego":
		policy = parseRego(path, string(data))
	case ".json":
		if policy, err = parseJSONPolicy(path, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file %s", path)
	}
	policy.UpdatedAt = info.ModTime()

	l.mu.Lock()
	l.cache[path] = cachedPolicy{policy: *policy, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", policy.Name).Strs("kinds", policy.Kinds).Msg("Policy loaded")
	return policy, nil
}

func parseRego(path, src string) *Policy {
	h := parseHeader(src)
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: h.description,
		Rego:        src,
		Severity:    h.severity,
		Kinds:       h.kinds,
		Enabled:     true,
		Source:      path,
	}
}

func parseJSONPolicy(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.Name == "" || p.Rego == "" {
		return nil, fmt.Errorf("%s: policy needs name and rego", path)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	p.Source = path
	return &p, nil
}

type header struct {
	description string
	severity    Severity
	kinds       []string
}

// parseHeader reads the first comment block of a Rego source. Severity
// defaults to error so user policies block unless they say otherwise.
func parseHeader(src string) header {
	h := header{severity: SeverityError}
	var desc []string
	started := false
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && started {
				break
			}
			continue
		}
		started = true
		comment = strings.TrimSpace(comment)

		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			switch sev := Severity(strings.TrimSpace(v)); sev {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				h.severity = sev
			}
			continue
		}
		if v, ok := strings.CutPrefix(comment, "kinds:"); ok {
			for _, k := range strings.Split(v, ",") {
				if k = strings.TrimSpace(k); k != "" {
					h.kinds = append(h.kinds, k)
				}
			}
			continue
		}
		if comment != "" {
			desc = append(desc, comment)
		}
	}
	h.description = strings.Join(desc, " ")
	return h
}

// Watch reloads paths after policy files change and hands the fresh set to
// reload. Events are watched on the directories, so editors that save by
// rename are seen too. Watch returns once the watcher is running; it stops
// when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Not watching policy path")
			continue
		}
		dirs := []string{filepath.Dir(p)}
		if info.IsDir() {
			dirs = subdirectories(p)
		}
		for _, d := range dirs {
			if err := watcher.Add(d); err != nil {
				l.logger.Warn().Err(err).Str("dir", d).Msg("Not watching policy directory")
			}
		}
	}

	go l.watchLoop(ctx, watcher, paths, reload)
	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

func subdirectories(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	return dirs
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	defer watcher.Close()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")
			l.forget(ev.Name)
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
				continue
			}
			l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// ClearCache drops every cached policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedPolicy)
	l.mu.Unlock()
}
