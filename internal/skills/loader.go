package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ToolExists reports whether a tool name is registered, satisfied by
// (*toolregistry.Registry).Get's presence check.
type ToolExists func(name string) bool

// Loader discovers bundles under a directory (one subdirectory per skill,
// each holding a SKILL.md) and holds the current valid set, hot-reloadable
// via Reload. Reads of the current set never block a concurrent Reload:
// the whole map is swapped atomically once a reload fully validates.
type Loader struct {
	dir        string
	toolExists ToolExists
	logger     *slog.Logger

	current atomic.Pointer[map[string]*Bundle]
}

// NewLoader builds a Loader rooted at dir. toolExists validates each
// bundle's declared tools at load time.
func NewLoader(dir string, toolExists ToolExists, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{dir: dir, toolExists: toolExists, logger: logger.With("component", "skills")}
	empty := map[string]*Bundle{}
	l.current.Store(&empty)
	return l
}

// Reload rescans the directory and atomically replaces the current bundle
// set, so a reload mid-run swaps in cleanly between turns rather than
// partway through one. A bundle that fails to parse or validate is
// rejected with a log entry and does not replace a previously valid
// bundle of the same name; every other bundle still loads.
func (l *Loader) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read skills directory: %w", err)
	}

	previous := *l.current.Load()
	next := make(map[string]*Bundle, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), BundleFilename)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		bundle, err := ParseFile(path)
		if err != nil {
			l.logger.Warn("skills: rejecting invalid bundle", "path", path, "error", err)
			if prev, ok := previous[entry.Name()]; ok {
				next[prev.Name] = prev
			}
			continue
		}

		if l.toolExists != nil {
			if err := bundle.ValidateTools(l.toolExists); err != nil {
				l.logger.Warn("skills: rejecting bundle with unknown tool", "path", path, "error", err)
				if prev, ok := previous[bundle.Name]; ok {
					next[prev.Name] = prev
				}
				continue
			}
		}

		if existing, ok := next[bundle.Name]; ok {
			l.logger.Warn("skills: duplicate skill name, keeping first", "name", bundle.Name, "kept", existing.Path, "rejected", bundle.Path)
			continue
		}

		next[bundle.Name] = bundle
	}

	l.current.Store(&next)
	return nil
}

// ByName returns the named bundle, if currently loaded and valid.
func (l *Loader) ByName(name string) (*Bundle, bool) {
	b, ok := (*l.current.Load())[name]
	return b, ok
}

// MatchTrigger returns the first loaded bundle whose triggers match
// message.
func (l *Loader) MatchTrigger(message string) (*Bundle, bool) {
	for _, b := range *l.current.Load() {
		if b.MatchesTrigger(message) {
			return b, true
		}
	}
	return nil, false
}

// Snapshot returns every currently loaded bundle.
func (l *Loader) Snapshot() []*Bundle {
	current := *l.current.Load()
	out := make([]*Bundle, 0, len(current))
	for _, b := range current {
		out = append(out, b)
	}
	return out
}
