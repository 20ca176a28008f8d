package prompt

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/legionruntime/legion/pkg/models"
)

// DefaultPersonality is the prompt used when neither the pack nor the agent
// profile carries one.
const DefaultPersonality = "You are a capable, reliable personal agent. You act on your owner's behalf, " +
	"use your tools instead of guessing, and keep your replies short and concrete."

// Personalities serves personality prompts from a pack directory of markdown
// files, keyed by filename without extension. The directory is optional; an
// empty path yields a service that always falls back.
type Personalities struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	packs map[string]string

	watcher       *fsnotify.Watcher
	watchMu       sync.Mutex
	watchWg       sync.WaitGroup
	watchCancel   context.CancelFunc
	watchDebounce time.Duration
}

// NewPersonalities creates the service. Call Load before first use.
func NewPersonalities(dir string, logger *slog.Logger) *Personalities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Personalities{
		dir:           dir,
		logger:        logger.With("component", "personalities"),
		packs:         make(map[string]string),
		watchDebounce: 250 * time.Millisecond,
	}
}

// Load scans the pack directory and replaces the in-memory set. Missing
// directories are not an error; the pack is simply empty.
func (p *Personalities) Load() error {
	if p.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	packs := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			p.logger.Warn("personality file unreadable", "file", name, "error", err)
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(name, ".md"))
		packs[key] = content
	}

	p.mu.Lock()
	p.packs = packs
	p.mu.Unlock()
	p.logger.Debug("personalities loaded", "count", len(packs))
	return nil
}

// Get returns the pack entry for key, case-insensitive.
func (p *Personalities) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	content, ok := p.packs[strings.ToLower(strings.TrimSpace(key))]
	return content, ok
}

// Names lists the loaded pack keys, sorted.
func (p *Personalities) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.packs))
	for name := range p.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the personality for an agent: a pack entry named after the
// agent ID wins, then one named after its role, then the profile's stored
// system prompt, then the default. A nil service skips the pack lookups.
func (p *Personalities) Resolve(profile *models.Agent) string {
	if profile == nil {
		return DefaultPersonality
	}
	if p != nil {
		if content, ok := p.Get(profile.ID); ok {
			return content
		}
		if profile.Role != "" {
			if content, ok := p.Get(profile.Role); ok {
				return content
			}
		}
	}
	if prompt := strings.TrimSpace(profile.SystemPrompt); prompt != "" {
		return prompt
	}
	return DefaultPersonality
}

// StartWatching reloads the pack when files under the directory change.
// Safe to call once; subsequent calls are no-ops until Close.
func (p *Personalities) StartWatching(ctx context.Context) error {
	if p.dir == "" {
		return nil
	}

	p.watchMu.Lock()
	if p.watcher != nil {
		p.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.watchMu.Unlock()
		return err
	}
	p.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	p.watchCancel = cancel
	debounce := p.watchDebounce
	p.watchMu.Unlock()

	if err := watcher.Add(p.dir); err != nil {
		p.logger.Warn("personality watch failed", "dir", p.dir, "error", err)
	}

	p.watchWg.Add(1)
	go p.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (p *Personalities) Close() error {
	p.watchMu.Lock()
	if p.watchCancel != nil {
		p.watchCancel()
		p.watchCancel = nil
	}
	watcher := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	p.watchWg.Wait()
	return nil
}

func (p *Personalities) watchLoop(ctx context.Context, debounce time.Duration) {
	defer p.watchWg.Done()
	p.watchMu.Lock()
	watcher := p.watcher
	p.watchMu.Unlock()
	if watcher == nil {
		return
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := p.Load(); err != nil {
				p.logger.Warn("personality reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("personality watch error", "error", err)
		}
	}
}
