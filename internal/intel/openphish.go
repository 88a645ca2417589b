package intel

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
)

// Feed is the in-memory OpenPhish blocklist, optionally merged with a local
// override file. Membership checks are exact-match on the full URL.
type Feed struct {
	feedURL  string
	local    string
	interval time.Duration
	client   *http.Client
	log      *zap.Logger

	mu     sync.RWMutex
	remote map[string]struct{}
	extra  map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewFeed creates an unloaded feed.
func NewFeed(cfg config.IntelConfig, log *zap.Logger) *Feed {
	return &Feed{
		feedURL:  cfg.OpenPhishFeedURL,
		local:    cfg.LocalFeedPath,
		interval: cfg.RefreshIntervalDuration(),
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		remote:   make(map[string]struct{}),
		extra:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Load fetches the remote feed and reads the local override file once.
// A failed fetch leaves the previous snapshot in place.
func (f *Feed) Load(ctx context.Context) error {
	if err := f.loadRemote(ctx); err != nil {
		return err
	}
	f.loadLocal()
	return nil
}

func (f *Feed) loadRemote(ctx context.Context) error {
	if f.feedURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch openphish feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch openphish feed: status %d", resp.StatusCode)
	}

	urls := make(map[string]struct{})
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read openphish feed: %w", err)
	}

	f.mu.Lock()
	f.remote = urls
	f.mu.Unlock()

	f.log.Info("openphish feed loaded", zap.Int("urls", len(urls)))
	return nil
}

func (f *Feed) loadLocal() {
	if f.local == "" {
		return
	}

	data, err := os.ReadFile(f.local)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("local blocklist unreadable", zap.String("path", f.local), zap.Error(err))
		}
		return
	}

	urls := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls[line] = struct{}{}
	}

	f.mu.Lock()
	f.extra = urls
	f.mu.Unlock()

	f.log.Info("local blocklist loaded", zap.String("path", f.local), zap.Int("urls", len(urls)))
}

// Start launches the periodic refresh loop and, when a local override file
// is configured, an fsnotify watcher that reloads it on change.
func (f *Feed) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := f.loadRemote(ctx); err != nil {
					f.log.Warn("openphish refresh failed", zap.Error(err))
				}
			case <-f.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if f.local == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.log.Warn("blocklist watcher unavailable", zap.Error(err))
		return
	}
	// Watch the directory: editors replace files instead of writing in place.
	if err := watcher.Add(filepath.Dir(f.local)); err != nil {
		f.log.Warn("blocklist watch failed", zap.String("path", f.local), zap.Error(err))
		watcher.Close()
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != f.local {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					f.loadLocal()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warn("blocklist watcher error", zap.Error(err))
			case <-f.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates background refresh and watching.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.done) })
	f.wg.Wait()
}

// Contains reports whether the exact URL appears in either list.
func (f *Feed) Contains(url string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.remote[url]; ok {
		return true
	}
	_, ok := f.extra[url]
	return ok
}

// Size returns the combined entry count.
func (f *Feed) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.remote) + len(f.extra)
}
