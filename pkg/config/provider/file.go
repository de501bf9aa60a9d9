// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceDelay   = 100 * time.Millisecond
	rewatchPeriod   = 500 * time.Millisecond
	rewatchAttempts = 10
)

// FileProvider reads a local file and reports writes to it.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileProvider resolves path to an absolute path. The file does not
// need to exist until Load.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{path: abs, logger: logger}, nil
}

func (p *FileProvider) Type() Type { return TypeFile }

// Path returns the absolute file path.
func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch observes the parent directory, since editors often replace the
// file rather than write it in place. Bursts of events are coalesced.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}
	if p.watcher != nil {
		return nil, fmt.Errorf("already watching %s", p.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	p.watcher = watcher

	ch := make(chan struct{}, 1)
	go p.loop(ctx, watcher, ch)

	p.logger.Info("Watching config file", "path", p.path)
	return ch, nil
}

func (p *FileProvider) loop(ctx context.Context, watcher *fsnotify.Watcher, ch chan struct{}) {
	defer close(ch)

	name := filepath.Base(p.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.stopWatcher(watcher)
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, func() {
					p.logger.Debug("Config file changed", "path", p.path)
					notify(ch)
				})
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				p.logger.Warn("Config file removed", "path", p.path)
				go p.rewatch(ctx, watcher, ch)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("File watcher error", "error", err)
		}
	}
}

// rewatch waits for the file to reappear and signals once it does.
func (p *FileProvider) rewatch(ctx context.Context, watcher *fsnotify.Watcher, ch chan struct{}) {
	ticker := time.NewTicker(rewatchPeriod)
	defer ticker.Stop()

	for i := 0; i < rewatchAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := os.Stat(p.path); err != nil {
			continue
		}
		// The directory watch normally survives; re-adding is harmless.
		_ = watcher.Add(filepath.Dir(p.path))
		p.logger.Info("Config file recreated", "path", p.path)
		notify(ch)
		return
	}
	p.logger.Warn("Config file did not reappear", "path", p.path)
}

func (p *FileProvider) stopWatcher(watcher *fsnotify.Watcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == watcher {
		p.watcher = nil
	}
	watcher.Close()
}

// notify never blocks; a pending signal already covers this change.
func notify(ch chan struct{}) {
	defer func() { _ = recover() }()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close stops any active watch.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
