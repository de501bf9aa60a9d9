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
	"sync"
	"time"
)

// watchRetryDelay spaces out retries after a key-value store error.
const watchRetryDelay = 2 * time.Second

// watchGuard allows a single watch per provider and cancels it on Close.
type watchGuard struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func (g *watchGuard) start(ctx context.Context, what string) (context.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("provider is closed")
	}
	if g.cancel != nil {
		return nil, fmt.Errorf("already watching %s", what)
	}
	ctx, g.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (g *watchGuard) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// sleepCtx waits for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
