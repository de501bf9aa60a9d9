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
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
)

// consulWaitTime bounds a single blocking query.
const consulWaitTime = 5 * time.Minute

// ConsulProvider reads the config document from a Consul KV key and
// watches it with blocking queries.
type ConsulProvider struct {
	kv     *api.KV
	key    string
	logger *slog.Logger
	guard  watchGuard
}

// NewConsulProvider creates a client for the agent at address.
func NewConsulProvider(address, key string, logger *slog.Logger) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsulProvider{
		kv:     client.KV(),
		key:    strings.TrimPrefix(key, "/"),
		logger: logger,
	}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ctx, err := p.guard.start(ctx, p.key)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go p.loop(ctx, ch)

	p.logger.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) loop(ctx context.Context, ch chan struct{}) {
	defer close(ch)

	var index uint64
	for {
		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: consulWaitTime}).WithContext(ctx)
		_, meta, err := p.kv.Get(p.key, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn("Consul watch error", "key", p.key, "error", err)
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}

		// The first query only establishes the index.
		if index != 0 && meta.LastIndex != index {
			p.logger.Debug("Consul key changed", "key", p.key, "index", meta.LastIndex)
			notify(ch)
		}
		index = meta.LastIndex
	}
}

func (p *ConsulProvider) Close() error {
	p.guard.stop()
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
