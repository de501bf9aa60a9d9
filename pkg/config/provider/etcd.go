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
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdDialTimeout = 5 * time.Second

// EtcdProvider reads the config document from an etcd key.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
	logger *slog.Logger
	guard  watchGuard
}

// NewEtcdProvider connects to the etcd cluster at endpoints.
func NewEtcdProvider(endpoints []string, key string, logger *slog.Logger) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EtcdProvider{client: client, key: key, logger: logger}, nil
}

func (p *EtcdProvider) Type() Type { return TypeEtcd }

func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ctx, err := p.guard.start(ctx, p.key)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go p.loop(ctx, p.client.Watch(ctx, p.key), ch)

	p.logger.Info("Watching etcd key", "key", p.key)
	return ch, nil
}

func (p *EtcdProvider) loop(ctx context.Context, wch clientv3.WatchChan, ch chan struct{}) {
	defer close(ch)

	for resp := range wch {
		if err := resp.Err(); err != nil {
			p.logger.Warn("Etcd watch error", "key", p.key, "error", err)
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				p.logger.Warn("Etcd config key deleted", "key", p.key)
				continue
			}
			p.logger.Debug("Etcd key changed", "key", p.key, "revision", ev.Kv.ModRevision)
			notify(ch)
		}
	}
	if ctx.Err() == nil {
		p.logger.Warn("Etcd watch closed", "key", p.key)
	}
}

func (p *EtcdProvider) Close() error {
	p.guard.stop()
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
