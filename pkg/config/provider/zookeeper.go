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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

const zkSessionTimeout = 10 * time.Second

// ZookeeperProvider reads the config document from a ZooKeeper node.
type ZookeeperProvider struct {
	conn   *zk.Conn
	path   string
	logger *slog.Logger
	guard  watchGuard
}

// NewZookeeperProvider connects to the ensemble at endpoints.
func NewZookeeperProvider(endpoints []string, path string, logger *slog.Logger) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := zk.Connect(endpoints, zkSessionTimeout, zk.WithLogger(zkLogger{logger}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, path: path, logger: logger}, nil
}

func (p *ZookeeperProvider) Type() Type { return TypeZookeeper }

func (p *ZookeeperProvider) Load(context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ctx, err := p.guard.start(ctx, p.path)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go p.loop(ctx, ch)

	p.logger.Info("Watching zookeeper node", "path", p.path)
	return ch, nil
}

// loop re-arms the one-shot ZooKeeper watch after every event. While the
// node is missing it waits for it to be created.
func (p *ZookeeperProvider) loop(ctx context.Context, ch chan struct{}) {
	defer close(ch)

	for {
		_, _, events, err := p.conn.GetW(p.path)
		if errors.Is(err, zk.ErrNoNode) {
			_, _, events, err = p.conn.ExistsW(p.path)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Zookeeper watch error", "path", p.path, "error", err)
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case zk.EventNodeDataChanged, zk.EventNodeCreated:
				p.logger.Debug("Zookeeper node changed", "path", p.path)
				notify(ch)
			case zk.EventNodeDeleted:
				p.logger.Warn("Zookeeper config node deleted", "path", p.path)
			case zk.EventNotWatching:
				p.logger.Warn("Zookeeper watch lost", "path", p.path)
			}
		}
	}
}

func (p *ZookeeperProvider) Close() error {
	p.guard.stop()
	p.conn.Close()
	return nil
}

// zkLogger routes the client's connection chatter to debug level.
type zkLogger struct {
	logger *slog.Logger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

var _ Provider = (*ZookeeperProvider)(nil)
