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

// Package provider abstracts where raw configuration bytes come from.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Type identifies a config source.
type Type string

const (
	TypeFile      Type = "file"
	TypeStatic    Type = "static"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type. Empty means file.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return TypeFile, nil
	case "static":
		return TypeStatic, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("invalid config type: %s (valid types: file, consul, etcd, zookeeper)", s)
	}
}

// DefaultEndpoints returns the local address of a key-value store.
func DefaultEndpoints(t Type) []string {
	switch t {
	case TypeConsul:
		return []string{"localhost:8500"}
	case TypeEtcd:
		return []string{"localhost:2379"}
	case TypeZookeeper:
		return []string{"localhost:2181"}
	default:
		return nil
	}
}

// Provider is a config source. Implementations must be safe for
// concurrent use.
type Provider interface {
	Type() Type

	// Load reads raw config bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source changes.
	// A nil channel means the source cannot be watched. Cancel ctx to stop.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// Options configures provider creation.
type Options struct {
	Type Type

	// Path is the config file path, or the key holding the document in a
	// key-value store.
	Path string

	// Endpoints of the key-value store. Defaults to the local address.
	Endpoints []string

	// Data is the document served by a static provider.
	Data []byte

	Logger *slog.Logger
}

// New creates a Provider. Key-value providers connect immediately.
func New(opts Options) (Provider, error) {
	if opts.Type != TypeStatic && opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints(opts.Type)
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path, opts.Logger)
	case TypeStatic:
		return NewStaticProvider(opts.Data), nil
	case TypeConsul:
		return NewConsulProvider(endpoints[0], opts.Path, opts.Logger)
	case TypeEtcd:
		return NewEtcdProvider(endpoints, opts.Path, opts.Logger)
	case TypeZookeeper:
		return NewZookeeperProvider(endpoints, opts.Path, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// StaticProvider serves a fixed document. It never changes.
type StaticProvider struct {
	data []byte
}

// NewStaticProvider copies data into a new provider.
func NewStaticProvider(data []byte) *StaticProvider {
	return &StaticProvider{data: append([]byte(nil), data...)}
}

func (p *StaticProvider) Type() Type { return TypeStatic }

func (p *StaticProvider) Load(context.Context) ([]byte, error) {
	return append([]byte(nil), p.data...), nil
}

func (p *StaticProvider) Watch(context.Context) (<-chan struct{}, error) { return nil, nil }

func (p *StaticProvider) Close() error { return nil }

var _ Provider = (*StaticProvider)(nil)
