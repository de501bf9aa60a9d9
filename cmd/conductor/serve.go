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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"syscall"

	"github.com/kadirpekel/conductor/pkg/auth"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/config/provider"
	"github.com/kadirpekel/conductor/pkg/runtime"
	"github.com/kadirpekel/conductor/pkg/server"
)

// ServeCmd starts the A2A server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides server.port)."`
	Watch bool `help:"Watch the config file and apply logger changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := cli.logFlags()
	var current atomic.Pointer[config.Config]

	onChange := func(next *config.Config) {
		c.applyOverrides(next)
		if err := logs.init(flags, &next.Logger); err != nil {
			slog.Error("Failed to apply logger config", "error", err)
		}
		if prev := current.Swap(next); prev != nil {
			for _, section := range restartSections(prev, next) {
				slog.Warn("Config change requires a restart", "section", section)
			}
		}
		slog.Info("Configuration reloaded", "path", cli.Config)
	}

	cfg, loader, err := loadConfig(ctx, cli.source(cli.Config), config.WithOnChange(onChange))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	c.applyOverrides(cfg)
	current.Store(cfg)

	if err := logs.init(flags, &cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if c.Watch {
		if loader == nil {
			slog.Warn("Config watching needs --config, ignoring --watch")
		} else {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	validator, err := auth.NewValidatorFromConfig(ctx, &cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			slog.Warn("Runtime shutdown incomplete", "error", err)
		}
	}()

	srv, err := server.New(cfg, rt,
		server.WithAuthValidator(validator),
		server.WithVersion(version()))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printReady(os.Stdout, cfg, rt)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	slog.Info("Shutting down...")
	return nil
}

func (c *ServeCmd) applyOverrides(cfg *config.Config) {
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
}

// restartSections names the sections that differ between prev and next
// and are only read at startup.
func restartSections(prev, next *config.Config) []string {
	sections := []struct {
		name       string
		prev, next any
	}{
		{"server", prev.Server, next.Server},
		{"auth", prev.Auth, next.Auth},
		{"orchestrator", prev.Orchestrator, next.Orchestrator},
		{"docstore", prev.DocStore, next.DocStore},
		{"archive", prev.Archive, next.Archive},
		{"events", prev.Events, next.Events},
		{"mcp", prev.MCP, next.MCP},
		{"observability", prev.Observability, next.Observability},
		{"agents", prev.Agents, next.Agents},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// configSource says where a command reads its configuration.
type configSource struct {
	typ       provider.Type
	path      string
	endpoints []string
}

func (c *CLI) source(path string) configSource {
	// kong has already checked the value against the enum.
	typ, _ := provider.ParseType(c.ConfigType)
	return configSource{typ: typ, path: path, endpoints: c.ConfigEndpoints}
}

// loadConfig reads the env files next to the config and then the config
// itself. Without a path the defaults are used.
func loadConfig(ctx context.Context, src configSource, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	dir := "."
	if src.typ == provider.TypeFile && src.path != "" {
		dir = filepath.Dir(src.path)
	}
	if err := config.LoadEnvFiles(dir); err != nil {
		return nil, nil, fmt.Errorf("failed to load env files: %w", err)
	}

	if src.path == "" {
		cfg, err := config.Parse(nil)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("No config file given, using defaults")
		return cfg, nil, nil
	}

	if src.typ == provider.TypeFile {
		cfg, loader, err := config.LoadConfigFile(ctx, src.path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Loaded configuration", "path", src.path)
		return cfg, loader, nil
	}

	p, err := provider.New(provider.Options{
		Type:      src.typ,
		Path:      src.path,
		Endpoints: src.endpoints,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s config provider: %w", src.typ, err)
	}
	loader := config.NewLoader(p, append([]config.LoaderOption{config.WithLoaderLogger(slog.Default())}, opts...)...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", src.typ, err)
	}
	slog.Info("Loaded configuration", "source", src.typ, "key", src.path)
	return cfg, loader, nil
}

func printReady(w io.Writer, cfg *config.Config, rt *runtime.Runtime) {
	base := cfg.Server.ResolvedBaseURL()

	fmt.Fprintf(w, "\nConductor server ready\n")
	fmt.Fprintf(w, "   Agent Card:  %s/.well-known/agent-card.json\n", base)
	fmt.Fprintf(w, "   Tasks API:   %s/api/agents\n", base)
	fmt.Fprintf(w, "   Health:      %s/health\n", base)
	if cfg.MCP.IsEnabled() {
		fmt.Fprintf(w, "   MCP:         %s%s\n", base, cfg.MCP.Path)
	}
	if cfg.Observability.Metrics.Enabled {
		fmt.Fprintf(w, "   Metrics:     %s%s\n", base, rt.Observability().MetricsPath())
	}
	if cfg.Archive.Enabled {
		fmt.Fprintf(w, "   Archive:     %s (%s)\n", cfg.Archive.Database.Driver, cfg.Archive.Database.Database)
	}
	if cfg.Auth.Enabled {
		fmt.Fprintf(w, "   Auth:        bearer tokens required\n")
	}

	fmt.Fprintln(w, "\n   Agents (A2A JSON-RPC endpoints):")
	for _, info := range rt.Registry().ListAvailable() {
		fmt.Fprintf(w, "     - %s/a2a/agents/%s\n", base, info.Type)
	}
	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}
