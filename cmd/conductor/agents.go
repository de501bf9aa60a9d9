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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/runtime"
)

// AgentsCmd lists the agents a configuration provides, without starting
// the server.
type AgentsCmd struct {
	JSON bool `help:"Print the agent list as JSON."`
}

func (c *AgentsCmd) Run(cli *CLI) error {
	return c.run(context.Background(), cli.source(cli.Config), os.Stdout)
}

func (c *AgentsCmd) run(ctx context.Context, src configSource, w io.Writer) error {
	cfg, loader, err := loadConfig(ctx, src)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	// Listing needs no persisted documents.
	docs, err := docstore.New(docstore.Config{}, slog.Default())
	if err != nil {
		return err
	}
	registry, err := runtime.NewRegistry(cfg.Agents, docs, slog.Default(), nil)
	if err != nil {
		return err
	}
	agents := registry.ListAvailable()

	if c.JSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(agents)
	}

	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents configured.")
		return nil
	}
	fmt.Fprintln(w, "Available agents:")
	for _, info := range agents {
		desc := info.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(w, "  - %s (%s): %s\n", info.Type, info.Name, desc)
		names := make([]string, 0, len(info.Actions))
		for _, a := range info.Actions {
			names = append(names, a.Name)
		}
		fmt.Fprintf(w, "      actions: %s\n", strings.Join(names, ", "))
		if info.Endpoint != "" {
			fmt.Fprintf(w, "      endpoint: %s\n", info.Endpoint)
		}
	}
	return nil
}
