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

// Command conductor runs the task orchestrator and its A2A server.
//
// Usage:
//
//	conductor serve --config conductor.yaml
//	conductor validate conductor.yaml
//	conductor agents --config conductor.yaml
//	conductor serve --config-type consul --config conductor/config
//	conductor schema > conductor.schema.json
package main

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the A2A server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`
	Agents   AgentsCmd   `cmd:"" help:"List the agents a configuration provides."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config          string   `short:"c" help:"Config file path, or the key holding the config in a key-value store." env:"CONDUCTOR_CONFIG"`
	ConfigType      string   `help:"Config source (file, consul, etcd, zookeeper)." default:"file" enum:"file,consul,etcd,zookeeper,zk"`
	ConfigEndpoints []string `help:"Key-value store endpoints (defaults to the local address)." sep:","`

	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	return c.run(os.Stdout)
}

func (c *VersionCmd) run(w io.Writer) error {
	_, err := fmt.Fprintf(w, "conductor version %s\n", version())
	return err
}

// version reports the module version stamped by the go tool.
func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Conductor - task orchestrator for A2A agents"),
		kong.UsageOnError(),
	)

	// Config file logger settings are applied once a command loads one.
	if err := logs.init(cli.logFlags(), nil); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	err := ctx.Run(&cli)
	_ = logs.Close()
	ctx.FatalIfErrorf(err)
}
