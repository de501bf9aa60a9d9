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
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/conductor/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	// Path falls back to the global --config flag.
	Path string `arg:"" optional:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Path
	if path == "" {
		path = cli.Config
	}
	return c.run(context.Background(), cli.source(path), os.Stdout, os.Stderr)
}

func (c *ValidateCmd) run(ctx context.Context, src configSource, stdout, stderr io.Writer) error {
	path := src.path
	if path == "" {
		return errors.New("a config file is required (argument or --config)")
	}

	cfg, loader, err := loadConfig(ctx, src)
	if err != nil {
		return c.printLoadError(stdout, stderr, path, err)
	}
	defer loader.Close()

	if c.PrintConfig {
		return c.printExpandedConfig(stdout, path, cfg)
	}
	c.printSuccess(stdout, path)
	return nil
}

// ValidationError is a single problem in the json output.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type validateOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (c *ValidateCmd) printLoadError(stdout, stderr io.Writer, file string, err error) error {
	switch c.Format {
	case "json":
		writeValidateJSON(stdout, validateOutput{File: file, Errors: []ValidationError{{Type: "load", Message: err.Error()}}})
	case "verbose":
		fmt.Fprintf(stderr, "Configuration Load Error\n")
		fmt.Fprintf(stderr, "========================\n\n")
		fmt.Fprintf(stderr, "File:    %s\n", file)
		fmt.Fprintf(stderr, "Error:   %s\n", err.Error())
	default:
		fmt.Fprintf(stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config load failed")
}

func (c *ValidateCmd) printSuccess(w io.Writer, file string) {
	switch c.Format {
	case "json":
		writeValidateJSON(w, validateOutput{Valid: true, File: file})
	case "verbose":
		fmt.Fprintf(w, "Configuration Validation Successful\n")
		fmt.Fprintf(w, "===================================\n\n")
		fmt.Fprintf(w, "File:   %s\n", file)
		fmt.Fprintf(w, "Status: OK Valid\n")
	default:
		fmt.Fprintf(w, "%s: valid\n", file)
	}
}

func (c *ValidateCmd) printExpandedConfig(w io.Writer, file string, cfg *config.Config) error {
	if c.Format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
		return nil
	}

	fmt.Fprintf(w, "# Expanded Configuration from: %s\n", file)
	fmt.Fprintf(w, "# (defaults applied, env vars resolved)\n\n")

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return encoder.Close()
}

func writeValidateJSON(w io.Writer, out validateOutput) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
