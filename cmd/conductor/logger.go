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
	"io"
	"os"
	"sync"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/logger"
)

// Environment variables consulted when the matching flag is unset.
const (
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFileEnvVar   = "LOG_FILE"
	LogFormatEnvVar = "LOG_FORMAT"
)

type logFlags struct {
	level  string
	file   string
	format string
}

func (c *CLI) logFlags() logFlags {
	return logFlags{level: c.LogLevel, file: c.LogFile, format: c.LogFormat}
}

// resolveLogOptions merges logger settings.
// Priority: CLI flags > env vars > config file > defaults.
func resolveLogOptions(flags logFlags, cfg *config.LoggerConfig) logger.Options {
	var opts logger.Options
	if cfg != nil {
		opts = logger.Options{
			Level:      cfg.Level,
			Format:     cfg.Format,
			File:       cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}
	opts.Level = firstNonEmpty(flags.level, os.Getenv(LogLevelEnvVar), opts.Level, "info")
	opts.File = firstNonEmpty(flags.file, os.Getenv(LogFileEnvVar), opts.File)
	opts.Format = firstNonEmpty(flags.format, os.Getenv(LogFormatEnvVar), opts.Format, logger.FormatSimple)
	return opts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// logSession tracks the output of the installed logger so it can be
// replaced when the configuration changes.
type logSession struct {
	mu     sync.Mutex
	closer io.Closer
}

var logs = &logSession{}

// init installs a logger and releases the previous one.
func (s *logSession) init(flags logFlags, cfg *config.LoggerConfig) error {
	closer, err := logger.Init(resolveLogOptions(flags, cfg))
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.closer
	s.closer = closer
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (s *logSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
