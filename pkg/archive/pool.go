// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/conductor/pkg/config"
)

// Pool shares *sql.DB handles by DSN.
// SQLite handles are limited to a single connection.
type Pool struct {
	mu     sync.Mutex
	dbs    map[string]*sql.DB
	logger *slog.Logger
}

// NewPool creates an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		dbs:    make(map[string]*sql.DB),
		logger: logger,
	}
}

// Get returns the handle for cfg, opening it on first use.
func (p *Pool) Get(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dsn := cfg.DSN()
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}

	db, err := p.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.dbs[dsn] = db
	return db, nil
}

func (p *Pool) open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	driverName := cfg.DriverName()

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			p.logger.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			p.logger.Warn("Failed to set busy timeout", "error", err)
		}
	}

	p.logger.Debug("Opened database", "driver", driverName)
	return db, nil
}

// Close closes every handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", dsn, err))
		}
	}
	p.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}

// Open is a convenience that opens cfg from pool and creates the archive.
func Open(ctx context.Context, pool *Pool, cfg *config.DatabaseConfig, logger *slog.Logger) (*SQLArchive, error) {
	db, err := pool.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(db, cfg.Dialect(), logger)
}
