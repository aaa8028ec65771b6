// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gorm/caches/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/configs"
)

// PostgresConnector hands out request-scoped gorm handles over a shared pool.
type PostgresConnector interface {
	DB(ctx context.Context) *gorm.DB
	Close() error
}

type gormConnector struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewPostgresConnector opens the postgres pool, applies connection limits
// from config and installs the read-coalescing cache plugin.
func NewPostgresConnector(cfg configs.PostgresConfig, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.DBName, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql pool: %w", err)
	}
	if cfg.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
	}
	if cfg.MaxIdleConnection > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnection)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Coalesce identical concurrent reads; no external cacher configured.
	if err := db.Use(&caches.Caches{Conf: &caches.Config{Easer: true}}); err != nil {
		return nil, fmt.Errorf("failed to install gorm caches plugin: %w", err)
	}

	logger.Infow("connected to postgres", "host", cfg.Host, "db", cfg.DBName)
	return &gormConnector{db: db, logger: logger}, nil
}

// NewSQLiteConnector opens a file or in-memory sqlite database behind the
// same connector interface. Used by the development profile and tests.
func NewSQLiteConnector(path string, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	logger.Infow("connected to sqlite", "path", path)
	return &gormConnector{db: db, logger: logger}, nil
}

// NewConnectorFromDB wraps an existing gorm handle. Used by store tests that
// drive gorm over sqlmock.
func NewConnectorFromDB(db *gorm.DB, logger commons.Logger) PostgresConnector {
	return &gormConnector{db: db, logger: logger}
}

func (c *gormConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *gormConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
