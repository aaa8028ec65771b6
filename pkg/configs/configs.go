// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package configs

import "fmt"

// PostgresAuth carries database credentials.
type PostgresAuth struct {
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// PostgresConfig configures the primary relational store.
type PostgresConfig struct {
	Host              string       `mapstructure:"host" validate:"required"`
	Port              int          `mapstructure:"port" validate:"required"`
	DBName            string       `mapstructure:"db_name" validate:"required"`
	Auth              PostgresAuth `mapstructure:"auth"`
	MaxOpenConnection int          `mapstructure:"max_open_connection"`
	MaxIdleConnection int          `mapstructure:"max_idle_connection"`
	SSLMode           string       `mapstructure:"ssl_mode"`
}

// DSN renders the gorm/pgx connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Auth.User, c.Auth.Password, c.DBName, sslMode)
}

// RedisConfig configures the shared redis instance used for distributed
// coordination (RTP port pool, transient session state).
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders the host:port pair for the redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
