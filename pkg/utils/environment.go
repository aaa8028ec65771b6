// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

import "strings"

// Environment identifies the deployment environment of the service.
type Environment string

const (
	PRODUCTION  Environment = "production"
	DEVELOPMENT Environment = "development"
)

// Get returns the canonical string form of the environment.
func (e Environment) Get() string {
	return string(e)
}

// IsProduction reports whether the service runs in production.
func (e Environment) IsProduction() bool {
	return e == PRODUCTION
}

// FromEnvironmentStr parses an environment name, defaulting to development
// for anything unrecognized.
func FromEnvironmentStr(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production":
		return PRODUCTION
	case "development":
		return DEVELOPMENT
	default:
		return DEVELOPMENT
	}
}
