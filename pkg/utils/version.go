// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

import (
	"strconv"
	"strings"
)

const versionPrefix = "vrsn_"

// GetVersionDefinition parses a pinned resource version of the form
// "vrsn_<n>". It returns nil for empty input, "latest", or anything that
// does not carry a numeric version, which callers treat as "use latest".
func GetVersionDefinition(version string) *uint64 {
	if IsEmpty(version) || version == "latest" {
		return nil
	}
	if !strings.HasPrefix(version, versionPrefix) {
		return nil
	}
	raw := strings.TrimPrefix(version, versionPrefix)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
