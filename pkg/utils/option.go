// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package utils

import (
	"fmt"
	"strconv"
)

// Option is a loosely typed option bag keyed by dotted option names
// ("listen.language", "speaker.voice"). Values come from configuration or
// per-call overrides, so getters coerce the common JSON/YAML decodings.
type Option map[string]interface{}

// GetString returns the option as a string.
func (o Option) GetString(key string) (string, error) {
	v, ok := o[key]
	if !ok {
		return "", fmt.Errorf("option %q not set", key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// GetBool returns the option as a bool. String values parse via strconv.
func (o Option) GetBool(key string) (bool, error) {
	v, ok := o[key]
	if !ok {
		return false, fmt.Errorf("option %q not set", key)
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("option %q: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("option %q is %T, not bool", key, v)
	}
}

// GetUint64 returns the option as a uint64. Numeric JSON values arrive as
// float64; config strings parse via strconv.
func (o Option) GetUint64(key string) (uint64, error) {
	v, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q not set", key)
	}
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint:
		return uint64(t), nil
	case int:
		if t < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(t), nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(t), nil
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(t), nil
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("option %q is %T, not integer", key, v)
	}
}

// GetFloat64 returns the option as a float64.
func (o Option) GetFloat64(key string) (float64, error) {
	v, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q not set", key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("option %q is %T, not number", key, v)
	}
}

// GetStrings returns the option as a string slice. Scalar strings come back
// as a one-element slice; []interface{} elements are stringified.
func (o Option) GetStrings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok {
		return nil, fmt.Errorf("option %q not set", key)
	}
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out, nil
	case string:
		return []string{t}, nil
	default:
		return nil, fmt.Errorf("option %q is %T, not string list", key, v)
	}
}

// Merge returns a new Option with overrides applied on top of o.
func (o Option) Merge(overrides Option) Option {
	merged := make(Option, len(o)+len(overrides))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
