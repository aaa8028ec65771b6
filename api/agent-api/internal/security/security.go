// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_security verifies that webhook requests really come
// from the telephony provider before the call pipeline trusts them:
// HMAC signature validation per provider scheme, a replay window on
// signed timestamps, and proxy-aware client IP extraction.
package internal_security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
)

var (
	ErrInvalidSignature = errors.New("security: invalid signature")
	ErrStaleTimestamp   = errors.New("security: stale timestamp")
	ErrMissingSecret    = errors.New("security: secret not configured")
	ErrUntrustedIP      = errors.New("security: source ip not allowed")
)

// Published webhook source ranges, the allowlist defaults when source IP
// validation is enabled.
var (
	TwilioSourceRanges  = []string{"3.80.0.0/12", "54.244.51.0/24", "54.172.60.0/24", "34.203.250.0/24"}
	SipgateSourceRanges = []string{"217.10.64.0/20"}
)

// Config tunes webhook verification. Tokens left empty disable the
// matching validator (its middleware then rejects everything, which is
// the safe default for a misconfigured deployment).
type Config struct {
	// ValidateSignatures turns signature checking off entirely, for
	// local development only.
	ValidateSignatures bool `mapstructure:"validate_signatures"`

	TwilioAuthToken string `mapstructure:"twilio_auth_token"`
	SipgateAPIToken string `mapstructure:"sipgate_api_token"`

	HMACSecret    string `mapstructure:"hmac_secret"`
	HMACAlgorithm string `mapstructure:"hmac_algorithm"`

	// TimestampTolerance bounds |now - signed timestamp| for schemes
	// that bind one.
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`

	// ValidateSourceIP additionally requires the client IP to fall in
	// the provider's published ranges or AllowedIPs.
	ValidateSourceIP bool     `mapstructure:"validate_source_ip"`
	AllowedIPs       []string `mapstructure:"allowed_ips"`

	// TrustedProxies lists the peers whose X-Forwarded-For and
	// X-Forwarded-Proto headers are believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

func DefaultConfig() Config {
	return Config{
		ValidateSignatures: true,
		HMACAlgorithm:      string(SHA256),
		TimestampTolerance: 300 * time.Second,
	}
}

// IPSet is a parsed list of single addresses and CIDR ranges, IPv4 and
// IPv6 mixed freely.
type IPSet struct {
	prefixes []netip.Prefix
}

// ParseIPSet builds an IPSet. Entries without a slash are treated as
// single-address prefixes; blank entries are skipped.
func ParseIPSet(entries []string) (*IPSet, error) {
	s := &IPSet{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("security: bad cidr %q: %w", entry, err)
			}
			s.prefixes = append(s.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("security: bad address %q: %w", entry, err)
		}
		s.prefixes = append(s.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return s, nil
}

// Contains reports whether ip falls in the set. Unparseable input and a
// nil or empty set never match.
func (s *IPSet) Contains(ip string) bool {
	if s == nil || len(s.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	// 4-in-6 peers from dual-stack listeners should match v4 ranges.
	addr = addr.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *IPSet) Empty() bool { return s == nil || len(s.prefixes) == 0 }

// directPeer is the connection's remote address with the port stripped.
func directPeer(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIP returns the originating address of a request. X-Forwarded-For
// is client-controlled, so its first entry is honored only when the
// direct peer is a trusted proxy; otherwise the peer address wins.
func ClientIP(r *http.Request, proxies *IPSet) string {
	direct := directPeer(r)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" || !proxies.Contains(direct) {
		return direct
	}
	first := forwarded
	if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
		first = forwarded[:idx]
	}
	return strings.TrimSpace(first)
}

// TimestampValidator rejects signed timestamps outside the replay
// window.
type TimestampValidator struct {
	tolerance time.Duration
	clock     internal_capability.Clock
}

func NewTimestampValidator(tolerance time.Duration, clock internal_capability.Clock) *TimestampValidator {
	if tolerance <= 0 {
		tolerance = 300 * time.Second
	}
	if clock == nil {
		clock = internal_capability.SystemClock()
	}
	return &TimestampValidator{tolerance: tolerance, clock: clock}
}

// Validate parses a unix-seconds timestamp (integer or fractional) and
// checks |now - timestamp| against the tolerance.
func (v *TimestampValidator) Validate(timestamp string) error {
	ts, err := strconv.ParseFloat(strings.TrimSpace(timestamp), 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	age := v.clock.Now().Sub(time.Unix(sec, nsec))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return ErrStaleTimestamp
	}
	return nil
}
