// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"
	"time"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
)

// Algorithm selects the digest for the generic validator.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// TwilioValidator checks X-Twilio-Signature headers: HMAC-SHA1 over the
// full request URL with the sorted POST parameters appended as key-value
// pairs, base64 encoded.
type TwilioValidator struct {
	authToken []byte
}

func NewTwilioValidator(authToken string) *TwilioValidator {
	return &TwilioValidator{authToken: []byte(authToken)}
}

// Validate compares the presented signature against the one derived from
// url and params in constant time.
func (v *TwilioValidator) Validate(signature, url string, params map[string]string) error {
	if len(v.authToken) == 0 {
		return ErrMissingSecret
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// SipgateValidator checks X-Sipgate-Signature headers: HMAC-SHA256 over
// "timestamp.body", hex encoded, with the timestamp bound to a replay
// window.
type SipgateValidator struct {
	apiToken []byte
	ts       *TimestampValidator
}

func NewSipgateValidator(apiToken string, tolerance time.Duration, clock internal_capability.Clock) *SipgateValidator {
	return &SipgateValidator{
		apiToken: []byte(apiToken),
		ts:       NewTimestampValidator(tolerance, clock),
	}
}

func (v *SipgateValidator) Validate(signature, timestamp string, body []byte) error {
	if len(v.apiToken) == 0 {
		return ErrMissingSecret
	}
	mac := hmac.New(sha256.New, v.apiToken)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return v.ts.Validate(timestamp)
}

// HMACValidator is the generic scheme for custom integrations: SHA-256
// or SHA-512 over the raw body, hex encoded, with an optional
// "timestamp." prefix when the caller binds one.
type HMACValidator struct {
	secret  []byte
	newHash func() hash.Hash
}

func NewHMACValidator(secret string, algo Algorithm) (*HMACValidator, error) {
	v := &HMACValidator{secret: []byte(secret)}
	switch algo {
	case SHA256, "":
		v.newHash = sha256.New
	case SHA512:
		v.newHash = sha512.New
	default:
		return nil, fmt.Errorf("security: unsupported algorithm %q", algo)
	}
	return v, nil
}

// Validate checks the signature over body, or over "timestamp.body" when
// timestamp is non-empty. A "sha256="/"sha512=" prefix on the presented
// signature is accepted and stripped.
func (v *HMACValidator) Validate(signature string, body []byte, timestamp string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	mac := hmac.New(v.newHash, v.secret)
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	signature = strings.TrimPrefix(signature, "sha256=")
	signature = strings.TrimPrefix(signature, "sha512=")
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
