// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_security

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	"github.com/praxisvoice/pkg/commons"
)

// Guard bundles the validators and IP checks behind gin middleware for
// the webhook routes. A rejected request is answered with 403 and never
// reaches the call pipeline.
type Guard struct {
	cfg    Config
	logger commons.Logger

	twilio  *TwilioValidator
	sipgate *SipgateValidator
	hmac    *HMACValidator

	proxies    *IPSet
	allowed    *IPSet
	twilioIPs  *IPSet
	sipgateIPs *IPSet
}

func NewGuard(cfg Config, clock internal_capability.Clock, logger commons.Logger) (*Guard, error) {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	if cfg.TimestampTolerance <= 0 {
		cfg.TimestampTolerance = 300 * time.Second
	}
	hmacValidator, err := NewHMACValidator(cfg.HMACSecret, Algorithm(cfg.HMACAlgorithm))
	if err != nil {
		return nil, err
	}
	proxies, err := ParseIPSet(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	allowed, err := ParseIPSet(cfg.AllowedIPs)
	if err != nil {
		return nil, err
	}
	twilioIPs, err := ParseIPSet(TwilioSourceRanges)
	if err != nil {
		return nil, err
	}
	sipgateIPs, err := ParseIPSet(SipgateSourceRanges)
	if err != nil {
		return nil, err
	}
	return &Guard{
		cfg:        cfg,
		logger:     logger,
		twilio:     NewTwilioValidator(cfg.TwilioAuthToken),
		sipgate:    NewSipgateValidator(cfg.SipgateAPIToken, cfg.TimestampTolerance, clock),
		hmac:       hmacValidator,
		proxies:    proxies,
		allowed:    allowed,
		twilioIPs:  twilioIPs,
		sipgateIPs: sipgateIPs,
	}, nil
}

// ClientIP resolves the caller's address with the configured proxies.
func (g *Guard) ClientIP(r *http.Request) string { return ClientIP(r, g.proxies) }

// RequireTwilio verifies X-Twilio-Signature before the handler runs.
func (g *Guard) RequireTwilio() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.ValidateSignatures {
			return
		}
		if err := g.checkTwilio(c); err != nil {
			g.reject(c, "twilio", err)
		}
	}
}

// RequireSipgate verifies X-Sipgate-Signature and the signed timestamp.
func (g *Guard) RequireSipgate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.ValidateSignatures {
			return
		}
		if err := g.checkSipgate(c); err != nil {
			g.reject(c, "sipgate", err)
		}
	}
}

// RequireHMAC verifies the generic X-Signature scheme.
func (g *Guard) RequireHMAC() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.ValidateSignatures {
			return
		}
		if err := g.checkGeneric(c); err != nil {
			g.reject(c, "hmac", err)
		}
	}
}

func (g *Guard) reject(c *gin.Context, scheme string, err error) {
	g.logger.Warnw("security: webhook rejected",
		"scheme", scheme,
		"path", c.Request.URL.Path,
		"ip", g.ClientIP(c.Request),
		"error", err)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
}

func (g *Guard) checkTwilio(c *gin.Context) error {
	params := map[string]string{}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err != nil {
			return fmt.Errorf("security: parse form: %w", err)
		}
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
	}
	if err := g.twilio.Validate(c.GetHeader("X-Twilio-Signature"), g.requestURL(c.Request), params); err != nil {
		return err
	}
	return g.sourceAllowed(c.Request, g.twilioIPs)
}

func (g *Guard) checkSipgate(c *gin.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := g.sipgate.Validate(c.GetHeader("X-Sipgate-Signature"), c.GetHeader("X-Sipgate-Timestamp"), body); err != nil {
		return err
	}
	return g.sourceAllowed(c.Request, g.sipgateIPs)
}

func (g *Guard) checkGeneric(c *gin.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return g.hmac.Validate(c.GetHeader("X-Signature"), body, c.GetHeader("X-Timestamp"))
}

func (g *Guard) sourceAllowed(r *http.Request, provider *IPSet) error {
	if !g.cfg.ValidateSourceIP {
		return nil
	}
	ip := g.ClientIP(r)
	if provider.Contains(ip) || g.allowed.Contains(ip) {
		return nil
	}
	return ErrUntrustedIP
}

// requestURL rebuilds the absolute URL the provider signed. The scheme
// comes from the connection, or from X-Forwarded-Proto when the peer is
// a trusted proxy.
func (g *Guard) requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && g.proxies.Contains(directPeer(r)) {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// readBody drains the request body and puts a replayable copy back so
// the handler still sees it.
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("security: read body: %w", err)
	}
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
