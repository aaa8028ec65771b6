// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_sipgate_messaging sends text messages through the sipgate
// REST API. sipgate keeps the data in Germany, which is why practices on
// German numbers usually pick it over Twilio.
package internal_sipgate_messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

const defaultBaseURL = "https://api.sipgate.com/v2"

var (
	ErrMissingTokenID = errors.New("sipgate token id is required")
	ErrMissingToken   = errors.New("sipgate token is required")
)

type Config struct {
	// TokenID and Token form a sipgate personal access token pair, sent as
	// basic auth.
	TokenID string `mapstructure:"token_id" validate:"required"`
	Token   string `mapstructure:"token" validate:"required"`
	// SMSID is the web SMS extension the message leaves from, "s0" on a
	// fresh account.
	SMSID   string        `mapstructure:"sms_id"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{SMSID: "s0", BaseURL: defaultBaseURL, Timeout: 30 * time.Second}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SMSID == "" {
		c.SMSID = def.SMSID
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

type smsRequest struct {
	SMSID     string `json:"smsId"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type apiError struct {
	Message string `json:"message"`
}

// Gateway implements the SMS capability over the sipgate sessions API.
type Gateway struct {
	logger commons.Logger
	config Config
	client *resty.Client
}

func NewGateway(config Config, logger commons.Logger) (*Gateway, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	if config.TokenID == "" {
		return nil, ErrMissingTokenID
	}
	if config.Token == "" {
		return nil, ErrMissingToken
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetBasicAuth(config.TokenID, config.Token).
		SetHeader("Accept", "application/json")
	return &Gateway{logger: logger, config: config, client: client}, nil
}

// Send delivers one message. sipgate acknowledges with 204 and returns no
// message id, so a local one is synthesized to keep audit entries
// correlatable. Provider rejections come back as a failed result; only
// transport problems are errors.
func (g *Gateway) Send(ctx context.Context, msg internal_capability.SMSMessage) (internal_capability.SMSResult, error) {
	to := utils.NormalizePhoneNumber(msg.To)

	var apiErr apiError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(smsRequest{SMSID: g.config.SMSID, Recipient: to, Message: msg.Body}).
		SetError(&apiErr).
		Post("/sessions/sms")
	if err != nil {
		return internal_capability.SMSResult{}, fmt.Errorf("sipgate send sms: %w", err)
	}

	if resp.StatusCode() != http.StatusNoContent {
		detail := apiErr.Message
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		g.logger.Warnw("sipgate sms rejected",
			"to", utils.MaskPhoneNumber(to),
			"status", resp.StatusCode(),
			"error", detail,
			"reference", msg.Reference)
		return internal_capability.SMSResult{ErrorMessage: detail}, nil
	}

	id := fmt.Sprintf("sipgate-%d", time.Now().UnixNano())
	g.logger.Infow("sipgate sms sent",
		"to", utils.MaskPhoneNumber(to),
		"message_id", id,
		"segments", utils.SMSSegments(msg.Body),
		"reference", msg.Reference)
	return internal_capability.SMSResult{Success: true, MessageID: id}, nil
}
