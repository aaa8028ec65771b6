// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_twilio_messaging sends text messages through the Twilio
// REST API. The dialer uses it as the fallback channel after exhausted call
// attempts, so recipient numbers never reach the logs unmasked.
package internal_twilio_messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

var (
	ErrMissingAccountSID = errors.New("twilio account sid is required")
	ErrMissingAuthToken  = errors.New("twilio auth token is required")
	ErrMissingSender     = errors.New("twilio sender number or messaging service is required")
)

type Config struct {
	AccountSID string `mapstructure:"account_sid" validate:"required"`
	AuthToken  string `mapstructure:"auth_token" validate:"required"`
	// FromNumber is the sender in E.164 form. MessagingServiceSID takes
	// precedence when both are set.
	FromNumber          string        `mapstructure:"from_number"`
	MessagingServiceSID string        `mapstructure:"messaging_service_sid"`
	StatusCallbackURL   string        `mapstructure:"status_callback_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig().Timeout
	}
	return c
}

// Gateway implements the SMS capability over twilio-go.
type Gateway struct {
	logger commons.Logger
	config Config
	client *twilio.RestClient
}

func NewGateway(config Config, logger commons.Logger) (*Gateway, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	if config.AccountSID == "" {
		return nil, ErrMissingAccountSID
	}
	if config.AuthToken == "" {
		return nil, ErrMissingAuthToken
	}
	if config.FromNumber == "" && config.MessagingServiceSID == "" {
		return nil, ErrMissingSender
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	rest.SetTimeout(config.Timeout)
	return &Gateway{logger: logger, config: config, client: rest}, nil
}

// Send delivers one message. Provider rejections come back as a failed
// result rather than an error; only transport problems are errors. The REST
// client carries its own timeout, so the context only gates entry.
func (g *Gateway) Send(ctx context.Context, msg internal_capability.SMSMessage) (internal_capability.SMSResult, error) {
	if err := ctx.Err(); err != nil {
		return internal_capability.SMSResult{}, err
	}
	to := utils.NormalizePhoneNumber(msg.To)

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetBody(msg.Body)
	if g.config.MessagingServiceSID != "" {
		params.SetMessagingServiceSid(g.config.MessagingServiceSID)
	} else {
		params.SetFrom(g.config.FromNumber)
	}
	if g.config.StatusCallbackURL != "" {
		params.SetStatusCallback(g.config.StatusCallbackURL)
	}

	resp, err := g.client.Api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			g.logger.Warnw("twilio sms rejected",
				"to", utils.MaskPhoneNumber(to),
				"code", restErr.Code,
				"error", restErr.Message,
				"reference", msg.Reference)
			return internal_capability.SMSResult{
				ErrorMessage: fmt.Sprintf("[%d] %s", restErr.Code, restErr.Message),
			}, nil
		}
		return internal_capability.SMSResult{}, fmt.Errorf("twilio send sms: %w", err)
	}

	result := internal_capability.SMSResult{Success: true}
	if resp.Sid != nil {
		result.MessageID = *resp.Sid
	}
	status := ""
	if resp.Status != nil {
		status = *resp.Status
	}
	switch status {
	case "failed", "undelivered", "canceled":
		result.Success = false
		result.ErrorMessage = "twilio reported status " + status
		if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
			result.ErrorMessage = *resp.ErrorMessage
		}
		g.logger.Warnw("twilio sms failed",
			"to", utils.MaskPhoneNumber(to),
			"status", status,
			"error", result.ErrorMessage,
			"reference", msg.Reference)
	default:
		g.logger.Infow("twilio sms accepted",
			"to", utils.MaskPhoneNumber(to),
			"message_id", result.MessageID,
			"status", status,
			"segments", utils.SMSSegments(msg.Body),
			"reference", msg.Reference)
	}
	return result, nil
}
