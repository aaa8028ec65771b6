// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_container assembles the agent-api object graph from
// one AppConfig: model providers, stores, the telephony facade and the
// transport for the configured backend. Backend-specific config blocks
// are validated here, once the selection is known.
package internal_container

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/praxisvoice/api/agent-api/config"
	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_vad "github.com/praxisvoice/api/agent-api/internal/audio/vad"
	internal_bridge "github.com/praxisvoice/api/agent-api/internal/bridge"
	internal_callcontext "github.com/praxisvoice/api/agent-api/internal/callcontext"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_twilio_telephony "github.com/praxisvoice/api/agent-api/internal/channel/twilio"
	internal_websocket "github.com/praxisvoice/api/agent-api/internal/channel/websocket"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_sipgate "github.com/praxisvoice/api/agent-api/internal/messaging/sipgate"
	internal_twilio "github.com/praxisvoice/api/agent-api/internal/messaging/twilio"
	internal_freeswitch "github.com/praxisvoice/api/agent-api/internal/pbx/freeswitch"
	internal_security "github.com/praxisvoice/api/agent-api/internal/security"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	internal_deepgram "github.com/praxisvoice/api/agent-api/internal/transformer/deepgram"
	internal_google "github.com/praxisvoice/api/agent-api/internal/transformer/google"
	internal_openai "github.com/praxisvoice/api/agent-api/internal/transformer/openai"
	sip_infra "github.com/praxisvoice/api/agent-api/sip/infra"
	sip_trunk "github.com/praxisvoice/api/agent-api/sip/trunk"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/connectors"
)

// Container holds the assembled application. Fields for transports the
// configured backend does not use stay nil; main starts whatever is set.
type Container struct {
	Config *config.AppConfig
	Logger commons.Logger

	Postgres connectors.PostgresConnector
	Redis    connectors.RedisConnector

	Service *internal_service.Service
	Guard   *internal_security.Guard

	// Bridge and Freeswitch are set for the freeswitch backend, Trunk
	// for the sip backend.
	Bridge     *internal_bridge.Bridge
	Freeswitch *internal_freeswitch.Client
	Trunk      *sip_trunk.Trunk

	WebSocket     *internal_websocket.Handler
	TwilioStreams *internal_twilio_telephony.StreamHandler

	Dialer *internal_dialer.Dialer
}

// Build wires the graph. ctx covers provider client construction only;
// long-running loops are started by the caller.
func Build(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	check := validator.New()
	clock := internal_capability.SystemClock()

	if cfg.PostgresEnabled {
		pg, err := connectors.NewPostgresConnector(cfg.PostgresConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("container: postgres: %w", err)
		}
		c.Postgres = pg
	}
	if cfg.RedisEnabled {
		rd, err := connectors.NewRedisConnector(cfg.RedisConfig, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("container: redis: %w", err)
		}
		c.Redis = rd
	}

	stt, err := buildSTT(ctx, cfg, check, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	tts, err := internal_google.NewSynthesizer(ctx, cfg.Google, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("container: tts: %w", err)
	}
	if err := check.Struct(cfg.OpenAI); err != nil {
		c.Close()
		return nil, fmt.Errorf("container: openai config: %w", err)
	}
	llm, err := internal_openai.NewGenerator(cfg.OpenAI, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("container: llm: %w", err)
	}

	policyCfg := cfg.Policy
	if policyCfg.PracticeName == "" {
		policyCfg.PracticeName = cfg.Telephony.PracticeName
	}
	policies := internal_conversation.PolicyFactory(func(internal_type.CallInfo) (internal_conversation.Policy, error) {
		return internal_conversation.NewLLMPolicy(llm, policyCfg, clock, logger)
	})

	deps := internal_service.Dependencies{
		STT:      stt,
		TTS:      tts,
		Policies: policies,
		Clock:    clock,
		NewVAD: func() internal_vad.VAD {
			return internal_vad.New(cfg.VAD, logger)
		},
	}
	if c.Postgres != nil {
		deps.Store = internal_callcontext.NewStore(c.Postgres, logger)
		deps.Repository = internal_callcontext.NewRepository(c.Postgres, logger)
	}

	svc, err := internal_service.New(cfg.Telephony, deps, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("container: service: %w", err)
	}
	c.Service = svc

	switch cfg.Telephony.Backend {
	case internal_service.BackendFreeswitch:
		if err := check.Struct(cfg.Freeswitch); err != nil {
			c.Close()
			return nil, fmt.Errorf("container: freeswitch config: %w", err)
		}
		c.Freeswitch = internal_freeswitch.NewClient(cfg.Freeswitch, logger)
		svc.BindPBX(c.Freeswitch)
		c.Bridge = internal_bridge.New(cfg.Bridge, internal_codec.NewMuLawCodec(), logger)
		svc.BindBridge(c.Bridge)
	case internal_service.BackendSIP:
		opts := sip_trunk.Options{Jitter: cfg.Jitter}
		if c.Redis != nil {
			opts.Ports = sip_infra.NewPortAllocator(
				c.Redis.Client(), logger,
				cfg.SIPTrunk.RTPPortStart, cfg.SIPTrunk.RTPPortEnd,
			)
		}
		trunk, err := sip_trunk.New(cfg.SIPTrunk, opts, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("container: sip trunk: %w", err)
		}
		c.Trunk = trunk
		svc.BindSIPTrunk(trunk)
	case internal_service.BackendWebhook, "":
		// Webhook calls carry their own media; nothing to bind here.
	default:
		c.Close()
		return nil, fmt.Errorf("container: unknown telephony backend %q", cfg.Telephony.Backend)
	}

	c.WebSocket = internal_websocket.NewHandler(cfg.WebSocket, logger)
	svc.BindWebSocket(c.WebSocket)
	c.TwilioStreams = internal_twilio_telephony.NewStreamHandler(cfg.TwilioStream, logger)
	svc.BindTwilioStreams(c.TwilioStreams)

	guard, err := internal_security.NewGuard(cfg.Security, clock, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("container: security: %w", err)
	}
	c.Guard = guard

	if cfg.DialerEnabled {
		d, err := buildDialer(c, cfg, check, clock, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Dialer = d
	}

	return c, nil
}

func buildSTT(ctx context.Context, cfg *config.AppConfig, check *validator.Validate, logger commons.Logger) (internal_capability.SpeechToText, error) {
	switch strings.ToLower(cfg.STTProvider) {
	case "deepgram":
		if err := check.Struct(cfg.Deepgram); err != nil {
			return nil, fmt.Errorf("container: deepgram config: %w", err)
		}
		return internal_deepgram.NewRecognizer(cfg.Deepgram, logger)
	case "google":
		return internal_google.NewRecognizer(ctx, cfg.Google, logger)
	case "router":
		if err := check.Struct(cfg.STTRouter); err != nil {
			return nil, fmt.Errorf("container: stt router config: %w", err)
		}
		if err := check.Struct(cfg.Deepgram); err != nil {
			return nil, fmt.Errorf("container: deepgram config: %w", err)
		}
		loader := func(_ context.Context, modelID string) (internal_capability.SpeechToText, error) {
			mc := cfg.Deepgram
			mc.Model = modelID
			return internal_deepgram.NewRecognizer(mc, logger)
		}
		return internal_capability.NewSTTRouter(cfg.STTRouter, loader, logger), nil
	default:
		return nil, fmt.Errorf("container: unknown stt provider %q", cfg.STTProvider)
	}
}

func buildDialer(c *Container, cfg *config.AppConfig, check *validator.Validate, clock internal_capability.Clock, logger commons.Logger) (*internal_dialer.Dialer, error) {
	var trunk internal_dialer.Trunk
	switch cfg.Telephony.Backend {
	case internal_service.BackendFreeswitch:
		trunk = internal_dialer.NewPBXTrunk(c.Freeswitch, cfg.DialerGateway)
	case internal_service.BackendSIP:
		trunk = c.Trunk
	default:
		return nil, fmt.Errorf("container: dialer needs the freeswitch or sip backend, not %q", cfg.Telephony.Backend)
	}

	sms, err := buildSMS(cfg, check, logger)
	if err != nil {
		return nil, err
	}

	// Consent stays nil: the dialer grants every call and campaign
	// submission remains the consent gate. Practices that need
	// per-patient opt-in records plug a store in here.
	deps := internal_dialer.Dependencies{
		Trunk:  trunk,
		Run:    c.Service.Runner(),
		SMS:    sms,
		Audit:  logAudit{logger: logger},
		Clock:  clock,
		OnDone: c.Service.OnDialDone,
	}
	d, err := internal_dialer.NewDialer(cfg.Dialer, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("container: dialer: %w", err)
	}
	return d, nil
}

func buildSMS(cfg *config.AppConfig, check *validator.Validate, logger commons.Logger) (internal_capability.SMSGateway, error) {
	switch strings.ToLower(cfg.SMSProvider) {
	case "twilio":
		if err := check.Struct(cfg.TwilioSMS); err != nil {
			return nil, fmt.Errorf("container: twilio sms config: %w", err)
		}
		return internal_twilio.NewGateway(cfg.TwilioSMS, logger)
	case "sipgate":
		if err := check.Struct(cfg.SipgateSMS); err != nil {
			return nil, fmt.Errorf("container: sipgate sms config: %w", err)
		}
		return internal_sipgate.NewGateway(cfg.SipgateSMS, logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("container: unknown sms provider %q", cfg.SMSProvider)
	}
}

// Close tears down what Build created, in reverse order. Safe on a
// partially built container.
func (c *Container) Close() {
	if c.Dialer != nil {
		c.Dialer.Stop()
	}
	if c.Service != nil {
		c.Service.Close()
	}
	if c.Trunk != nil {
		_ = c.Trunk.Close()
	}
	if c.Bridge != nil {
		_ = c.Bridge.Close()
	}
	if c.Freeswitch != nil {
		_ = c.Freeswitch.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Postgres != nil {
		_ = c.Postgres.Close()
	}
}

// logAudit writes audit entries to the application log. There is no
// dedicated audit store; the production sink is the rotated JSON log.
type logAudit struct {
	logger commons.Logger
}

func (a logAudit) Record(_ context.Context, entry internal_capability.AuditEntry) {
	a.logger.Infow("audit",
		"actor", entry.Actor,
		"action", string(entry.Action),
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"details", entry.Details,
	)
}
