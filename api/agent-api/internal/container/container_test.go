// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisvoice/api/agent-api/config"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	sip_infra "github.com/praxisvoice/api/agent-api/sip/infra"
	"github.com/praxisvoice/pkg/commons"
)

// testAppConfig builds the smallest config that assembles offline: API
// keys are set so no provider client falls back to ambient credentials,
// and the stores stay disabled.
func testAppConfig() *config.AppConfig {
	cfg := &config.AppConfig{
		Name:        "agent-api",
		Version:     "test",
		Secret:      "test-secret",
		Host:        "127.0.0.1",
		Port:        9100,
		LogLevel:    "debug",
		Telephony:   internal_service.DefaultConfig(),
		STTProvider: "deepgram",
		SMSProvider: "none",
	}
	cfg.Deepgram.APIKey = "dg-test-key"
	cfg.Google.APIKey = "g-test-key"
	cfg.OpenAI.APIKey = "oa-test-key"
	return cfg
}

func build(t *testing.T, cfg *config.AppConfig) *Container {
	t.Helper()
	c, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestBuildWebhookBackend(t *testing.T) {
	c := build(t, testAppConfig())

	assert.NotNil(t, c.Service)
	assert.NotNil(t, c.Guard)
	assert.NotNil(t, c.WebSocket)
	assert.NotNil(t, c.TwilioStreams)
	assert.Nil(t, c.Bridge)
	assert.Nil(t, c.Freeswitch)
	assert.Nil(t, c.Trunk)
	assert.Nil(t, c.Dialer)
}

func TestBuildFreeswitchBackend(t *testing.T) {
	cfg := testAppConfig()
	cfg.Telephony.Backend = internal_service.BackendFreeswitch
	cfg.Freeswitch.Password = "ClueCon"

	c := build(t, cfg)

	assert.NotNil(t, c.Freeswitch)
	assert.NotNil(t, c.Bridge)
	assert.Nil(t, c.Trunk)
}

func TestBuildFreeswitchRequiresPassword(t *testing.T) {
	cfg := testAppConfig()
	cfg.Telephony.Backend = internal_service.BackendFreeswitch

	_, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "freeswitch config")
}

func TestBuildSIPBackend(t *testing.T) {
	cfg := testAppConfig()
	cfg.Telephony.Backend = internal_service.BackendSIP
	cfg.SIPTrunk = sip_infra.DefaultConfig()
	cfg.SIPTrunk.Server = "trunk.example.net"
	cfg.SIPTrunk.Username = "praxis"
	cfg.SIPTrunk.Password = "secret"
	cfg.SIPTrunk.LocalIP = "127.0.0.1"
	cfg.SIPTrunk.LocalPort = 0
	cfg.SIPTrunk.Register = false

	c := build(t, cfg)

	assert.NotNil(t, c.Trunk)
	assert.Nil(t, c.Bridge)
	assert.Nil(t, c.Freeswitch)
}

func TestBuildRejectsUnknownSTTProvider(t *testing.T) {
	cfg := testAppConfig()
	cfg.STTProvider = "whisperx"

	_, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stt provider")
}

func TestBuildRouterSTTNeedsDefaultModel(t *testing.T) {
	cfg := testAppConfig()
	cfg.STTProvider = "router"

	_, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stt router config")
}

func TestBuildRouterSTT(t *testing.T) {
	cfg := testAppConfig()
	cfg.STTProvider = "router"
	cfg.STTRouter.DefaultModel = "nova-2"
	cfg.STTRouter.Models = map[string]string{"de-CH": "nova-2-ch"}

	c := build(t, cfg)
	assert.NotNil(t, c.Service)
}

func TestBuildDialerNeedsTrunkBackend(t *testing.T) {
	cfg := testAppConfig()
	cfg.DialerEnabled = true

	_, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialer needs")
}

func TestBuildDialerOnFreeswitch(t *testing.T) {
	cfg := testAppConfig()
	cfg.Telephony.Backend = internal_service.BackendFreeswitch
	cfg.Freeswitch.Password = "ClueCon"
	cfg.DialerEnabled = true
	cfg.DialerGateway = "trunk-out"

	c := build(t, cfg)
	assert.NotNil(t, c.Dialer)
}

func TestBuildDialerRejectsBadSMSConfig(t *testing.T) {
	cfg := testAppConfig()
	cfg.Telephony.Backend = internal_service.BackendFreeswitch
	cfg.Freeswitch.Password = "ClueCon"
	cfg.DialerEnabled = true
	cfg.SMSProvider = "twilio" // no account sid / auth token

	_, err := Build(context.Background(), cfg, commons.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio sms config")
}

func TestCloseIsSafeOnPartialContainer(t *testing.T) {
	c := &Container{}
	c.Close() // must not panic
}
