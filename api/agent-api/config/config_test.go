package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetApplicationConfigFromEnv(t *testing.T) {
	t.Setenv("SECRET", "test-secret")
	t.Setenv("SERVICE_NAME", "agent-api-test")
	t.Setenv("PORT", "9200")
	t.Setenv("TELEPHONY__BACKEND", "sip")
	t.Setenv("TELEPHONY__CLAIM_TIMEOUT", "3s")
	t.Setenv("SIP_TRUNK__URI", "sip:praxis:geheim@trunk.example.net:5060")
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("SMS_PROVIDER", "sipgate")
	t.Setenv("DEEPGRAM__API_KEY", "dg-secret")
	t.Setenv("CORS_ORIGINS", "https://app.praxisvoice.de")

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "agent-api-test", cfg.Name)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "test-secret", cfg.Secret)
	assert.Equal(t, "sip", string(cfg.Telephony.Backend))
	assert.Equal(t, 3*time.Second, cfg.Telephony.ClaimTimeout)
	assert.Equal(t, "sip:praxis:geheim@trunk.example.net:5060", cfg.SIPTrunk.URI)
	assert.Equal(t, "google", cfg.STTProvider)
	assert.Equal(t, "sipgate", cfg.SMSProvider)
	assert.Equal(t, "dg-secret", cfg.Deepgram.APIKey)
	assert.Equal(t, []string{"https://app.praxisvoice.de"}, cfg.CORSOrigins)
}

func TestGetApplicationConfigDefaults(t *testing.T) {
	t.Setenv("SECRET", "test-secret")

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "agent-api", cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "freeswitch", string(cfg.Telephony.Backend))
	assert.Equal(t, 8021, cfg.Freeswitch.Port)
	assert.Equal(t, "deepgram", cfg.STTProvider)
	assert.Equal(t, "none", cfg.SMSProvider)
	assert.False(t, cfg.DialerEnabled)
	assert.False(t, cfg.PostgresEnabled)
}

func TestGetApplicationConfigRequiresSecret(t *testing.T) {
	v, err := InitConfig()
	require.NoError(t, err)

	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}

func TestGetApplicationConfigRejectsUnknownProvider(t *testing.T) {
	t.Setenv("SECRET", "test-secret")
	t.Setenv("STT_PROVIDER", "whisperx")

	v, err := InitConfig()
	require.NoError(t, err)

	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}
