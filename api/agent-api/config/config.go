package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	internal_vad "github.com/praxisvoice/api/agent-api/internal/audio/vad"
	internal_bridge "github.com/praxisvoice/api/agent-api/internal/bridge"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_twilio_telephony "github.com/praxisvoice/api/agent-api/internal/channel/twilio"
	internal_websocket "github.com/praxisvoice/api/agent-api/internal/channel/websocket"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_dialer "github.com/praxisvoice/api/agent-api/internal/dialer"
	internal_sipgate "github.com/praxisvoice/api/agent-api/internal/messaging/sipgate"
	internal_twilio "github.com/praxisvoice/api/agent-api/internal/messaging/twilio"
	internal_freeswitch "github.com/praxisvoice/api/agent-api/internal/pbx/freeswitch"
	internal_rtp "github.com/praxisvoice/api/agent-api/internal/rtp"
	internal_security "github.com/praxisvoice/api/agent-api/internal/security"
	internal_service "github.com/praxisvoice/api/agent-api/internal/service"
	internal_deepgram "github.com/praxisvoice/api/agent-api/internal/transformer/deepgram"
	internal_google "github.com/praxisvoice/api/agent-api/internal/transformer/google"
	internal_openai "github.com/praxisvoice/api/agent-api/internal/transformer/openai"
	sip_infra "github.com/praxisvoice/api/agent-api/sip/infra"
	"github.com/praxisvoice/pkg/configs"
)

// Application config structure
type AppConfig struct {
	Name         string `mapstructure:"service_name" validate:"required"`
	Version      string `mapstructure:"version" validate:"required"`
	Secret       string `mapstructure:"secret" validate:"required"`
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required"`
	LogLevel     string `mapstructure:"log_level" validate:"required"`
	LogDirectory string `mapstructure:"log_directory"`
	Production   bool   `mapstructure:"production"`

	// CORSOrigins is the browser origin allowlist for the websocket and
	// dialer endpoints. Empty means same-origin only.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// PostgresEnabled/RedisEnabled gate the optional stores: without
	// Postgres call contexts and attempt history stay in memory, without
	// Redis the SIP trunk uses ephemeral RTP ports.
	PostgresEnabled bool                   `mapstructure:"postgres_enabled"`
	PostgresConfig  configs.PostgresConfig `mapstructure:"postgres"`
	RedisEnabled    bool                   `mapstructure:"redis_enabled"`
	RedisConfig     configs.RedisConfig    `mapstructure:"redis"`

	// Backend-specific blocks are validated by the container once the
	// telephony backend is known, not up front.
	Telephony  internal_service.Config         `mapstructure:"telephony"`
	Bridge     internal_bridge.Config          `mapstructure:"bridge"`
	Freeswitch internal_freeswitch.Config      `mapstructure:"freeswitch" validate:"-"`
	SIPTrunk   sip_infra.Config                `mapstructure:"sip_trunk" validate:"-"`
	Jitter     internal_rtp.JitterBufferConfig `mapstructure:"jitter"`

	DialerEnabled bool                   `mapstructure:"dialer_enabled"`
	Dialer        internal_dialer.Config `mapstructure:"dialer" validate:"-"`
	// DialerGateway names the FreeSWITCH gateway outbound campaign calls
	// leave through; the SIP backend dials the trunk directly.
	DialerGateway string `mapstructure:"dialer_gateway"`

	Security     internal_security.Config         `mapstructure:"security"`
	WebSocket    internal_websocket.Config        `mapstructure:"websocket"`
	TwilioStream internal_twilio_telephony.Config `mapstructure:"twilio_stream"`
	VAD          internal_vad.Config              `mapstructure:"vad"`

	// Policy shapes the inbound LLM conversation; campaign policies come
	// from the dialer's templates instead.
	Policy internal_conversation.LLMPolicyConfig `mapstructure:"policy"`

	// STTProvider picks the transcription backend. "router" layers
	// dialect routing over per-model Deepgram recognizers.
	STTProvider string                           `mapstructure:"stt_provider" validate:"required,oneof=deepgram google router"`
	STTRouter   internal_capability.RouterConfig `mapstructure:"stt_router" validate:"-"`
	Deepgram    internal_deepgram.Config         `mapstructure:"deepgram" validate:"-"`
	Google      internal_google.Config           `mapstructure:"google"`
	OpenAI      internal_openai.Config           `mapstructure:"openai" validate:"-"`

	// SMSProvider backs the dialer's fallback notifications: twilio,
	// sipgate or none.
	SMSProvider string                  `mapstructure:"sms_provider" validate:"required,oneof=twilio sipgate none"`
	TwilioSMS   internal_twilio.Config  `mapstructure:"twilio_sms" validate:"-"`
	SipgateSMS  internal_sipgate.Config `mapstructure:"sipgate_sms" validate:"-"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "agent-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9100)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_DIRECTORY", "")
	v.SetDefault("PRODUCTION", false)
	v.SetDefault("SECRET", "")
	v.SetDefault("CORS_ORIGINS", "")

	v.SetDefault("POSTGRES_ENABLED", false)
	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "praxisvoice")
	v.SetDefault("POSTGRES__AUTH__USER", "praxisvoice")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("TELEPHONY__BACKEND", "freeswitch")
	v.SetDefault("TELEPHONY__BRIDGE_HOST", "127.0.0.1")
	v.SetDefault("TELEPHONY__BRIDGE_PORT", 8085)
	v.SetDefault("TELEPHONY__CLAIM_TIMEOUT", "10s")
	v.SetDefault("TELEPHONY__RECORD_CALLS", false)
	v.SetDefault("TELEPHONY__PRACTICE_NAME", "Praxis")

	v.SetDefault("BRIDGE__HOST", "0.0.0.0")
	v.SetDefault("BRIDGE__PORT", 8085)

	v.SetDefault("FREESWITCH__HOST", "127.0.0.1")
	v.SetDefault("FREESWITCH__PORT", 8021)
	v.SetDefault("FREESWITCH__PASSWORD", "ClueCon")

	v.SetDefault("SIP_TRUNK__URI", "")
	v.SetDefault("SIP_TRUNK__SERVER", "")
	v.SetDefault("SIP_TRUNK__USERNAME", "")
	v.SetDefault("SIP_TRUNK__PASSWORD", "")
	v.SetDefault("SIP_TRUNK__LOCAL_IP", "127.0.0.1")
	v.SetDefault("SIP_TRUNK__LOCAL_PORT", 5080)
	v.SetDefault("SIP_TRUNK__REGISTER", true)

	v.SetDefault("DIALER_ENABLED", false)
	v.SetDefault("DIALER_GATEWAY", "")
	v.SetDefault("DIALER__CALLER_ID", "")
	v.SetDefault("DIALER__MAX_CONCURRENT", 0)
	v.SetDefault("DIALER__CALLS_PER_MINUTE", 0)
	v.SetDefault("DIALER__PRACTICE_NAME", "")

	v.SetDefault("SECURITY__VALIDATE_SIGNATURES", true)
	v.SetDefault("SECURITY__TIMESTAMP_TOLERANCE", "5m")
	v.SetDefault("SECURITY__TWILIO_AUTH_TOKEN", "")
	v.SetDefault("SECURITY__SIPGATE_API_TOKEN", "")
	v.SetDefault("SECURITY__HMAC_SECRET", "")

	v.SetDefault("WEBSOCKET__SAMPLE_RATE", 16000)
	v.SetDefault("WEBSOCKET__MAX_CONNECTIONS", 64)
	v.SetDefault("TWILIO_STREAM__MAX_CONNECTIONS", 64)

	v.SetDefault("VAD__BACKEND", "simple")

	v.SetDefault("STT_PROVIDER", "deepgram")
	v.SetDefault("STT_ROUTER__DEFAULT_MODEL", "")
	v.SetDefault("STT_ROUTER__MAX_LOADED", 0)
	v.SetDefault("DEEPGRAM__API_KEY", "")
	v.SetDefault("DEEPGRAM__MODEL", "")
	v.SetDefault("DEEPGRAM__LANGUAGE", "")
	v.SetDefault("DEEPGRAM__PUNCTUATE", true)
	v.SetDefault("DEEPGRAM__SMART_FORMAT", true)
	v.SetDefault("GOOGLE__API_KEY", "")
	v.SetDefault("GOOGLE__PROJECT_ID", "")
	v.SetDefault("GOOGLE__CREDENTIALS_JSON", "")
	v.SetDefault("GOOGLE__LANGUAGE", "")
	v.SetDefault("GOOGLE__STT_MODEL", "")
	v.SetDefault("GOOGLE__VOICE", "")
	v.SetDefault("OPENAI__API_KEY", "")
	v.SetDefault("OPENAI__MODEL", "")
	v.SetDefault("OPENAI__BASE_URL", "")
	v.SetDefault("OPENAI__MAX_TOKENS", 0)
	v.SetDefault("OPENAI__TEMPERATURE", 0)

	v.SetDefault("POLICY__SYSTEM_PROMPT", "")
	v.SetDefault("POLICY__GREETING_TEMPLATE", "")
	v.SetDefault("POLICY__PRACTICE_NAME", "")

	v.SetDefault("SMS_PROVIDER", "none")
	v.SetDefault("TWILIO_SMS__ACCOUNT_SID", "")
	v.SetDefault("TWILIO_SMS__AUTH_TOKEN", "")
	v.SetDefault("TWILIO_SMS__FROM_NUMBER", "")
	v.SetDefault("SIPGATE_SMS__TOKEN_ID", "")
	v.SetDefault("SIPGATE_SMS__TOKEN", "")
	v.SetDefault("SIPGATE_SMS__SMS_ID", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
