// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_transformer_google serves recognition through Cloud
// Speech v2 and synthesis through Cloud Text-to-Speech, both as linear16 at
// the engine rate. One Config feeds both clients; regional recognizers get
// their endpoint derived from the region.
package internal_transformer_google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

const (
	DefaultLanguageCode = "de-DE"
	DefaultSTTModel     = "telephony"
	DefaultVoice        = "de-DE-Neural2-F"
)

// Config carries credentials and model selection for both directions.
// Credentials resolve in the usual order: explicit key, service account
// JSON, then application default credentials when neither is set.
type Config struct {
	ProjectID       string `mapstructure:"project_id"`
	Region          string `mapstructure:"region"`
	APIKey          string `mapstructure:"api_key"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Language        string `mapstructure:"language"`
	STTModel        string `mapstructure:"stt_model"`
	Voice           string `mapstructure:"voice"`
}

// DefaultConfig targets German practice calls on the global endpoint.
func DefaultConfig() Config {
	return Config{
		Region:   "global",
		Language: DefaultLanguageCode,
		STTModel: DefaultSTTModel,
		Voice:    DefaultVoice,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Region == "" {
		c.Region = def.Region
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.STTModel == "" {
		c.STTModel = def.STTModel
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	return c
}

func (c Config) clientOptions() []option.ClientOption {
	opts := make([]option.ClientOption, 0, 3)
	if c.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.APIKey))
	}
	if c.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(c.ProjectID))
	}
	if c.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	}
	return opts
}

// speechClientOptions adds the regional endpoint; regional recognizers are
// not reachable through the global one.
func (c Config) speechClientOptions() []option.ClientOption {
	if c.Region != "" && c.Region != "global" {
		return append(c.clientOptions(),
			option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:443", c.Region)))
	}
	return c.clientOptions()
}

func (c Config) recognizerPath() string {
	region := c.Region
	if region == "" {
		region = "global"
	}
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", c.ProjectID, region)
}

func (c Config) recognitionConfig(language string, sampleRate int) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(sampleRate),
				AudioChannelCount: 1,
			},
		},
		Features: &speechpb.RecognitionFeatures{
			EnableAutomaticPunctuation: true,
		},
		LanguageCodes: []string{language},
		Model:         c.STTModel,
	}
}

func (c Config) synthesisRequest(text string, opts internal_capability.SynthesisOptions) *texttospeechpb.SynthesizeSpeechRequest {
	voice := c.Voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	language := opts.Language
	if language == "" {
		language = languageOfVoice(voice, c.Language)
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(internal_type.EngineSampleRate),
		},
	}
}

// languageOfVoice reads the language code off a standard voice name like
// "de-DE-Neural2-F". Custom voice ids fall back to the configured language.
func languageOfVoice(voice, fallback string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) == 3 && len(parts[0]) == 2 && len(parts[1]) == 2 {
		return parts[0] + "-" + parts[1]
	}
	return fallback
}

// Recognizer implements the speech-to-text capability over Cloud Speech v2.
type Recognizer struct {
	logger commons.Logger
	config Config
	client *speech.Client
}

func NewRecognizer(ctx context.Context, config Config, logger commons.Logger) (*Recognizer, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	client, err := speech.NewClient(ctx, config.speechClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Recognizer{logger: logger, config: config, client: client}, nil
}

// Transcribe recognizes one utterance. Multi-result responses concatenate in
// order; confidence averages over the used results.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (internal_type.Transcript, error) {
	language := r.config.Language
	if languageHint != "" {
		language = languageHint
	}
	if len(samples) == 0 {
		return internal_type.Transcript{IsFinal: true, Language: language}, nil
	}

	pcm := internal_pipeline.Float32ToInt16(samples)
	payload, err := internal_codec.NewL16LECodec(sampleRate).Encode(pcm)
	if err != nil {
		return internal_type.Transcript{}, fmt.Errorf("encode linear16 payload: %w", err)
	}

	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  r.config.recognizerPath(),
		Config:      r.config.recognitionConfig(language, sampleRate),
		AudioSource: &speechpb.RecognizeRequest_Content{Content: payload},
	})
	if err != nil {
		return internal_type.Transcript{}, fmt.Errorf("google speech recognize: %w", err)
	}

	var (
		text       strings.Builder
		confidence float32
		used       int
	)
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		alt := result.GetAlternatives()[0]
		if alt.GetTranscript() == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString(" ")
		}
		text.WriteString(alt.GetTranscript())
		confidence += alt.GetConfidence()
		used++
		if code := result.GetLanguageCode(); code != "" {
			language = code
		}
	}
	if used > 0 {
		confidence /= float32(used)
	}
	r.logger.Debugw("google recognition finished", "samples", len(samples), "results", used)
	return internal_type.Transcript{
		Text:       text.String(),
		Confidence: confidence,
		IsFinal:    true,
		Language:   language,
	}, nil
}

func (r *Recognizer) Close() error { return r.client.Close() }

// Synthesizer implements the text-to-speech capability over Cloud TTS.
type Synthesizer struct {
	logger commons.Logger
	config Config
	client *texttospeech.Client
}

func NewSynthesizer(ctx context.Context, config Config, logger commons.Logger) (*Synthesizer, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	client, err := texttospeech.NewClient(ctx, config.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create texttospeech client: %w", err)
	}
	return &Synthesizer{logger: logger, config: config, client: client}, nil
}

// Synthesize renders text at the engine rate. LINEAR16 responses arrive in
// a WAV container; the header is parsed off before the samples go out.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts internal_capability.SynthesisOptions) (internal_capability.SpeechAudio, error) {
	resp, err := s.client.SynthesizeSpeech(ctx, s.config.synthesisRequest(text, opts))
	if err != nil {
		return internal_capability.SpeechAudio{}, fmt.Errorf("google speech synthesis: %w", err)
	}
	pcm, rate, err := parseWAV(resp.GetAudioContent())
	if err != nil {
		return internal_capability.SpeechAudio{}, fmt.Errorf("decode synthesis audio: %w", err)
	}
	s.logger.Debugw("google synthesis finished", "chars", len(text), "samples", len(pcm))
	return internal_capability.SpeechAudio{PCM: pcm, SampleRate: rate}, nil
}

func (s *Synthesizer) Close() error { return s.client.Close() }
