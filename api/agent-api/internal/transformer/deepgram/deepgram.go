// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_transformer_deepgram transcribes finished utterances
// through the Deepgram prerecorded REST API. The engine segments speech
// itself (VAD + hangover), so whole utterances arrive here as raw linear16
// and one request returns the final transcript.
package internal_transformer_deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// ErrMissingAPIKey rejects construction without credentials.
var ErrMissingAPIKey = errors.New("deepgram api key missing")

// sdkInit guards the SDK's global logging setup.
var sdkInit sync.Once

// Config selects the model and recognition behavior.
type Config struct {
	APIKey      string `mapstructure:"api_key" validate:"required"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	Host        string `mapstructure:"host"`
	Punctuate   bool   `mapstructure:"punctuate"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

// DefaultConfig targets German practice calls.
func DefaultConfig() Config {
	return Config{
		Model:       "nova-2",
		Language:    "de",
		Punctuate:   true,
		SmartFormat: true,
	}
}

// Recognizer implements the speech-to-text capability over Deepgram.
type Recognizer struct {
	logger commons.Logger
	config Config
	client *listenapi.Client
}

// NewRecognizer builds the REST client. Host is overridable for self-hosted
// Deepgram and for tests.
func NewRecognizer(config Config, logger commons.Logger) (*Recognizer, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Language == "" {
		config.Language = def.Language
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	sdkInit.Do(listen.InitWithDefault)

	rest := listen.NewREST(config.APIKey, &interfaces.ClientOptions{Host: config.Host})
	return &Recognizer{
		logger: logger,
		config: config,
		client: listenapi.New(rest),
	}, nil
}

// Transcribe sends one utterance as raw linear16 and returns the first
// alternative. Empty input short-circuits to an empty final transcript.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (internal_type.Transcript, error) {
	opts := r.transcriptionOptions(sampleRate, languageHint)
	if len(samples) == 0 {
		return internal_type.Transcript{IsFinal: true, Language: opts.Language}, nil
	}

	pcm := internal_pipeline.Float32ToInt16(samples)
	payload, err := internal_codec.NewL16LECodec(sampleRate).Encode(pcm)
	if err != nil {
		return internal_type.Transcript{}, fmt.Errorf("encode linear16 payload: %w", err)
	}

	res, err := r.client.FromStream(ctx, bytes.NewReader(payload), opts)
	if err != nil {
		return internal_type.Transcript{}, fmt.Errorf("deepgram transcription: %w", err)
	}
	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return internal_type.Transcript{IsFinal: true, Language: opts.Language}, nil
	}

	alt := res.Results.Channels[0].Alternatives[0]
	r.logger.Debugw("deepgram transcription finished",
		"samples", len(samples), "confidence", alt.Confidence)
	return internal_type.Transcript{
		Text:       alt.Transcript,
		Confidence: float32(alt.Confidence),
		IsFinal:    true,
		Language:   opts.Language,
	}, nil
}

func (r *Recognizer) transcriptionOptions(sampleRate int, languageHint string) *interfaces.PreRecordedTranscriptionOptions {
	language := r.config.Language
	if languageHint != "" {
		language = languageHint
	}
	return &interfaces.PreRecordedTranscriptionOptions{
		Model:       r.config.Model,
		Language:    language,
		Punctuate:   r.config.Punctuate,
		SmartFormat: r.config.SmartFormat,
		Encoding:    "linear16",
		SampleRate:  sampleRate,
	}
}
