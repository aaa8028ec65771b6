// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_transformer_openai generates agent replies through the
// OpenAI chat completions API. It serves both the structured Conversational
// capability and the flattened SingleTurn one; the streaming variant feeds
// the sentence assembler token by token.
package internal_transformer_openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

var (
	// ErrMissingAPIKey rejects construction without credentials.
	ErrMissingAPIKey = errors.New("openai api key missing")
	// ErrEmptyCompletion marks a response that carried no choices.
	ErrEmptyCompletion = errors.New("completion returned no choices")
)

// Config selects the model and tunes request defaults. Per-request
// GenerateOptions override MaxTokens and Temperature.
type Config struct {
	APIKey      string        `mapstructure:"api_key" validate:"required"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfig targets the small fast model; phone turns need latency more
// than depth.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   256,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
	}
}

// Generator is the chat-completions client behind the conversation engine.
type Generator struct {
	logger commons.Logger
	config Config
	client oai.Client
}

// NewGenerator builds the client. BaseURL is overridable for self-hosted
// compatible endpoints.
func NewGenerator(config Config, logger commons.Logger) (*Generator, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
	}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}

	return &Generator{
		logger: logger,
		config: config,
		client: oai.NewClient(reqOpts...),
	}, nil
}

// Generate produces one complete reply from the turn history.
func (g *Generator) Generate(ctx context.Context, system string, history []internal_type.Turn, opts internal_capability.GenerateOptions) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, g.buildParams(system, history, opts))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	g.logger.Debugw("chat completion finished",
		"model", g.config.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream produces a reply as token fragments. Cancelling ctx aborts
// the stream, which is how barge-in cuts a reply short.
func (g *Generator) GenerateStream(ctx context.Context, system string, history []internal_type.Turn, opts internal_capability.GenerateOptions) (internal_capability.TokenStream, error) {
	stream := g.client.Chat.Completions.NewStreaming(ctx, g.buildParams(system, history, opts))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("start completion stream: %w", err)
	}
	return &chatStream{stream: stream}, nil
}

// Complete serves the SingleTurn capability with the same client: the
// flattened prompt becomes a lone user message.
func (g *Generator) Complete(ctx context.Context, prompt string, opts internal_capability.GenerateOptions) (string, error) {
	return g.Generate(ctx, "", []internal_type.Turn{{Role: internal_type.RoleCaller, Text: prompt}}, opts)
}

func (g *Generator) buildParams(system string, history []internal_type.Turn, opts internal_capability.GenerateOptions) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, turn := range history {
		switch turn.Role {
		case internal_type.RoleAgent:
			messages = append(messages, oai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, oai.UserMessage(turn.Text))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.config.Model),
		Messages: messages,
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = g.config.Temperature
	}
	if temperature != 0 {
		params.Temperature = param.NewOpt(float64(temperature))
	}
	return params
}

// chatStream adapts the SSE stream to the TokenStream contract, skipping
// chunks that carry no content delta (role headers, finish markers).
type chatStream struct {
	stream  *ssestream.Stream[oai.ChatCompletionChunk]
	current string
}

func (s *chatStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.current = delta
			return true
		}
	}
	return false
}

func (s *chatStream) Current() string { return s.current }
func (s *chatStream) Err() error      { return s.stream.Err() }
func (s *chatStream) Close() error    { return s.stream.Close() }
