// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_capability

import (
	"context"
	"errors"
	"io"
	"strings"

	internal_modelcache "github.com/praxisvoice/api/agent-api/internal/capability/modelcache"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

var ErrNoModel = errors.New("capability: no model for language")

// ModelLoader instantiates the recognizer for one model id. Loads are
// expensive; the router caches results and evicts least-recently-used
// models through the model cache.
type ModelLoader func(ctx context.Context, modelID string) (SpeechToText, error)

// RouterConfig maps language tags to recognition models.
type RouterConfig struct {
	// Models maps BCP 47 tags to model ids, e.g. de-CH to a Swiss German
	// fine-tune. Lookup tries the exact tag first, then the primary
	// subtag ("de-AT" falls back to "de").
	Models map[string]string `mapstructure:"models"`

	// DefaultModel serves tags with no mapping. Required.
	DefaultModel string `mapstructure:"default_model" validate:"required"`

	// MaxLoaded bounds how many models stay in memory at once.
	MaxLoaded int `mapstructure:"max_loaded"`
}

// STTRouter routes transcription requests to dialect-specific models. Swiss
// and Austrian callers hit fine-tuned recognizers while standard German
// stays on the default model; the cache keeps the working set small.
type STTRouter struct {
	cfg    RouterConfig
	cache  *internal_modelcache.Cache
	loader ModelLoader
	logger commons.Logger
}

func NewSTTRouter(cfg RouterConfig, loader ModelLoader, logger commons.Logger) *STTRouter {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &STTRouter{
		cfg:    cfg,
		cache:  internal_modelcache.New(cfg.MaxLoaded, logger),
		loader: loader,
		logger: logger,
	}
}

// Transcribe resolves the model for languageHint, loads it through the
// cache and delegates.
func (r *STTRouter) Transcribe(
	ctx context.Context,
	samples []float32,
	sampleRate int,
	languageHint string,
) (internal_type.Transcript, error) {
	modelID, err := r.ModelFor(languageHint)
	if err != nil {
		return internal_type.Transcript{}, err
	}

	entry, err := r.cache.Acquire(ctx, modelID, func(ctx context.Context) (internal_modelcache.Entry, error) {
		stt, err := r.loader(ctx, modelID)
		if err != nil {
			return nil, err
		}
		return &cachedModel{stt: stt}, nil
	})
	if err != nil {
		return internal_type.Transcript{}, err
	}

	return entry.(*cachedModel).stt.Transcribe(ctx, samples, sampleRate, languageHint)
}

// ModelFor resolves a language tag to a model id: exact tag, then primary
// subtag, then the default model. An empty hint selects the default.
func (r *STTRouter) ModelFor(languageHint string) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(languageHint))
	if tag != "" {
		if id, ok := r.lookup(tag); ok {
			return id, nil
		}
		if primary, _, found := strings.Cut(tag, "-"); found {
			if id, ok := r.lookup(primary); ok {
				return id, nil
			}
		}
	}
	if r.cfg.DefaultModel == "" {
		return "", ErrNoModel
	}
	return r.cfg.DefaultModel, nil
}

func (r *STTRouter) lookup(tag string) (string, bool) {
	for k, v := range r.cfg.Models {
		if strings.ToLower(k) == tag {
			return v, true
		}
	}
	return "", false
}

// LoadedModels returns cached model ids from least to most recently used.
func (r *STTRouter) LoadedModels() []string { return r.cache.Keys() }

func (r *STTRouter) CacheStats() internal_modelcache.Stats { return r.cache.Stats() }

func (r *STTRouter) Close() error { return r.cache.Close() }

// cachedModel adapts a recognizer to the cache entry contract; recognizers
// that hold native resources expose io.Closer and get closed on eviction.
type cachedModel struct {
	stt SpeechToText
}

func (m *cachedModel) Close() error {
	if c, ok := m.stt.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
