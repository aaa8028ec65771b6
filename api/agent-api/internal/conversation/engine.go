// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_conversation runs one call's dialogue: utterances come
// in as engine-format audio, pass through recognition and the call policy,
// and leave as synthesized sentences. The engine talks to the world only
// through its SessionObserver, so the same core serves the TCP bridge, the
// WebSocket adapters and the outbound dialer.
package internal_conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internal_sentence_assembler "github.com/praxisvoice/api/agent-api/internal/assembler/text"
	internal_pipeline "github.com/praxisvoice/api/agent-api/internal/audio/pipeline"
	internal_resample "github.com/praxisvoice/api/agent-api/internal/audio/resample"
	internal_vad "github.com/praxisvoice/api/agent-api/internal/audio/vad"
	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

var (
	ErrEnded          = errors.New("conversation: ended")
	ErrAlreadyStarted = errors.New("conversation: already started")
	ErrMissingDep     = errors.New("conversation: missing dependency")
)

// Config tunes one engine instance. Zero values fall back to the defaults
// below; the container builds this from application config.
type Config struct {
	Language string `mapstructure:"language"`
	Voice    string `mapstructure:"voice"`

	// ApologyText is spoken when generation fails outright.
	ApologyText string `mapstructure:"apology_text"`
	// FarewellText is spoken when the caller uses an exit phrase.
	FarewellText string `mapstructure:"farewell_text"`
	// ExitPhrases end the call when the transcript contains one
	// (case-insensitive substring match). Empty disables the check.
	ExitPhrases []string `mapstructure:"exit_phrases"`

	// MaxHistoryTurns caps the turn window handed to the policy.
	MaxHistoryTurns int `mapstructure:"max_history_turns"`
	// MaxHistoryTokens further trims that window to a token budget.
	MaxHistoryTokens int `mapstructure:"max_history_tokens"`

	// BargeInRMS and BargeInFrames gate interruption while speaking: the
	// caller's RMS must exceed the threshold for this many consecutive
	// frames before pending output is cancelled.
	BargeInRMS    float32 `mapstructure:"barge_in_rms"`
	BargeInFrames int     `mapstructure:"barge_in_frames"`

	// MinSpeechFrames / HangoverFrames configure utterance segmentation.
	MinSpeechFrames int `mapstructure:"min_speech_frames"`
	HangoverFrames  int `mapstructure:"hangover_frames"`
}

func DefaultConfig() Config {
	return Config{
		Language:         "de-DE",
		ApologyText:      "Entschuldigung, es gab einen Fehler. Können Sie das bitte wiederholen?",
		FarewellText:     "Auf Wiederhören!",
		ExitPhrases:      []string{"auf wiederhören", "auf wiedersehen", "tschüss"},
		MaxHistoryTurns:  10,
		MaxHistoryTokens: 1024,
		BargeInRMS:       0.02,
		BargeInFrames:    3,
		MinSpeechFrames:  3,
		HangoverFrames:   35,
	}
}

// Dependencies are the injected capabilities. STT, TTS, Policy and Observer
// are required; the rest default sensibly.
type Dependencies struct {
	STT      internal_capability.SpeechToText
	TTS      internal_capability.TextToSpeech
	Policy   Policy
	Observer SessionObserver

	// Normalizer rewrites each sentence for synthesis (dates, numbers,
	// abbreviations). Defaults to the German pipeline.
	Normalizer internal_type.TextNormalizer
	// Assembler splits token streams into speakable sentences.
	Assembler internal_type.SentenceAssembler
	// Tokens estimates history size for the token budget.
	Tokens TokenCounter
	// VAD drives utterance segmentation. Defaults to the energy detector.
	VAD internal_vad.VAD
}

// Stats is a point-in-time engine snapshot.
type Stats struct {
	State    internal_type.CallState `json:"state"`
	Turns    uint64                  `json:"turns"`
	BargeIns uint64                  `json:"barge_ins"`
}

// Engine is one call's conversation state machine.
type Engine struct {
	info   internal_type.CallInfo
	cfg    Config
	deps   Dependencies
	logger commons.Logger

	mu          sync.Mutex
	state       internal_type.CallState
	history     []internal_type.Turn
	speakCancel context.CancelFunc
	bargeRun    int

	segMu     sync.Mutex
	segmenter *internal_vad.Segmenter

	turnMu     sync.Mutex // serializes turn processing
	utterances chan []float32

	runCtx    context.Context
	runCancel context.CancelFunc
	started   atomic.Bool
	endOnce   sync.Once
	done      chan struct{}

	turns    atomic.Uint64
	bargeIns atomic.Uint64
}

func New(info internal_type.CallInfo, cfg Config, deps Dependencies, logger commons.Logger) (*Engine, error) {
	if deps.STT == nil || deps.TTS == nil || deps.Policy == nil || deps.Observer == nil {
		return nil, ErrMissingDep
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	def := DefaultConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.ApologyText == "" {
		cfg.ApologyText = def.ApologyText
	}
	if cfg.FarewellText == "" {
		cfg.FarewellText = def.FarewellText
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = def.MaxHistoryTurns
	}
	if cfg.BargeInRMS <= 0 {
		cfg.BargeInRMS = def.BargeInRMS
	}
	if cfg.BargeInFrames <= 0 {
		cfg.BargeInFrames = def.BargeInFrames
	}

	if deps.Normalizer == nil {
		deps.Normalizer = internal_type.NewPipelineNormalizer(logger, internal_type.DefaultNormalizerNames())
	}
	if deps.Assembler == nil {
		asm, err := internal_sentence_assembler.GetSentenceAssembler(context.Background(), logger, utils.Option{})
		if err != nil {
			return nil, err
		}
		deps.Assembler = asm
	}
	if deps.Tokens == nil {
		deps.Tokens = NewTiktokenCounter(logger)
	}
	if deps.VAD == nil {
		deps.VAD = internal_vad.NewSimpleVAD(cfg.BargeInRMS)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Engine{
		info:       info,
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		state:      internal_type.CallStateNew,
		segmenter:  internal_vad.NewSegmenter(deps.VAD, cfg.MinSpeechFrames, cfg.HangoverFrames),
		utterances: make(chan []float32, 2),
		runCtx:     runCtx,
		runCancel:  runCancel,
		done:       make(chan struct{}),
	}, nil
}

// Info returns the call identity this engine serves.
func (e *Engine) Info() internal_type.CallInfo { return e.info }

// State returns the current lifecycle state.
func (e *Engine) State() internal_type.CallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns a copy of the full transcript so far.
func (e *Engine) History() []internal_type.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]internal_type.Turn(nil), e.history...)
}

func (e *Engine) Stats() Stats {
	return Stats{State: e.State(), Turns: e.turns.Load(), BargeIns: e.bargeIns.Load()}
}

// Done closes when the conversation has ended.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start speaks the greeting and begins consuming utterances. It returns
// immediately; progress is reported through the observer.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.mu.Lock()
	if e.state == internal_type.CallStateEnded {
		e.mu.Unlock()
		return ErrEnded
	}
	e.mu.Unlock()

	e.setState(internal_type.CallStateGreeting)
	go e.run(ctx)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	e.greet(ctx)

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ctx.Done():
			e.End("context cancelled")
			return
		case utt := <-e.utterances:
			if _, _, err := e.ProcessUtterance(e.runCtx, utt); err != nil && !errors.Is(err, ErrEnded) {
				e.logger.Errorw("turn failed", "call_id", e.info.ID, "error", err)
			}
		}
	}
}

func (e *Engine) greet(ctx context.Context) {
	reply, err := e.deps.Policy.Greeting(ctx)
	if err != nil {
		e.logger.Errorw("greeting failed", "call_id", e.info.ID, "error", err)
		reply = Reply{Text: e.cfg.ApologyText}
	}
	spoken, err := e.speakReply(ctx, reply)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Errorw("greeting playback failed", "call_id", e.info.ID, "error", err)
	}
	if spoken != "" {
		e.appendTurn(internal_type.RoleAgent, spoken)
	}
	if reply.EndCall {
		e.End("policy ended call")
		return
	}
	e.toListening()
}

// OnInboundAudio feeds one frame of caller audio (engine format). It never
// blocks: utterances that complete while a turn is still in flight queue up,
// and the queue drops with a warning when full.
func (e *Engine) OnInboundAudio(samples []float32) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == internal_type.CallStateEnded || state == internal_type.CallStateNew {
		return
	}

	if state == internal_type.CallStateSpeaking {
		e.detectBargeIn(samples)
	}

	e.segMu.Lock()
	utt, err := e.segmenter.Push(samples)
	e.segMu.Unlock()
	if err != nil {
		e.logger.Warnw("vad failed", "call_id", e.info.ID, "error", err)
		return
	}
	if len(utt) > 0 {
		e.queueUtterance(utt)
	}
}

// FlushUtterance closes the buffered utterance without waiting for the
// silence hangover. Transports call this on an explicit end-of-audio signal.
func (e *Engine) FlushUtterance() {
	e.segMu.Lock()
	utt := e.segmenter.Flush()
	e.segMu.Unlock()
	if len(utt) > 0 {
		e.queueUtterance(utt)
	}
}

func (e *Engine) queueUtterance(utt []float32) {
	select {
	case e.utterances <- utt:
	default:
		e.logger.Warnw("utterance queue full, dropping",
			"call_id", e.info.ID, "samples", len(utt))
	}
}

func (e *Engine) detectBargeIn(samples []float32) {
	e.mu.Lock()
	if utils.RMSFloat32(samples) >= e.cfg.BargeInRMS {
		e.bargeRun++
	} else {
		e.bargeRun = 0
	}
	trigger := e.bargeRun >= e.cfg.BargeInFrames && e.state == internal_type.CallStateSpeaking
	var cancel context.CancelFunc
	if trigger {
		cancel = e.speakCancel
		e.speakCancel = nil
		e.bargeRun = 0
		e.state = internal_type.CallStateListening
	}
	e.mu.Unlock()

	if !trigger {
		return
	}
	e.bargeIns.Add(1)
	e.logger.Infow("barge-in", "call_id", e.info.ID)
	if cancel != nil {
		cancel()
	}
	e.deps.Observer.OnInterrupt(e.info.ID)
	e.deps.Observer.OnStateChange(e.info.ID, internal_type.CallStateSpeaking, internal_type.CallStateListening)
}

// ProcessUtterance runs one full turn synchronously: recognition, policy,
// sentence-by-sentence synthesis. Returns the caller transcript and the
// agent's spoken reply. Audio reaches the observer as it becomes ready.
func (e *Engine) ProcessUtterance(ctx context.Context, samples []float32) (string, string, error) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	e.mu.Lock()
	if e.state == internal_type.CallStateEnded {
		e.mu.Unlock()
		return "", "", ErrEnded
	}
	if e.state == internal_type.CallStateTransferring {
		e.mu.Unlock()
		return "", "", nil
	}
	e.mu.Unlock()
	e.setState(internal_type.CallStateProcessing)

	transcript, err := e.deps.STT.Transcribe(ctx, samples, internal_type.EngineSampleRate, e.cfg.Language)
	if err != nil {
		e.logger.Warnw("transcription failed", "call_id", e.info.ID, "error", err)
		transcript = internal_type.Transcript{}
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		// Nothing intelligible: no user turn, no reply, keep listening.
		e.toListening()
		return "", "", nil
	}

	e.turns.Add(1)
	e.deps.Observer.OnTranscript(e.info.ID, transcript)
	e.appendTurn(internal_type.RoleCaller, text)

	if e.matchesExitPhrase(text) {
		spoken, _ := e.speakReply(ctx, Reply{Text: e.cfg.FarewellText})
		if spoken != "" {
			e.appendTurn(internal_type.RoleAgent, spoken)
		}
		e.End("caller said goodbye")
		return text, spoken, nil
	}

	reply, err := e.deps.Policy.Respond(ctx, e.historyView(), text)
	if err != nil {
		e.logger.Errorw("policy failed, speaking apology", "call_id", e.info.ID, "error", err)
		reply = Reply{Text: e.cfg.ApologyText}
	}

	spoken, speakErr := e.speakReply(ctx, reply)
	if spoken != "" {
		e.appendTurn(internal_type.RoleAgent, spoken)
	}
	if speakErr != nil && !errors.Is(speakErr, context.Canceled) {
		e.logger.Errorw("playback failed", "call_id", e.info.ID, "error", speakErr)
	}

	switch {
	case reply.TransferTo != "":
		e.setState(internal_type.CallStateTransferring)
		e.deps.Observer.OnTransfer(e.info.ID, reply.TransferTo)
	case reply.EndCall:
		e.End("policy ended call")
	default:
		e.toListening()
	}
	return text, spoken, nil
}

// speakReply renders a reply sentence by sentence: each completed sentence
// goes out as text, then as audio, strictly in order. Cancellation (barge-in
// or end) aborts the remainder and returns what was spoken so far.
func (e *Engine) speakReply(ctx context.Context, reply Reply) (string, error) {
	speakCtx, finish := e.beginSpeaking(ctx)
	defer finish()

	e.deps.Assembler.Reset()
	var spoken []string

	emit := func(sentence string) error {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			return nil
		}
		if err := e.speakSentence(speakCtx, sentence); err != nil {
			return err
		}
		spoken = append(spoken, sentence)
		return nil
	}

	joined := func() string { return strings.Join(spoken, " ") }

	if reply.Stream != nil {
		defer reply.Stream.Close()
		for reply.Stream.Next() {
			if err := speakCtx.Err(); err != nil {
				return joined(), err
			}
			for _, sentence := range e.deps.Assembler.Push(reply.Stream.Current()) {
				if err := emit(sentence); err != nil {
					return joined(), err
				}
			}
		}
		if err := reply.Stream.Err(); err != nil {
			e.logger.Errorw("generation stream failed", "call_id", e.info.ID, "error", err)
			if len(spoken) == 0 {
				if err := emit(e.cfg.ApologyText); err != nil {
					return joined(), err
				}
			}
			return joined(), nil
		}
		if rest := e.deps.Assembler.Flush(); rest != "" {
			if err := emit(rest); err != nil {
				return joined(), err
			}
		}
		return joined(), nil
	}

	for _, sentence := range e.deps.Assembler.Push(reply.Text) {
		if err := emit(sentence); err != nil {
			return joined(), err
		}
	}
	if rest := e.deps.Assembler.Flush(); rest != "" {
		if err := emit(rest); err != nil {
			return joined(), err
		}
	}
	return joined(), nil
}

// speakSentence synthesizes one sentence and hands text plus audio to the
// observer, text first. A synthesis failure degrades to a text-only
// sentence; cancellation aborts before anything is announced.
func (e *Engine) speakSentence(ctx context.Context, sentence string) error {
	normalized := sentence
	if e.deps.Normalizer != nil {
		normalized = e.deps.Normalizer.Normalize(ctx, sentence)
	}

	audio, err := e.deps.TTS.Synthesize(ctx, normalized, internal_capability.SynthesisOptions{
		Voice:    e.cfg.Voice,
		Language: e.cfg.Language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warnw("synthesis failed, sentence stays text-only",
			"call_id", e.info.ID, "error", err)
		e.deps.Observer.OnAgentText(e.info.ID, sentence)
		return nil
	}

	samples := internal_pipeline.Int16ToFloat32(audio.PCM)
	if audio.SampleRate > 0 && audio.SampleRate != internal_type.EngineSampleRate {
		resampled, rerr := internal_resample.ResampleFloat32(samples, audio.SampleRate, internal_type.EngineSampleRate)
		if rerr != nil {
			e.logger.Warnw("unsupported synthesis rate, dropping audio",
				"call_id", e.info.ID, "rate", audio.SampleRate)
			e.deps.Observer.OnAgentText(e.info.ID, sentence)
			return nil
		}
		samples = resampled
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.deps.Observer.OnAgentText(e.info.ID, sentence)
	e.deps.Observer.OnAgentAudio(e.info.ID, samples)
	return nil
}

// beginSpeaking installs a cancellable synthesis context. Outside the
// greeting it also moves the machine to SPEAKING, arming barge-in.
func (e *Engine) beginSpeaking(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	inGreeting := e.state == internal_type.CallStateGreeting
	e.speakCancel = cancel
	e.bargeRun = 0
	e.mu.Unlock()

	if !inGreeting {
		e.setState(internal_type.CallStateSpeaking)
	}

	finish := func() {
		e.mu.Lock()
		if e.speakCancel != nil {
			e.speakCancel = nil
		}
		e.mu.Unlock()
		cancel()
	}
	return ctx, finish
}

func (e *Engine) toListening() {
	e.setState(internal_type.CallStateListening)
}

// setState performs one transition and notifies the observer. ENDED is
// terminal; same-state transitions are silent.
func (e *Engine) setState(to internal_type.CallState) {
	e.mu.Lock()
	from := e.state
	if from == to || from == internal_type.CallStateEnded {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()
	e.deps.Observer.OnStateChange(e.info.ID, from, to)
}

func (e *Engine) appendTurn(role internal_type.TurnRole, text string) {
	e.mu.Lock()
	if e.state == internal_type.CallStateEnded {
		e.mu.Unlock()
		return
	}
	e.history = append(e.history, internal_type.Turn{Role: role, Text: text, At: time.Now()})
	e.mu.Unlock()
}

// historyView returns the policy's window: the last MaxHistoryTurns turns,
// further trimmed to the token budget.
func (e *Engine) historyView() []internal_type.Turn {
	e.mu.Lock()
	view := e.history
	if n := e.cfg.MaxHistoryTurns; n > 0 && len(view) > n {
		view = view[len(view)-n:]
	}
	view = append([]internal_type.Turn(nil), view...)
	e.mu.Unlock()

	return trimToBudget(view, e.cfg.MaxHistoryTokens, e.deps.Tokens)
}

func (e *Engine) matchesExitPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range e.cfg.ExitPhrases {
		if phrase != "" && strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// End terminates the conversation from any state. Safe to call from any
// goroutine and idempotent: the observer sees exactly one ENDED transition
// and one OnEnded with the final transcript.
func (e *Engine) End(reason string) {
	e.endOnce.Do(func() {
		e.mu.Lock()
		from := e.state
		e.state = internal_type.CallStateEnded
		cancel := e.speakCancel
		e.speakCancel = nil
		history := append([]internal_type.Turn(nil), e.history...)
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.runCancel()

		if from != internal_type.CallStateEnded {
			e.deps.Observer.OnStateChange(e.info.ID, from, internal_type.CallStateEnded)
		}
		e.logger.Infow("conversation ended",
			"call_id", e.info.ID, "reason", reason, "turns", len(history))
		e.deps.Observer.OnEnded(e.info.ID, e.info, history)
		close(e.done)
	})
}
