// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_capability defines the contracts between the call core
// and the provider world. Everything a conversation needs from the outside
// (recognition, generation, synthesis, messaging, consent, audit, time,
// persistence) enters through one of these interfaces; implementations are
// injected at container build time and the core never reaches for a
// provider SDK directly.
package internal_capability

import (
	"context"
	"time"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
)

// ============================================================
// Speech to text
// ============================================================

// SpeechToText converts engine-format audio into text. Implementations must
// tolerate short (<= 100 ms) and silent inputs by returning an empty
// transcript rather than an error.
type SpeechToText interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (internal_type.Transcript, error)
}

// StreamingRecognizer is an optional extension for providers that accept
// audio incrementally and emit interim results.
type StreamingRecognizer interface {
	SpeechToText

	// OpenStream starts a recognition stream. Interim transcripts arrive on
	// the returned channel with IsFinal=false; the utterance result carries
	// IsFinal=true. The channel closes when the stream ends.
	OpenStream(ctx context.Context, sampleRate int, languageHint string) (RecognitionStream, error)
}

// RecognitionStream is one live streaming-recognition session.
type RecognitionStream interface {
	Send(samples []float32) error
	Results() <-chan internal_type.Transcript
	Close() error
}

// ============================================================
// Language model
// ============================================================

// GenerateOptions tune one generation request.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32

	// SentenceTerminators hints providers that can flush output on sentence
	// boundaries. Purely advisory.
	SentenceTerminators string
}

// SingleTurn is the minimal completion capability: one flattened prompt in,
// one completion out. Local models and plain completion endpoints live here.
type SingleTurn interface {
	Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Conversational generates from a structured turn history. The conversation
// engine requires this capability; wrap a SingleTurn model with
// NewConversationalAdapter when the provider has no chat surface.
type Conversational interface {
	Generate(ctx context.Context, system string, history []internal_type.Turn, opts GenerateOptions) (string, error)

	// GenerateStream returns token fragments as the model produces them.
	// The stream ends when Next reports false; Err distinguishes a normal
	// end from a mid-stream failure.
	GenerateStream(ctx context.Context, system string, history []internal_type.Turn, opts GenerateOptions) (TokenStream, error)
}

// TokenStream iterates a generation in fragments.
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// ============================================================
// Text to speech
// ============================================================

// SpeechAudio is synthesized speech as 16-bit linear PCM at the declared
// rate. Callers resample to the engine rate when they differ.
type SpeechAudio struct {
	PCM        []int16
	SampleRate int
}

// Duration reports the playback length of the clip.
func (a SpeechAudio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(a.SampleRate)
}

// SynthesisOptions select the voice for one synthesis request.
type SynthesisOptions struct {
	Voice    string
	Language string
}

// TextToSpeech renders text into speech. Synthesize must honor context
// cancellation: a barge-in cancels the per-turn context mid-sentence.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (SpeechAudio, error)
}

// ============================================================
// Messaging
// ============================================================

// SMSMessage is one outbound text message.
type SMSMessage struct {
	To        string
	Body      string
	Reference string
}

// SMSResult reports the provider's verdict on a send.
type SMSResult struct {
	Success      bool
	MessageID    string
	ErrorMessage string
}

// SMSGateway delivers text messages, used by the dialer as the fallback
// channel after failed call attempts.
type SMSGateway interface {
	Send(ctx context.Context, msg SMSMessage) (SMSResult, error)
}

// ============================================================
// Consent & audit
// ============================================================

// ConsentKind names one contact permission a subject can grant.
type ConsentKind string

const (
	ConsentPhoneContact ConsentKind = "phone_contact"
	ConsentSMSContact   ConsentKind = "sms_contact"
)

// ConsentStore answers whether a subject permitted a contact channel. A
// lookup failure is treated by callers as consent denied.
type ConsentStore interface {
	HasConsent(ctx context.Context, subjectID string, kind ConsentKind) (bool, error)
}

// AuditAction classifies an audit entry.
type AuditAction string

const (
	AuditActionCall    AuditAction = "call"
	AuditActionSMS     AuditAction = "sms"
	AuditActionConsent AuditAction = "consent_check"
	AuditActionAccess  AuditAction = "access"
)

// AuditEntry is one compliance log record. Details must never contain full
// phone numbers; mask with utils.MaskPhoneNumber before recording.
type AuditEntry struct {
	Actor        string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	Details      map[string]string
}

// AuditLog records compliance entries. Record is fire-and-forget: it must
// swallow and log its own failures, never surfacing them to the call path.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry)
}

// ============================================================
// Time
// ============================================================

// Clock abstracts wall time so schedulers can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return ClockFunc(time.Now) }

// ============================================================
// Persistence
// ============================================================

// CallAttempt is the persisted outcome of one dial attempt.
type CallAttempt struct {
	CallID       string
	SubjectID    string
	PhoneNumber  string
	CampaignID   string
	CampaignType string
	Attempt      int
	Outcome      string
	At           time.Time
	Details      map[string]string
}

// Repository persists call attempts for the campaign policies. The
// canonical implementation wraps the call-context store.
type Repository interface {
	SaveAttempt(ctx context.Context, attempt CallAttempt) error
	AttemptsFor(ctx context.Context, subjectID string) ([]CallAttempt, error)
}
