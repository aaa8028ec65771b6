// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_outbound drives goal-directed outbound campaign calls:
// a per-call state machine from introduction through identity check and
// appointment handling to a typed outcome. Patient replies are classified
// by configurable German keyword lists.
package internal_outbound

import (
	"fmt"
	"strings"
	"time"
)

// State is one phase of an outbound conversation.
type State string

const (
	StateIntroduction         State = "introduction"
	StateIdentityVerification State = "identity_verification"
	StatePurposeStatement     State = "purpose_statement"
	StateMainDialog           State = "main_dialog"
	StateAppointmentOffer     State = "appointment_offer"
	StateConfirmation         State = "confirmation"
	StateFarewell             State = "farewell"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// Outcome is the terminal result of an outbound conversation.
type Outcome string

const (
	OutcomeAppointmentConfirmed   Outcome = "appointment_confirmed"
	OutcomeAppointmentRescheduled Outcome = "appointment_rescheduled"
	OutcomeInformationDelivered   Outcome = "information_delivered"
	OutcomeCallbackRequested      Outcome = "callback_requested"
	OutcomePatientDeclined        Outcome = "patient_declined"
	OutcomeWrongPerson            Outcome = "wrong_person"
	OutcomeVoicemailLeft          Outcome = "voicemail_left"
	OutcomeConversationFailed     Outcome = "conversation_failed"
	OutcomePatientHungUp          Outcome = "patient_hung_up"
)

// Campaign selects the script an outbound call follows.
type Campaign string

const (
	CampaignReminder     Campaign = "reminder"
	CampaignRecall       Campaign = "recall"
	CampaignNoShow       Campaign = "no_show"
	CampaignLabResults   Campaign = "lab_results"
	CampaignPrescription Campaign = "prescription"
	CampaignFollowUp     Campaign = "follow_up"
)

// Intent is the classified meaning of one patient reply.
type Intent string

const (
	IntentAffirm     Intent = "affirm"
	IntentDeny       Intent = "deny"
	IntentReschedule Intent = "reschedule"
	IntentCallback   Intent = "callback"
	IntentGoodbye    Intent = "goodbye"
	IntentUnknown    Intent = "unknown"
)

// Keywords configures the reply classifier. Lists are matched as
// case-insensitive substrings; an empty list falls back to the defaults.
type Keywords struct {
	Affirm     []string `mapstructure:"affirm"`
	Deny       []string `mapstructure:"deny"`
	Reschedule []string `mapstructure:"reschedule"`
	Callback   []string `mapstructure:"callback"`
	Goodbye    []string `mapstructure:"goodbye"`
}

// DefaultKeywords is the German keyword set tuned on practice call
// transcripts.
func DefaultKeywords() Keywords {
	return Keywords{
		Affirm: []string{
			"ja", "okay", "ok", "gut", "richtig", "genau", "passt",
			"stimmt", "korrekt", "gerne", "einverstanden", "bestätigt",
		},
		Deny: []string{
			"nein", "nicht", "falsch", "absagen", "stornieren",
			"geht nicht", "kann nicht", "leider nicht",
		},
		Reschedule: []string{
			"verschieben", "anderen termin", "umbuchen", "ändern",
			"später", "früher", "anderer tag", "andere zeit",
		},
		Callback: []string{
			"zurückrufen", "später anrufen", "gerade schlecht",
			"kann nicht sprechen", "im meeting", "beschäftigt",
		},
		Goodbye: []string{
			"tschüss", "auf wiedersehen", "wiederhören",
			"bye", "ciao", "servus",
		},
	}
}

// Classifier maps one patient reply to an intent. Classes are checked in
// the order affirm, deny, reschedule, callback, goodbye; the first class
// with a matching keyword wins.
type Classifier struct {
	kw Keywords
}

func NewClassifier(kw Keywords) *Classifier {
	def := DefaultKeywords()
	if len(kw.Affirm) == 0 {
		kw.Affirm = def.Affirm
	}
	if len(kw.Deny) == 0 {
		kw.Deny = def.Deny
	}
	if len(kw.Reschedule) == 0 {
		kw.Reschedule = def.Reschedule
	}
	if len(kw.Callback) == 0 {
		kw.Callback = def.Callback
	}
	if len(kw.Goodbye) == 0 {
		kw.Goodbye = def.Goodbye
	}
	return &Classifier{kw: kw}
}

func (c *Classifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	switch {
	case matchAny(lower, c.kw.Affirm):
		return IntentAffirm
	case matchAny(lower, c.kw.Deny):
		return IntentDeny
	case matchAny(lower, c.kw.Reschedule):
		return IntentReschedule
	case matchAny(lower, c.kw.Callback):
		return IntentCallback
	case matchAny(lower, c.kw.Goodbye):
		return IntentGoodbye
	default:
		return IntentUnknown
	}
}

func matchAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

var germanWeekdays = [7]string{
	"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag",
}

// GermanDate renders a date the way the practice speaks it: "Montag, den 15.9."
func GermanDate(t time.Time) string {
	return fmt.Sprintf("%s, den %d.%d.", germanWeekdays[int(t.Weekday())], t.Day(), int(t.Month()))
}
