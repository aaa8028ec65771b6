// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_conversation "github.com/praxisvoice/api/agent-api/internal/conversation"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// DefaultMaxTurns caps a campaign conversation; runaway calls end with the
// information-delivered outcome instead of looping.
const DefaultMaxTurns = 20

// DefaultTransferTarget is the dialplan extension main-dialog questions
// hand off to.
const DefaultTransferTarget = "reception"

// Patient identifies who a campaign call reaches for.
type Patient struct {
	ID        string
	Name      string
	FirstName string
	Phone     string
}

// Appointment is the scheduling context a campaign talks about. Date and
// Time are spoken verbatim; GermanDate formats a time.Time the way the
// practice speaks it.
type Appointment struct {
	Date     string
	Time     string
	Provider string
}

// PolicyConfig assembles one campaign conversation.
type PolicyConfig struct {
	Campaign       Campaign
	PracticeName   string
	Patient        Patient
	Appointment    Appointment
	Keywords       Keywords
	Templates      map[string]string // overrides for DefaultTemplates keys
	TransferTarget string
	MaxTurns       int
}

// CampaignPolicy is the scripted outbound policy: a state machine from
// introduction through identity check and appointment handling to a typed
// outcome. It satisfies the conversation engine's Policy interface; the
// dialer reads State, Outcome and Verified once the call is down.
type CampaignPolicy struct {
	cfg        PolicyConfig
	firstName  string
	classifier *Classifier
	set        *templateSet
	clock      internal_capability.Clock
	logger     commons.Logger

	mu            sync.Mutex
	state         State
	outcome       Outcome
	verified      bool
	rescheduled   bool
	cancelPending bool
	turns         int
}

func NewCampaignPolicy(
	cfg PolicyConfig,
	clock internal_capability.Clock,
	logger commons.Logger,
) (*CampaignPolicy, error) {
	if cfg.Campaign == "" {
		return nil, fmt.Errorf("outbound: campaign required")
	}
	if cfg.Patient.Name == "" {
		return nil, fmt.Errorf("outbound: patient name required")
	}
	if cfg.PracticeName == "" {
		cfg.PracticeName = "Praxis"
	}
	if cfg.TransferTarget == "" {
		cfg.TransferTarget = DefaultTransferTarget
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	set, err := compileTemplates(cfg.Templates, logger)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = internal_capability.SystemClock()
	}
	firstName := cfg.Patient.FirstName
	if firstName == "" {
		if fields := strings.Fields(cfg.Patient.Name); len(fields) > 0 {
			firstName = fields[0]
		}
	}
	return &CampaignPolicy{
		cfg:        cfg,
		firstName:  firstName,
		classifier: NewClassifier(cfg.Keywords),
		set:        set,
		clock:      clock,
		logger:     logger,
		state:      StateIntroduction,
	}, nil
}

func (p *CampaignPolicy) Greeting(_ context.Context) (internal_conversation.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return internal_conversation.Reply{Text: p.text("introduction")}, nil
}

func (p *CampaignPolicy) Respond(
	_ context.Context,
	_ []internal_type.Turn,
	utterance string,
) (internal_conversation.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateCompleted || p.state == StateFailed || p.state == StateFarewell {
		return internal_conversation.Reply{Text: p.text("farewell"), EndCall: true}, nil
	}

	p.turns++
	if p.turns > p.cfg.MaxTurns {
		p.logger.Warnw("outbound: turn budget exhausted",
			"campaign", p.cfg.Campaign, "turns", p.turns)
		reply := p.end(OutcomeInformationDelivered, p.text("farewell"))
		p.state = StateCompleted
		return reply, nil
	}

	intent := p.classifier.Classify(utterance)
	lower := strings.ToLower(utterance)

	// Callback requests and goodbyes cut across the state machine.
	switch intent {
	case IntentCallback:
		return p.end(OutcomeCallbackRequested, p.text("farewell_callback")), nil
	case IntentGoodbye:
		if p.state == StateConfirmation {
			return p.end(OutcomeInformationDelivered, p.text("farewell")), nil
		}
		return p.end(OutcomePatientHungUp, p.text("farewell")), nil
	}

	switch p.state {
	case StateIntroduction:
		return p.handleIntroduction(intent), nil
	case StateIdentityVerification:
		return p.handleIdentity(intent, lower), nil
	case StatePurposeStatement:
		return p.handlePurpose(intent), nil
	case StateMainDialog:
		return p.handleMainDialog(intent, lower), nil
	case StateAppointmentOffer:
		return p.handleOffer(intent), nil
	case StateConfirmation:
		return p.handleConfirmation(intent), nil
	default:
		return p.end(OutcomeConversationFailed, p.text("farewell")), nil
	}
}

func (p *CampaignPolicy) handleIntroduction(intent Intent) internal_conversation.Reply {
	switch intent {
	case IntentAffirm:
		p.verified = true
		p.state = StatePurposeStatement
		return internal_conversation.Reply{Text: p.text("purpose")}
	case IntentDeny:
		return p.end(OutcomeWrongPerson, p.text("farewell_wrong_person"))
	default:
		p.state = StateIdentityVerification
		return internal_conversation.Reply{Text: p.text("identity_prompt")}
	}
}

func (p *CampaignPolicy) handleIdentity(intent Intent, lower string) internal_conversation.Reply {
	named := p.firstName != "" && strings.Contains(lower, strings.ToLower(p.firstName))
	switch {
	case intent == IntentAffirm || named:
		p.verified = true
		p.state = StatePurposeStatement
		return internal_conversation.Reply{Text: p.text("purpose")}
	case intent == IntentDeny:
		return p.end(OutcomeWrongPerson, p.text("farewell_wrong_person"))
	default:
		return internal_conversation.Reply{Text: p.text("identity_retry")}
	}
}

func (p *CampaignPolicy) handlePurpose(intent Intent) internal_conversation.Reply {
	switch p.cfg.Campaign {
	case CampaignReminder:
		switch intent {
		case IntentAffirm:
			return p.end(OutcomeAppointmentConfirmed, p.text("farewell_confirmed"))
		case IntentReschedule:
			p.rescheduled = true
			p.state = StateAppointmentOffer
			return internal_conversation.Reply{Text: p.text("reschedule_ack")}
		case IntentDeny:
			p.cancelPending = true
			p.state = StateConfirmation
			return internal_conversation.Reply{Text: p.text("cancel_query")}
		}
	case CampaignRecall:
		if intent == IntentDeny {
			return p.end(OutcomePatientDeclined, p.text("farewell_declined"))
		}
		p.state = StateAppointmentOffer
		return internal_conversation.Reply{Text: p.text("offer")}
	case CampaignNoShow:
		switch intent {
		case IntentAffirm:
			p.state = StateAppointmentOffer
			return internal_conversation.Reply{Text: p.text("offer")}
		case IntentDeny:
			return p.end(OutcomePatientDeclined, p.text("farewell_declined"))
		}
	}
	p.state = StateMainDialog
	return internal_conversation.Reply{Text: p.text("main_dialog")}
}

func (p *CampaignPolicy) handleMainDialog(intent Intent, lower string) internal_conversation.Reply {
	if intent == IntentDeny || strings.Contains(lower, "keine fragen") {
		return p.end(OutcomeInformationDelivered, p.text("farewell"))
	}
	if intent == IntentAffirm || strings.Contains(lower, "frage") || strings.Contains(lower, "?") {
		p.outcome = OutcomeInformationDelivered
		p.state = StateCompleted
		return internal_conversation.Reply{
			Text:       p.text("transfer_notice"),
			TransferTo: p.cfg.TransferTarget,
		}
	}
	return p.end(OutcomeInformationDelivered, p.text("farewell"))
}

func (p *CampaignPolicy) handleOffer(intent Intent) internal_conversation.Reply {
	switch intent {
	case IntentAffirm:
		p.state = StateConfirmation
		if p.rescheduled {
			return internal_conversation.Reply{Text: p.text("confirm_new")}
		}
		return internal_conversation.Reply{Text: p.text("confirm_existing")}
	case IntentReschedule, IntentDeny:
		p.rescheduled = true
		return internal_conversation.Reply{Text: p.text("offer_alternatives")}
	default:
		return internal_conversation.Reply{Text: p.text("offer_clarify")}
	}
}

func (p *CampaignPolicy) handleConfirmation(intent Intent) internal_conversation.Reply {
	if p.cancelPending {
		switch intent {
		case IntentReschedule:
			p.cancelPending = false
			p.rescheduled = true
			p.state = StateAppointmentOffer
			return internal_conversation.Reply{Text: p.text("offer")}
		case IntentAffirm, IntentDeny:
			return p.end(OutcomePatientDeclined, p.text("farewell_declined"))
		default:
			return internal_conversation.Reply{Text: p.text("cancel_query")}
		}
	}
	if intent == IntentAffirm {
		outcome := OutcomeAppointmentConfirmed
		if p.rescheduled {
			outcome = OutcomeAppointmentRescheduled
		}
		return p.end(outcome, p.text("farewell_confirmed"))
	}
	p.rescheduled = true
	p.state = StateAppointmentOffer
	return internal_conversation.Reply{Text: p.text("confirm_retry")}
}

// end records the outcome and moves into the farewell; Finalize settles
// the terminal state once the call is actually down.
func (p *CampaignPolicy) end(outcome Outcome, message string) internal_conversation.Reply {
	p.outcome = outcome
	p.state = StateFarewell
	p.logger.Infow("outbound: conversation finished",
		"campaign", p.cfg.Campaign, "outcome", outcome, "turns", p.turns)
	return internal_conversation.Reply{Text: message, EndCall: true}
}

// Finalize settles the terminal state after hangup and returns the
// outcome. A conversation that never reached its own ending counts as the
// patient hanging up.
func (p *CampaignPolicy) Finalize() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outcome == "" {
		p.outcome = OutcomePatientHungUp
	}
	if p.outcome == OutcomeConversationFailed {
		p.state = StateFailed
	} else {
		p.state = StateCompleted
	}
	return p.outcome
}

func (p *CampaignPolicy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *CampaignPolicy) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Verified reports whether the patient confirmed their identity.
func (p *CampaignPolicy) Verified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verified
}

func (p *CampaignPolicy) Turns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turns
}

func (p *CampaignPolicy) text(name string) string {
	date := p.cfg.Appointment.Date
	if date == "" {
		date = "dem vereinbarten Tag"
	}
	timeOfDay := p.cfg.Appointment.Time
	if timeOfDay == "" {
		timeOfDay = "der vereinbarten Zeit"
	}
	provider := p.cfg.Appointment.Provider
	if provider == "" {
		provider = "uns"
	}
	return p.set.render(name, p.cfg.Campaign, pongo2.Context{
		"time_of_day":        internal_conversation.TimeOfDay(p.clock.Now()),
		"practice_name":      p.cfg.PracticeName,
		"patient_name":       p.cfg.Patient.Name,
		"patient_first_name": p.firstName,
		"provider_name":      provider,
		"appointment_date":   date,
		"appointment_time":   timeOfDay,
	})
}
