// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_callcontext

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Call context status constants.
const (
	StatusPending   = "pending"   // Inbound: created, waiting for media connection
	StatusQueued    = "queued"    // Outbound: created, waiting for provider to connect media
	StatusClaimed   = "claimed"   // Media connection established (AudioSocket/WebSocket)
	StatusCompleted = "completed" // Call ended normally
	StatusFailed    = "failed"    // Call setup or execution failed
)

// CallContext holds all the information needed to resolve a call session.
// It bridges the gap between call setup (inbound webhook or outbound dial)
// and the AudioSocket/WebSocket connection that follows.
//
// Stored in Postgres (call_contexts table). The status field provides atomic
// claiming: only one media connection can transition pending→claimed. For
// outbound recall calls the row doubles as the attempt record, which is why
// it carries the subject/campaign columns read back by the dial policies.
type CallContext struct {
	ContextID    string `json:"contextId" gorm:"column:context_id;type:varchar(36);primaryKey;<-:create"`
	Status       string `json:"status" gorm:"column:status;type:varchar(20);not null"`
	Provider     string `json:"provider" gorm:"column:provider;type:varchar(50)"`
	Direction    string `json:"direction" gorm:"column:direction;type:varchar(20);not null"`
	CallerNumber string `json:"callerNumber" gorm:"column:caller_number;type:varchar(50)"`
	CalleeNumber string `json:"calleeNumber" gorm:"column:callee_number;type:varchar(50)"`
	FromNumber   string `json:"fromNumber" gorm:"column:from_number;type:varchar(50)"`
	Language     string `json:"language" gorm:"column:language;type:varchar(10)"`

	// Campaign linkage for outbound calls. SubjectID identifies who the
	// campaign is calling about; Attempt counts dials for that subject.
	SubjectID    string `json:"subjectId" gorm:"column:subject_id;type:varchar(36);index"`
	CampaignID   string `json:"campaignId" gorm:"column:campaign_id;type:varchar(36);index"`
	CampaignType string `json:"campaignType" gorm:"column:campaign_type;type:varchar(50)"`
	Attempt      int    `json:"attempt" gorm:"column:attempt"`
	Outcome      string `json:"outcome" gorm:"column:outcome;type:varchar(50)"`

	// ChannelUUID is the provider-specific call identifier (Twilio CallSid,
	// FreeSWITCH channel UUID, SIP Call-ID, etc.). Stored so that any telephony
	// operation (transfer, disconnect) can reference the live call on the provider.
	ChannelUUID string `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200)"`

	// Transcript is the full conversation text, written when the call ends.
	// Details carries the JSON-encoded attempt detail map.
	Transcript string `json:"transcript" gorm:"column:transcript;type:text"`
	Details    string `json:"details" gorm:"column:details;type:text"`

	CreatedDate time.Time  `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
	UpdatedDate time.Time  `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
	EndedDate   *time.Time `json:"endedDate" gorm:"column:ended_date;type:timestamp"`
}

func (CallContext) TableName() string {
	return "call_contexts"
}

func (cc *CallContext) BeforeCreate(tx *gorm.DB) (err error) {
	if cc.CreatedDate.IsZero() {
		cc.CreatedDate = time.Now()
	}
	return nil
}

// IsPending returns true if the context has not yet been claimed.
func (cc *CallContext) IsPending() bool {
	return cc.Status == StatusPending
}

// IsClaimed returns true if the context has been claimed by a media connection.
func (cc *CallContext) IsClaimed() bool {
	return cc.Status == StatusClaimed
}

// IsTerminal returns true once the context reached a final status.
func (cc *CallContext) IsTerminal() bool {
	return cc.Status == StatusCompleted || cc.Status == StatusFailed
}

// SetDetails replaces the serialized attempt detail map.
func (cc *CallContext) SetDetails(details map[string]string) error {
	if len(details) == 0 {
		cc.Details = ""
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode call context details: %w", err)
	}
	cc.Details = string(raw)
	return nil
}

// DetailsMap decodes the serialized attempt detail map. Returns nil for
// contexts without details.
func (cc *CallContext) DetailsMap() (map[string]string, error) {
	if cc.Details == "" {
		return nil, nil
	}
	var details map[string]string
	if err := json.Unmarshal([]byte(cc.Details), &details); err != nil {
		return nil, fmt.Errorf("decode call context details: %w", err)
	}
	return details, nil
}
