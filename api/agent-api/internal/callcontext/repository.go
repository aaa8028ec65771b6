// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_callcontext

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/connectors"
	"github.com/praxisvoice/pkg/utils"
)

// attemptRepository records dial attempt outcomes onto the call_contexts
// table. An outbound call already has a context row (created when the call
// was originated), so recording its outcome is an update keyed by the call
// id. Attempts that never produced a context row — consent blocks and other
// pre-dial failures — insert a terminal row of their own so the per-subject
// attempt history stays complete.
type attemptRepository struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewRepository returns the canonical attempt repository backed by the
// call_contexts table.
func NewRepository(postgres connectors.PostgresConnector, logger commons.Logger) internal_capability.Repository {
	return &attemptRepository{
		postgres: postgres,
		logger:   logger,
	}
}

func (r *attemptRepository) SaveAttempt(ctx context.Context, attempt internal_capability.CallAttempt) error {
	at := attempt.At
	if at.IsZero() {
		at = time.Now()
	}

	var details string
	if len(attempt.Details) > 0 {
		cc := CallContext{}
		if err := cc.SetDetails(attempt.Details); err != nil {
			return err
		}
		details = cc.Details
	}

	// The dialer reports attempts under the provider's channel id while
	// contexts are keyed by their own id; match either.
	db := r.postgres.DB(ctx)
	result := db.Model(&CallContext{}).
		Where("context_id = ? OR channel_uuid = ?", attempt.CallID, attempt.CallID).
		Updates(map[string]interface{}{
			"subject_id":    attempt.SubjectID,
			"campaign_id":   attempt.CampaignID,
			"campaign_type": attempt.CampaignType,
			"attempt":       attempt.Attempt,
			"outcome":       attempt.Outcome,
			"details":       details,
			"ended_date":    at,
			"updated_date":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record attempt for call %s: %w", attempt.CallID, result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Infow("recorded call attempt",
			"callId", attempt.CallID,
			"subjectId", attempt.SubjectID,
			"attempt", attempt.Attempt,
			"outcome", attempt.Outcome)
		return nil
	}

	// No context row: the attempt ended before a call was ever set up.
	contextID := attempt.CallID
	if contextID == "" {
		contextID = uuid.New().String()
	}
	cc := &CallContext{
		ContextID:    contextID,
		Status:       StatusFailed,
		Direction:    string(internal_type.DirectionOutbound),
		CalleeNumber: attempt.PhoneNumber,
		SubjectID:    attempt.SubjectID,
		CampaignID:   attempt.CampaignID,
		CampaignType: attempt.CampaignType,
		Attempt:      attempt.Attempt,
		Outcome:      attempt.Outcome,
		Details:      details,
		CreatedDate:  at,
		EndedDate:    &at,
	}
	if err := db.Create(cc).Error; err != nil {
		return fmt.Errorf("failed to record attempt for subject %s: %w", attempt.SubjectID, err)
	}

	r.logger.Infow("recorded pre-dial attempt",
		"contextId", contextID,
		"subjectId", attempt.SubjectID,
		"callee", utils.MaskPhoneNumber(attempt.PhoneNumber),
		"attempt", attempt.Attempt,
		"outcome", attempt.Outcome)
	return nil
}

func (r *attemptRepository) AttemptsFor(ctx context.Context, subjectID string) ([]internal_capability.CallAttempt, error) {
	db := r.postgres.DB(ctx)
	var rows []CallContext
	if err := db.Where("subject_id = ?", subjectID).Order("created_date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load attempts for subject %s: %w", subjectID, err)
	}

	attempts := make([]internal_capability.CallAttempt, 0, len(rows))
	for i := range rows {
		attempts = append(attempts, r.toAttempt(&rows[i]))
	}
	return attempts, nil
}

func (r *attemptRepository) toAttempt(cc *CallContext) internal_capability.CallAttempt {
	at := cc.CreatedDate
	if cc.EndedDate != nil {
		at = *cc.EndedDate
	}
	details, err := cc.DetailsMap()
	if err != nil {
		// A corrupt detail blob must not hide the attempt itself.
		r.logger.Warnw("dropping unreadable attempt details",
			"contextId", cc.ContextID, "error", err)
		details = nil
	}
	return internal_capability.CallAttempt{
		CallID:       cc.ContextID,
		SubjectID:    cc.SubjectID,
		PhoneNumber:  cc.CalleeNumber,
		CampaignID:   cc.CampaignID,
		CampaignType: cc.CampaignType,
		Attempt:      cc.Attempt,
		Outcome:      cc.Outcome,
		At:           at,
		Details:      details,
	}
}
