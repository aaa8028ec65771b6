// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_callcontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/connectors"
	"github.com/praxisvoice/pkg/utils"
)

// ErrNotClaimable is returned by Claim when the context does not exist or a
// concurrent media connection already won the claim.
var ErrNotClaimable = errors.New("call context not found or already claimed")

// Store provides operations to save and retrieve call contexts from Postgres.
//
// Call contexts are session-scoped records that live for the entire duration
// of a call. Telephony providers send event/status callbacks asynchronously —
// these can arrive at any time, including after the media stream has
// disconnected and the context has been marked "completed". Therefore, the
// row is never deleted during the call lifecycle; it is only transitioned
// through statuses: pending/queued → claimed → completed/failed.
type Store interface {
	// Save stores a call context with a generated contextId (UUID).
	// Returns the generated contextId.
	Save(ctx context.Context, cc *CallContext) (string, error)

	// Get retrieves a call context by contextId regardless of its current
	// status (pending, queued, claimed, completed, or failed). This is
	// intentional: event/status callbacks from upstream telephony providers
	// are asynchronous and may arrive after the call has already ended.
	// The row must remain readable for the full lifetime of the context.
	Get(ctx context.Context, contextID string) (*CallContext, error)

	// Claim atomically transitions a call context from "pending" or "queued"
	// to "claimed". Inbound contexts start as "pending"; outbound contexts
	// start as "queued" (set by the outbound call creator). Only one
	// concurrent media connection can win the claim — subsequent callers get
	// ErrNotClaimable because the row is no longer in a claimable status.
	Claim(ctx context.Context, contextID string) (*CallContext, error)

	// Delete removes a call context row. This is only intended for cleanup
	// (e.g. TTL-based garbage collection), NOT during active call flows,
	// because async event callbacks may still reference the contextId.
	Delete(ctx context.Context, contextID string) error

	// Complete marks a call context as completed and stamps the end time.
	// Called when the call/session ends. The row remains in the database so
	// that late-arriving async event callbacks from the telephony provider
	// can still resolve the context.
	Complete(ctx context.Context, contextID string) error

	// UpdateField sets a single column on an existing call context.
	// Used to patch the channel UUID after the telephony provider returns it,
	// or to fail a context whose call setup broke.
	UpdateField(ctx context.Context, contextID, field, value string) error

	// ListBySubject returns all call contexts recorded for a subject, oldest
	// first. The dial policies read these to count prior attempts.
	ListBySubject(ctx context.Context, subjectID string) ([]CallContext, error)
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new call context store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

// Save stores a call context in Postgres with a generated UUID as the contextId.
func (s *postgresStore) Save(ctx context.Context, cc *CallContext) (string, error) {
	if cc.ContextID == "" {
		cc.ContextID = uuid.New().String()
	}
	if cc.Status == "" {
		cc.Status = StatusPending
	}

	db := s.postgres.DB(ctx)
	if err := db.Create(cc).Error; err != nil {
		return "", fmt.Errorf("failed to save call context %s: %w", cc.ContextID, err)
	}

	s.logger.Infow("saved call context",
		"contextId", cc.ContextID,
		"direction", cc.Direction,
		"caller", utils.MaskPhoneNumber(cc.CallerNumber),
		"callee", utils.MaskPhoneNumber(cc.CalleeNumber),
		"status", cc.Status)

	return cc.ContextID, nil
}

// Get retrieves a call context by contextId regardless of its status.
// Used by event/status callbacks which need the context throughout the call.
// This deliberately reads any status (pending, queued, claimed, completed,
// failed) because upstream telephony providers fire event webhooks
// asynchronously — a "completed" callback can arrive well after the media
// stream ends.
func (s *postgresStore) Get(ctx context.Context, contextID string) (*CallContext, error) {
	db := s.postgres.DB(ctx)
	var cc CallContext
	if err := db.Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("call context not found: %s: %w", contextID, err)
	}

	s.logger.Debugw("resolved call context",
		"contextId", cc.ContextID, "status", cc.Status, "direction", cc.Direction)

	return &cc, nil
}

// Claim atomically transitions a call context from "pending" or "queued" to
// "claimed" using an atomic UPDATE ... WHERE status IN ('pending','queued').
// Only one concurrent caller can win. The context remains in the database so
// event callbacks can still read it. Both "pending" (inbound) and "queued"
// (outbound) are valid pre-claim states.
func (s *postgresStore) Claim(ctx context.Context, contextID string) (*CallContext, error) {
	db := s.postgres.DB(ctx)

	// Atomic update: only succeeds if status is still "pending" or "queued"
	result := db.Model(&CallContext{}).
		Where("context_id = ? AND status IN ?", contextID, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{
			"status":       StatusClaimed,
			"updated_date": time.Now(),
		})

	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim call context %s: %w", contextID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, contextID)
	}

	// Fetch the full row after claiming
	var cc CallContext
	if err := db.Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch claimed call context %s: %w", contextID, err)
	}

	s.logger.Debugw("claimed call context",
		"contextId", cc.ContextID, "direction", cc.Direction, "provider", cc.Provider)

	return &cc, nil
}

// Delete removes a call context from Postgres.
func (s *postgresStore) Delete(ctx context.Context, contextID string) error {
	db := s.postgres.DB(ctx)
	if err := db.Where("context_id = ?", contextID).Delete(&CallContext{}).Error; err != nil {
		return fmt.Errorf("failed to delete call context %s: %w", contextID, err)
	}

	s.logger.Debugw("deleted call context", "contextId", contextID)
	return nil
}

// Complete marks a call context as completed. Called when the call/session ends.
func (s *postgresStore) Complete(ctx context.Context, contextID string) error {
	db := s.postgres.DB(ctx)
	now := time.Now()
	result := db.Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Updates(map[string]interface{}{
			"status":       StatusCompleted,
			"updated_date": now,
			"ended_date":   now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to complete call context %s: %w", contextID, result.Error)
	}

	s.logger.Debugw("completed call context", "contextId", contextID)
	return nil
}

// UpdateField sets a single column on an existing call context row.
func (s *postgresStore) UpdateField(ctx context.Context, contextID, field, value string) error {
	db := s.postgres.DB(ctx)

	// Allowlist of updatable fields to prevent SQL injection
	allowed := map[string]bool{
		"channel_uuid": true,
		"status":       true,
		"provider":     true,
		"outcome":      true,
		"language":     true,
		"transcript":   true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on call context", field)
	}

	result := db.Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Update(field, value)

	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on call context %s: %w", field, contextID, result.Error)
	}

	s.logger.Debugw("updated call context field", "contextId", contextID, "field", field)
	return nil
}

// ListBySubject returns every call context recorded for a subject, oldest first.
func (s *postgresStore) ListBySubject(ctx context.Context, subjectID string) ([]CallContext, error) {
	db := s.postgres.DB(ctx)
	var rows []CallContext
	if err := db.Where("subject_id = ?", subjectID).Order("created_date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list call contexts for subject %s: %w", subjectID, err)
	}
	return rows, nil
}
