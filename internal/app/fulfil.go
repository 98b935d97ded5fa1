/**
 * @description
 * This file implements the fulfil coordinator: the consumer pipeline on the
 * shared fulfil topic, handling commit and reject messages against
 * reserved transfers. Checks run in a fixed order: fulfilment cryptography
 * before state, state before expiry, so a forged fulfilment on an expired
 * transfer still reports a modified request rather than leaking its state.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/internal/validation"
)

// FulfilCoordinator drives a transfer through the commit/reject phase.
type FulfilCoordinator struct {
	repo    store.Repository
	gateway bus.Gateway
	now     func() time.Time
}

func NewFulfilCoordinator(repo store.Repository, gateway bus.Gateway) *FulfilCoordinator {
	return &FulfilCoordinator{repo: repo, gateway: gateway, now: time.Now}
}

// Handle processes one fulfil message to a terminal outcome.
func (c *FulfilCoordinator) Handle(ctx context.Context, msg *bus.Message) error {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		log.Printf("level=error component=fulfil_handler msg=\"failed to unmarshal envelope; dropping\" topic=%s err=%v", msg.Topic, err)
		return msg.Commit()
	}

	out := c.process(ctx, &envelope)
	return dispatch(ctx, c.gateway, msg, out)
}

func (c *FulfilCoordinator) process(ctx context.Context, envelope *domain.EventEnvelope) *emit {
	event := envelope.Metadata.Event
	transferID := envelope.ID

	if event.Type != domain.EventTypeFulfil || (event.Action != domain.ActionCommit && event.Action != domain.ActionReject) {
		log.Printf("level=warn component=fulfil_handler msg=\"unexpected event\" transfer_id=%s type=%s action=%s", transferID, event.Type, event.Action)
		return c.failureEmit(envelope, nil, domain.ErrCodeInternal, "")
	}

	var payload domain.TransferFulfil
	if err := json.Unmarshal(envelope.Content.Payload, &payload); err != nil {
		log.Printf("level=error component=fulfil_handler msg=\"malformed fulfil payload\" transfer_id=%s err=%v", transferID, err)
		return c.failureEmit(envelope, nil, domain.ErrCodeInternal, "")
	}

	existing, err := c.repo.GetByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			log.Printf("level=warn component=fulfil_handler msg=\"fulfil for unknown transfer\" transfer_id=%s", transferID)
		} else {
			log.Printf("level=error component=fulfil_handler msg=\"transfer lookup failed\" transfer_id=%s err=%v", transferID, err)
		}
		return c.failureEmit(envelope, &payload, domain.ErrCodeInternal, "")
	}

	// A reject carries no preimage; the cryptographic check applies to
	// commits and to any message that does present a fulfilment.
	if event.Action == domain.ActionCommit || payload.Fulfilment != "" {
		if !validation.VerifyFulfilment(payload.Fulfilment, existing.Condition) {
			log.Printf("level=warn component=fulfil_handler msg=\"fulfilment does not match condition\" transfer_id=%s", transferID)
			return c.failureEmit(envelope, &payload, domain.ErrCodeModifiedRequest, "")
		}
	}

	if existing.TransferState != domain.TransferStateReserved && existing.TransferState != domain.TransferStateReceived {
		log.Printf("level=warn component=fulfil_handler msg=\"transfer not reserved\" transfer_id=%s state=%s", transferID, existing.TransferState)
		return c.failureEmit(envelope, &payload, domain.ErrCodeInternal, "")
	}

	if !existing.ExpirationDate.After(c.now()) {
		log.Printf("level=warn component=fulfil_handler msg=\"late fulfilment for expired transfer\" transfer_id=%s expired_at=%s", transferID, existing.ExpirationDate.Format(time.RFC3339))
		return c.failureEmit(envelope, &payload, domain.ErrCodeTransferExpired, "")
	}

	if event.Action == domain.ActionCommit {
		completedAt := c.now()
		if ts, tsErr := time.Parse(time.RFC3339, payload.CompletedTimestamp); tsErr == nil {
			completedAt = ts
		}
		if err := c.repo.Fulfil(ctx, transferID, payload.Fulfilment, completedAt); err != nil {
			log.Printf("level=error component=fulfil_handler msg=\"store fulfil failed\" transfer_id=%s err=%v", transferID, err)
			return c.failureEmit(envelope, &payload, domain.ErrCodeInternal, "")
		}
		forward := domain.NewMessage(envelope.ID, envelope.From, envelope.To, envelope.Content.Payload)
		return positionEmit(existing.PayeeFsp, domain.ActionCommit, forward)
	}

	errInfo := domain.ErrorInfo{
		ErrorCode:        domain.ErrCodeValidation,
		ErrorDescription: domain.ErrDescriptions[domain.ErrCodeValidation],
	}
	if payload.ErrorInformation != nil {
		errInfo = *payload.ErrorInformation
	}
	if err := c.repo.Reject(ctx, transferID, errInfo); err != nil {
		log.Printf("level=error component=fulfil_handler msg=\"store reject failed\" transfer_id=%s err=%v", transferID, err)
		return c.failureEmit(envelope, &payload, domain.ErrCodeInternal, "")
	}
	forward := domain.NewMessage(envelope.ID, envelope.From, envelope.To, envelope.Content.Payload)
	return positionEmit(existing.PayerFsp, domain.ActionReject, forward)
}

func (c *FulfilCoordinator) failureEmit(envelope *domain.EventEnvelope, payload *domain.TransferFulfil, code int, extra string) *emit {
	state := domain.FailureState(code, extra)
	var extensions []domain.Extension
	if payload != nil {
		extensions = payload.ExtensionList
	}
	reply := domain.NewErrorMessage(envelope.ID, domain.SwitchName, envelope.From, state, extensions)
	return notificationEmit(domain.ActionCommit, reply, state)
}
