/**
 * @description
 * This file implements the prepare coordinator: the consumer pipeline bound
 * to every per-participant prepare topic. It runs duplicate resolution,
 * payload validation and store persistence, then settles the message with
 * the commit-then-produce discipline: the offset is committed once the
 * store outcome is known, before the downstream event is produced.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/internal/validation"
)

// PrepareCoordinator drives a transfer through the prepare phase.
type PrepareCoordinator struct {
	repo      store.Repository
	gateway   bus.Gateway
	resolver  *DuplicateResolver
	validator *validation.Validator
}

func NewPrepareCoordinator(repo store.Repository, gateway bus.Gateway, resolver *DuplicateResolver, validator *validation.Validator) *PrepareCoordinator {
	return &PrepareCoordinator{repo: repo, gateway: gateway, resolver: resolver, validator: validator}
}

// Handle processes one prepare message to a terminal outcome.
func (c *PrepareCoordinator) Handle(ctx context.Context, msg *bus.Message) error {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		log.Printf("level=error component=prepare_handler msg=\"failed to unmarshal envelope; dropping\" topic=%s err=%v", msg.Topic, err)
		return msg.Commit()
	}

	var payload domain.TransferPrepare
	if err := json.Unmarshal(envelope.Content.Payload, &payload); err != nil || payload.TransferID == "" {
		log.Printf("level=error component=prepare_handler msg=\"malformed prepare payload; dropping\" topic=%s transfer_id=%q err=%v", msg.Topic, payload.TransferID, err)
		return msg.Commit()
	}

	// The payer's prepare topic is resolved from the envelope sender; a
	// message for a participant this instance never registered is skipped
	// without producing anything. Returning nil without a commit leaves the
	// settlement to the consumer loop, which acknowledges it.
	if !c.gateway.HasConsumer(bus.PrepareTopic(envelope.From)) {
		log.Printf("level=warn component=prepare_handler msg=\"no consumer bound for sender; skipping\" from=%s transfer_id=%s", envelope.From, payload.TransferID)
		return nil
	}

	out, err := c.process(ctx, &envelope, &payload)
	if err != nil {
		return err
	}
	return dispatch(ctx, c.gateway, msg, out)
}

func (c *PrepareCoordinator) process(ctx context.Context, envelope *domain.EventEnvelope, payload *domain.TransferPrepare) (*emit, error) {
	fingerprint := validation.Fingerprint(payload)

	classification, err := c.resolver.Resolve(ctx, payload.TransferID, fingerprint)
	if err != nil {
		log.Printf("level=error component=prepare_handler msg=\"duplicate resolution failed\" transfer_id=%s err=%v", payload.TransferID, err)
		return c.failureEmit(envelope, payload, domain.ErrCodeInternal, ""), nil
	}

	switch classification {
	case DuplicateNew:
		// fall through to validation
	case DuplicateInFlight:
		log.Printf("level=info component=prepare_handler msg=\"duplicate prepare still in flight; dropping\" transfer_id=%s", payload.TransferID)
		return nil, nil
	case DuplicateFinalizedReplay:
		return c.finalizedReplayEmit(ctx, envelope, payload)
	case DuplicateAnomaly:
		log.Printf("level=warn component=prepare_handler msg=\"duplicate hash without state history\" transfer_id=%s", payload.TransferID)
		return c.failureEmit(envelope, payload, domain.ErrCodeValidation, "duplicate transfer id with no transfer record"), nil
	case DuplicateModified:
		log.Printf("level=warn component=prepare_handler msg=\"modified replay detected\" transfer_id=%s", payload.TransferID)
		return c.failureEmit(envelope, payload, domain.ErrCodeModifiedRequest, ""), nil
	}

	result, err := c.validator.ValidateByName(ctx, payload)
	if err != nil {
		log.Printf("level=error component=prepare_handler msg=\"validation lookup failed\" transfer_id=%s err=%v", payload.TransferID, err)
		return c.failureEmit(envelope, payload, domain.ErrCodeInternal, ""), nil
	}

	reasons := strings.Join(result.Reasons, "; ")
	if err := c.repo.Prepare(ctx, payload, reasons, result.Passed); err != nil {
		log.Printf("level=error component=prepare_handler msg=\"store prepare failed\" transfer_id=%s err=%v", payload.TransferID, err)
		return c.failureEmit(envelope, payload, domain.ErrCodeInternal, ""), nil
	}

	if result.Passed {
		forward := domain.NewMessage(envelope.ID, envelope.From, envelope.To, envelope.Content.Payload)
		return positionEmit(payload.PayerFsp, domain.ActionPrepare, forward), nil
	}

	if err := c.repo.LogTransferError(ctx, payload.TransferID, domain.ErrCodeValidation, reasons); err != nil {
		log.Printf("level=error component=prepare_handler msg=\"transfer error log failed\" transfer_id=%s err=%v", payload.TransferID, err)
	}
	return c.failureEmit(envelope, payload, domain.ErrCodeValidation, reasons), nil
}

// finalizedReplayEmit answers a replayed prepare of a finalized transfer
// with the current transfer snapshot.
func (c *PrepareCoordinator) finalizedReplayEmit(ctx context.Context, envelope *domain.EventEnvelope, payload *domain.TransferPrepare) (*emit, error) {
	transfer, err := c.repo.GetByID(ctx, payload.TransferID)
	if err != nil {
		log.Printf("level=error component=prepare_handler msg=\"snapshot read failed for finalized replay\" transfer_id=%s err=%v", payload.TransferID, err)
		return c.failureEmit(envelope, payload, domain.ErrCodeInternal, ""), nil
	}
	snapshot, err := json.Marshal(transfer)
	if err != nil {
		return c.failureEmit(envelope, payload, domain.ErrCodeInternal, ""), nil
	}
	reply := domain.NewMessage(payload.TransferID, domain.SwitchName, envelope.From, snapshot)
	return notificationEmit(domain.ActionPrepareDuplicate, reply, domain.SuccessState()), nil
}

func (c *PrepareCoordinator) failureEmit(envelope *domain.EventEnvelope, payload *domain.TransferPrepare, code int, extra string) *emit {
	state := domain.FailureState(code, extra)
	reply := domain.NewErrorMessage(payload.TransferID, domain.SwitchName, envelope.From, state, payload.ExtensionList)
	return notificationEmit(domain.ActionPrepare, reply, state)
}
