package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/internal/validation"
)

func newPrepareCoordinator(repo *repoStub, gateway *gatewayStub) *PrepareCoordinator {
	validator := validation.NewValidator(repo, []string{"USD"})
	return NewPrepareCoordinator(repo, gateway, NewDuplicateResolver(repo), validator)
}

func TestPrepareHappyPath(t *testing.T) {
	repo := &repoStub{}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	payload := samplePrepare()
	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(payload))

	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !repo.prepareCalled || !repo.preparedValid {
		t.Fatalf("expected a valid store prepare, called=%t valid=%t", repo.prepareCalled, repo.preparedValid)
	}
	assertCommittedBeforeProduce(t, gateway)

	out := singleProduce(t, gateway)
	if out.topic != "topic-dfspA-position-prepare" {
		t.Fatalf("expected payer position topic, got %s", out.topic)
	}
	if out.state.Status != domain.StatusSuccess {
		t.Fatalf("expected success state, got %+v", out.state)
	}

	var forwarded domain.TransferPrepare
	if err := json.Unmarshal(out.envelope.Content.Payload, &forwarded); err != nil {
		t.Fatalf("decode forwarded payload: %v", err)
	}
	if forwarded.TransferID != "t1" || forwarded.Amount.Amount != "100.00" {
		t.Fatalf("payload not preserved: %+v", forwarded)
	}
}

func TestPrepareReplayOfFinalizedTransfer(t *testing.T) {
	fulfilment := "preimage"
	repo := &repoStub{
		dupResult:   store.DuplicateCheckResult{ExistsMatching: true},
		stateChange: &domain.TransferStateChange{TransferID: "t1", State: domain.TransferStateCommitted},
		transfer: &domain.Transfer{
			TransferID:    "t1",
			PayerFsp:      "dfspA",
			PayeeFsp:      "dfspB",
			Amount:        domain.Amount{Currency: "USD", Amount: "100.00"},
			TransferState: domain.TransferStateCommitted,
			Fulfilment:    &fulfilment,
		},
	}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.prepareCalled {
		t.Fatal("replay must not create a new store row")
	}
	assertCommittedBeforeProduce(t, gateway)

	out := singleProduce(t, gateway)
	if out.topic != "topic-transfer-notification" || out.action != domain.ActionPrepareDuplicate {
		t.Fatalf("expected prepare-duplicate notification, got topic=%s action=%s", out.topic, out.action)
	}
	if out.state.Status != domain.StatusSuccess {
		t.Fatalf("expected success state, got %+v", out.state)
	}

	var snapshot domain.Transfer
	if err := json.Unmarshal(out.envelope.Content.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.TransferState != domain.TransferStateCommitted {
		t.Fatalf("expected current snapshot, got state %s", snapshot.TransferState)
	}
}

func TestPrepareModifiedReplay(t *testing.T) {
	repo := &repoStub{dupResult: store.DuplicateCheckResult{ExistsNotMatching: true}}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	payload := samplePrepare()
	payload.Amount.Amount = "100.01"
	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(payload))

	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.prepareCalled {
		t.Fatal("modified replay must not reach the store")
	}
	assertCommittedBeforeProduce(t, gateway)

	out := singleProduce(t, gateway)
	if out.topic != "topic-transfer-notification" {
		t.Fatalf("expected notification topic, got %s", out.topic)
	}
	if info := errorInfoOf(t, out.envelope); info.ErrorCode != domain.ErrCodeModifiedRequest {
		t.Fatalf("expected 3106, got %d", info.ErrorCode)
	}
}

func TestPrepareInFlightDuplicateIsSilent(t *testing.T) {
	for _, state := range []domain.TransferState{domain.TransferStateReceived, domain.TransferStateReserved} {
		repo := &repoStub{
			dupResult:   store.DuplicateCheckResult{ExistsMatching: true},
			stateChange: &domain.TransferStateChange{TransferID: "t1", State: state},
		}
		gateway := newGatewayStub()
		coordinator := newPrepareCoordinator(repo, gateway)

		msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
		if err := coordinator.Handle(context.Background(), msg); err != nil {
			t.Fatalf("state %s: unexpected error: %v", state, err)
		}
		if len(gateway.produces) != 0 {
			t.Fatalf("state %s: in-flight duplicate must not produce", state)
		}
		if commitCount(gateway) != 1 {
			t.Fatalf("state %s: expected offset committed exactly once", state)
		}
	}
}

func TestPrepareDuplicateHashAnomaly(t *testing.T) {
	repo := &repoStub{dupResult: store.DuplicateCheckResult{ExistsMatching: true}}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := singleProduce(t, gateway)
	if info := errorInfoOf(t, out.envelope); info.ErrorCode != domain.ErrCodeValidation {
		t.Fatalf("expected 3100, got %d", info.ErrorCode)
	}
}

func TestPrepareValidationFailure(t *testing.T) {
	repo := &repoStub{}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	payload := samplePrepare()
	payload.Amount.Currency = "ZZZ"
	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(payload))

	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Invalid prepares are still persisted, flagged invalid, for audit.
	if !repo.prepareCalled || repo.preparedValid {
		t.Fatalf("expected invalid store prepare, called=%t valid=%t", repo.prepareCalled, repo.preparedValid)
	}
	if !strings.Contains(repo.preparedReason, "not supported") {
		t.Fatalf("expected validation reason on the stored row, got %q", repo.preparedReason)
	}

	if len(repo.loggedErrors) != 1 || repo.loggedErrors[0].ErrorCode != domain.ErrCodeValidation {
		t.Fatalf("expected one 3100 transfer error log, got %+v", repo.loggedErrors)
	}

	out := singleProduce(t, gateway)
	info := errorInfoOf(t, out.envelope)
	if info.ErrorCode != domain.ErrCodeValidation {
		t.Fatalf("expected 3100, got %d", info.ErrorCode)
	}
	if !strings.Contains(info.ErrorDescription, "not supported") {
		t.Fatalf("expected reasons in the description, got %q", info.ErrorDescription)
	}
}

func TestPrepareStoreFailure(t *testing.T) {
	repo := &repoStub{prepareErr: errors.New("connection reset")}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertCommittedBeforeProduce(t, gateway)
	out := singleProduce(t, gateway)
	if info := errorInfoOf(t, out.envelope); info.ErrorCode != domain.ErrCodeInternal {
		t.Fatalf("expected 2001, got %d", info.ErrorCode)
	}
}

func TestPrepareResolverStoreFailure(t *testing.T) {
	repo := &repoStub{dupErr: errors.New("deadlock detected")}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := singleProduce(t, gateway)
	if info := errorInfoOf(t, out.envelope); info.ErrorCode != domain.ErrCodeInternal {
		t.Fatalf("expected 2001, got %d", info.ErrorCode)
	}
}

func TestPrepareExtensionListCopiedIntoError(t *testing.T) {
	repo := &repoStub{dupResult: store.DuplicateCheckResult{ExistsNotMatching: true}}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	payload := samplePrepare()
	payload.ExtensionList = []domain.Extension{{Key: "origin", Value: "mobile"}}
	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(payload))

	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := errorInfoOf(t, singleProduce(t, gateway).envelope)
	if len(info.ExtensionList) != 1 || info.ExtensionList[0].Key != "origin" {
		t.Fatalf("extension list not copied verbatim: %+v", info.ExtensionList)
	}
}

func TestPrepareMalformedEnvelopeIsDropped(t *testing.T) {
	repo := &repoStub{}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	committed := false
	msg := bus.NewMessage(bus.PrepareTopic("dfspA"), []byte("{not json"), false, func() error {
		committed = true
		return nil
	})

	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !committed {
		t.Fatal("poison message must be committed so it is not redelivered forever")
	}
	if len(gateway.produces) != 0 {
		t.Fatal("poison message must not produce")
	}
}

func TestPrepareRedeliveryAfterFinalizeIsIdempotent(t *testing.T) {
	// First delivery processed normally; redelivery after the transfer
	// finalized answers with a snapshot and writes nothing.
	repo := &repoStub{}
	gateway := newGatewayStub()
	coordinator := newPrepareCoordinator(repo, gateway)

	msg := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	now := time.Now()
	repo.dupResult = store.DuplicateCheckResult{ExistsMatching: true}
	repo.stateChange = &domain.TransferStateChange{TransferID: "t1", State: domain.TransferStateCommitted}
	repo.transfer = &domain.Transfer{TransferID: "t1", TransferState: domain.TransferStateCommitted, CreatedAt: now}
	repo.prepareCalled = false

	redelivery := newTestMessage(t, gateway, bus.PrepareTopic("dfspA"), prepareEnvelope(samplePrepare()))
	if err := coordinator.Handle(context.Background(), redelivery); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if repo.prepareCalled {
		t.Fatal("redelivery must not write a second store row")
	}
	if len(gateway.produces) != 2 {
		t.Fatalf("expected the position produce plus one duplicate notification, got %d", len(gateway.produces))
	}
	if gateway.produces[1].action != domain.ActionPrepareDuplicate {
		t.Fatalf("expected prepare-duplicate on redelivery, got %s", gateway.produces[1].action)
	}
}
