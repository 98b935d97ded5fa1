package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
)

// repoStub embeds the Repository interface so tests only implement what a
// pipeline actually touches; anything else panics the test.
type repoStub struct {
	store.Repository

	dupResult store.DuplicateCheckResult
	dupErr    error

	stateChange *domain.TransferStateChange
	stateErr    error

	transfer *domain.Transfer
	getErr   error

	prepareCalled  bool
	preparedValid  bool
	preparedReason string
	prepareErr     error

	fulfilCalled bool
	fulfilErr    error

	rejectCalled bool
	rejectErr    error

	loggedErrors []domain.TransferError

	participants    []domain.Participant
	participantsErr error
}

func (s *repoStub) ValidateDuplicateHash(ctx context.Context, transferID, fingerprint string) (store.DuplicateCheckResult, error) {
	return s.dupResult, s.dupErr
}

func (s *repoStub) GetTransferStateChange(ctx context.Context, transferID string) (*domain.TransferStateChange, error) {
	if s.stateErr != nil {
		return nil, s.stateErr
	}
	if s.stateChange == nil {
		return nil, store.ErrStateChangeNotFound
	}
	return s.stateChange, nil
}

func (s *repoStub) GetByID(ctx context.Context, transferID string) (*domain.Transfer, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.transfer == nil {
		return nil, store.ErrTransferNotFound
	}
	return s.transfer, nil
}

func (s *repoStub) Prepare(ctx context.Context, payload *domain.TransferPrepare, reason string, valid bool) error {
	s.prepareCalled = true
	s.preparedReason = reason
	s.preparedValid = valid
	return s.prepareErr
}

func (s *repoStub) Fulfil(ctx context.Context, transferID, fulfilment string, completedAt time.Time) error {
	s.fulfilCalled = true
	return s.fulfilErr
}

func (s *repoStub) Reject(ctx context.Context, transferID string, errInfo domain.ErrorInfo) error {
	s.rejectCalled = true
	return s.rejectErr
}

func (s *repoStub) LogTransferError(ctx context.Context, transferID string, errorCode int, errorDescription string) error {
	s.loggedErrors = append(s.loggedErrors, domain.TransferError{
		TransferID:       transferID,
		ErrorCode:        errorCode,
		ErrorDescription: errorDescription,
	})
	return nil
}

func (s *repoStub) GetParticipant(ctx context.Context, name string) (*domain.Participant, error) {
	return &domain.Participant{Name: name, IsActive: true}, nil
}

func (s *repoStub) GetParticipants(ctx context.Context) ([]domain.Participant, error) {
	return s.participants, s.participantsErr
}

// produced records one gateway produce call with its resolved topic.
type produced struct {
	topic    string
	action   string
	envelope *domain.EventEnvelope
	state    domain.EventState
}

// gatewayStub records produces and, through the shared order log, lets
// tests assert the commit-then-produce discipline.
type gatewayStub struct {
	produces   []produced
	produceErr error
	handlers   map[string]bus.Handler
	createErr  error
	order      []string
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{handlers: make(map[string]bus.Handler)}
}

func (g *gatewayStub) CreateHandler(topic string, opts bus.ConsumerOptions, handler bus.Handler) error {
	if g.createErr != nil {
		return g.createErr
	}
	g.handlers[topic] = handler
	return nil
}

func (g *gatewayStub) HasConsumer(topic string) bool {
	if len(g.handlers) == 0 {
		return true // handler under test is implicitly bound
	}
	_, ok := g.handlers[topic]
	return ok
}

func (g *gatewayStub) IsAutoCommit(topic string) bool { return false }

func (g *gatewayStub) ProduceGeneralMessage(ctx context.Context, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error {
	if g.produceErr != nil {
		return g.produceErr
	}
	g.order = append(g.order, "produce")
	g.produces = append(g.produces, produced{topic: bus.GeneralTopic(functionality), action: action, envelope: envelope, state: state})
	return nil
}

func (g *gatewayStub) ProduceParticipantMessage(ctx context.Context, participant, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error {
	if g.produceErr != nil {
		return g.produceErr
	}
	g.order = append(g.order, "produce")
	g.produces = append(g.produces, produced{topic: bus.ParticipantTopic(participant, functionality, action), action: action, envelope: envelope, state: state})
	return nil
}

// newTestMessage builds an uncommitted manual-commit message whose commit
// is recorded in the gateway's order log.
func newTestMessage(t *testing.T, g *gatewayStub, topic string, envelope *domain.EventEnvelope) *bus.Message {
	t.Helper()
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return bus.NewMessage(topic, body, false, func() error {
		g.order = append(g.order, "commit")
		return nil
	})
}

func commitCount(g *gatewayStub) int {
	n := 0
	for _, step := range g.order {
		if step == "commit" {
			n++
		}
	}
	return n
}

func assertCommittedBeforeProduce(t *testing.T, g *gatewayStub) {
	t.Helper()
	if commitCount(g) == 0 {
		t.Fatal("offset was never committed")
	}
	seenCommit := false
	for _, step := range g.order {
		if step == "commit" {
			seenCommit = true
		}
		if step == "produce" && !seenCommit {
			t.Fatal("produced downstream before committing the offset")
		}
	}
}

func singleProduce(t *testing.T, g *gatewayStub) produced {
	t.Helper()
	if len(g.produces) != 1 {
		t.Fatalf("expected exactly one produce, got %d", len(g.produces))
	}
	return g.produces[0]
}

func errorInfoOf(t *testing.T, envelope *domain.EventEnvelope) domain.ErrorInfo {
	t.Helper()
	var payload domain.ErrorPayload
	if err := json.Unmarshal(envelope.Content.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload.ErrorInformation
}

func prepareEnvelope(payload *domain.TransferPrepare) *domain.EventEnvelope {
	raw, _ := json.Marshal(payload)
	env := domain.NewMessage(payload.TransferID, payload.PayerFsp, payload.PayeeFsp, raw)
	env.Metadata.Event = domain.Event{Type: domain.EventTypeTransfer, Action: domain.ActionPrepare, State: domain.SuccessState()}
	return env
}

func samplePrepare() *domain.TransferPrepare {
	return &domain.TransferPrepare{
		TransferID:     "t1",
		PayerFsp:       "dfspA",
		PayeeFsp:       "dfspB",
		Amount:         domain.Amount{Currency: "USD", Amount: "100.00"},
		IlpPacket:      "AQAAAAAAAADIEHByaXZhdGUucGF5ZWVmc3A",
		Condition:      "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU",
		ExpirationDate: "2099-01-01T00:00:00Z",
	}
}
