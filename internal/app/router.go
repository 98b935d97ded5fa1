package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
)

// forwardableActions are the terminal action-status events the router fans
// out to the notification topic.
var forwardableActions = map[string]bool{
	domain.ActionPrepare:         true,
	domain.ActionCommit:          true,
	domain.ActionReject:          true,
	domain.ActionAbort:           true,
	domain.ActionTimeoutReserved: true,
}

// TransferEventRouter forwards successful transfer-action events from the
// shared transfer topic to the notification topic. It is stateless.
type TransferEventRouter struct {
	gateway bus.Gateway
}

func NewTransferEventRouter(gateway bus.Gateway) *TransferEventRouter {
	return &TransferEventRouter{gateway: gateway}
}

// Handle commits the offset and re-emits the event with the payload bytes
// preserved verbatim; anything but a known successful action is a no-op.
func (r *TransferEventRouter) Handle(ctx context.Context, msg *bus.Message) error {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		log.Printf("level=error component=transfer_router msg=\"failed to unmarshal envelope; dropping\" topic=%s err=%v", msg.Topic, err)
		return msg.Commit()
	}

	event := envelope.Metadata.Event
	if event.State.Status != domain.StatusSuccess || !forwardableActions[event.Action] {
		log.Printf("level=warn component=transfer_router msg=\"event not forwardable; dropping\" id=%s action=%s status=%s", envelope.ID, event.Action, event.State.Status)
		return msg.Commit()
	}

	forward := domain.NewMessage(envelope.ID, envelope.From, envelope.To, envelope.Content.Payload)
	forward.Content.Headers = envelope.Content.Headers
	return dispatch(ctx, r.gateway, msg, notificationEmit(event.Action, forward, event.State))
}
