package app

import (
	"context"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
)

// emit describes the single downstream produce a pipeline decided on. A nil
// emit means the message terminates with no downstream event.
type emit struct {
	participant   string // non-empty routes to a per-participant topic
	functionality string
	action        string
	envelope      *domain.EventEnvelope
	state         domain.EventState
}

func notificationEmit(action string, envelope *domain.EventEnvelope, state domain.EventState) *emit {
	return &emit{
		functionality: bus.FunctionalityNotification,
		action:        action,
		envelope:      envelope,
		state:         state,
	}
}

func positionEmit(participant, action string, envelope *domain.EventEnvelope) *emit {
	return &emit{
		participant:   participant,
		functionality: bus.FunctionalityPosition,
		action:        action,
		envelope:      envelope,
		state:         domain.SuccessState(),
	}
}

// dispatch settles a message: the offset is committed first, then the
// downstream event is produced. Produce failures propagate after the
// commit, so at worst the downstream event is re-emitted by operator
// replay, never the whole pipeline re-run.
func dispatch(ctx context.Context, gateway bus.Gateway, msg *bus.Message, e *emit) error {
	if err := msg.Commit(); err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if e.participant != "" {
		return gateway.ProduceParticipantMessage(ctx, e.participant, e.functionality, e.action, e.envelope, e.state)
	}
	return gateway.ProduceGeneralMessage(ctx, e.functionality, e.action, e.envelope, e.state)
}
