/**
 * @description
 * This file implements the handler registrar. It binds the prepare
 * coordinator to one topic per participant, and the fulfil coordinator and
 * transfer-event router to their shared topics. Registration failures
 * propagate; partial registration is left to the operator to recover.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
)

// ConsumerOptionsFunc resolves the consumer settings for a transfer action,
// sourced from configuration by (CONSUMER, TRANSFER, <ACTION>).
type ConsumerOptionsFunc func(action string) bus.ConsumerOptions

// Registrar wires the coordinators onto their topics.
type Registrar struct {
	repo    store.Repository
	gateway bus.Gateway
	options ConsumerOptionsFunc

	prepare *PrepareCoordinator
	fulfil  *FulfilCoordinator
	router  *TransferEventRouter
}

func NewRegistrar(repo store.Repository, gateway bus.Gateway, options ConsumerOptionsFunc, prepare *PrepareCoordinator, fulfil *FulfilCoordinator, router *TransferEventRouter) *Registrar {
	return &Registrar{repo: repo, gateway: gateway, options: options, prepare: prepare, fulfil: fulfil, router: router}
}

// RegisterAllHandlers registers prepare, fulfil and transfer handlers, in
// that order.
func (r *Registrar) RegisterAllHandlers(ctx context.Context) error {
	if _, err := r.RegisterPrepareHandlers(ctx); err != nil {
		return err
	}
	if err := r.RegisterFulfilHandler(); err != nil {
		return err
	}
	return r.RegisterTransferHandler()
}

// RegisterPrepareHandlers binds the prepare coordinator to the prepare
// topic of each named participant. With no names given, the active
// participant set is read from the store. An empty set is not an error;
// the returned count is zero and no handlers are bound.
func (r *Registrar) RegisterPrepareHandlers(ctx context.Context, participants ...string) (int, error) {
	names := participants
	if len(names) == 0 {
		stored, err := r.repo.GetParticipants(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch participants: %w", err)
		}
		for _, p := range stored {
			names = append(names, p.Name)
		}
	}

	if len(names) == 0 {
		log.Println("level=warn component=registrar msg=\"no participants found; no prepare handlers registered\"")
		return 0, nil
	}

	registered := 0
	for _, name := range names {
		topic := bus.PrepareTopic(name)
		if err := r.gateway.CreateHandler(topic, r.options(domain.ActionPrepare), r.prepare); err != nil {
			return registered, fmt.Errorf("register prepare handler for %s: %w", name, err)
		}
		registered++
		log.Printf("level=info component=registrar msg=\"prepare handler registered\" topic=%s", topic)
	}
	return registered, nil
}

// RegisterFulfilHandler binds the fulfil coordinator to the shared fulfil
// topic.
func (r *Registrar) RegisterFulfilHandler() error {
	topic := bus.GeneralTopic(bus.FunctionalityFulfil)
	if err := r.gateway.CreateHandler(topic, r.options(domain.ActionCommit), r.fulfil); err != nil {
		return fmt.Errorf("register fulfil handler: %w", err)
	}
	log.Printf("level=info component=registrar msg=\"fulfil handler registered\" topic=%s", topic)
	return nil
}

// RegisterTransferHandler binds the transfer-event router to the shared
// transfer topic.
func (r *Registrar) RegisterTransferHandler() error {
	topic := bus.GeneralTopic(bus.FunctionalityTransfer)
	if err := r.gateway.CreateHandler(topic, r.options(domain.ActionTransfer), r.router); err != nil {
		return fmt.Errorf("register transfer handler: %w", err)
	}
	log.Printf("level=info component=registrar msg=\"transfer handler registered\" topic=%s", topic)
	return nil
}
