/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the transfer-service needs. The interface decouples the
 * coordinators from the PostgreSQL implementation and is what the handler
 * tests stub out.
 */

package store

import (
	"context"
	"time"

	"github.com/interpay/transfer-service/internal/domain"
)

// DuplicateCheckResult is the outcome of the atomic insert-if-absent of a
// (transferId, fingerprint) pair. Both fields false means the pair is new.
type DuplicateCheckResult struct {
	ExistsMatching    bool
	ExistsNotMatching bool
}

// Repository defines the set of methods for interacting with the database.
// Every operation is transactional from the caller's perspective: partial
// failures surface as a single error.
type Repository interface {
	// Duplicate detection
	ValidateDuplicateHash(ctx context.Context, transferID, fingerprint string) (DuplicateCheckResult, error)

	// Transfer state
	GetTransferStateChange(ctx context.Context, transferID string) (*domain.TransferStateChange, error)
	GetByID(ctx context.Context, transferID string) (*domain.Transfer, error)

	// Lifecycle transitions
	Prepare(ctx context.Context, payload *domain.TransferPrepare, reason string, valid bool) error
	Fulfil(ctx context.Context, transferID, fulfilment string, completedAt time.Time) error
	Reject(ctx context.Context, transferID string, errInfo domain.ErrorInfo) error

	// Audit
	LogTransferError(ctx context.Context, transferID string, errorCode int, errorDescription string) error

	// Participants
	GetParticipant(ctx context.Context, name string) (*domain.Participant, error)
	GetParticipants(ctx context.Context) ([]domain.Participant, error)

	// Health
	Ping(ctx context.Context) error
}
