/**
 * @description
 * This file implements the duplicate resolver: the single authority on what
 * a replayed prepare means. It registers the payload fingerprint with the
 * store and classifies the result; coordinators act on the classification
 * and never inspect the underlying booleans again.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
)

// DuplicateClassification is the resolver's verdict on an incoming prepare.
type DuplicateClassification int

const (
	// DuplicateNew: first sighting, proceed to validation.
	DuplicateNew DuplicateClassification = iota
	// DuplicateInFlight: matching replay of a transfer still being
	// processed; silently dropped.
	DuplicateInFlight
	// DuplicateFinalizedReplay: matching replay of a finalized transfer;
	// answered with the current transfer snapshot.
	DuplicateFinalizedReplay
	// DuplicateAnomaly: the hash is registered but no state history
	// exists for the transfer, or its latest state is not a known one.
	DuplicateAnomaly
	// DuplicateModified: same transfer id, different payload.
	DuplicateModified
)

func (c DuplicateClassification) String() string {
	switch c {
	case DuplicateNew:
		return "new"
	case DuplicateInFlight:
		return "in-flight"
	case DuplicateFinalizedReplay:
		return "finalized-replay"
	case DuplicateAnomaly:
		return "anomaly"
	case DuplicateModified:
		return "modified"
	default:
		return "unknown"
	}
}

// DuplicateResolver classifies incoming prepares against the store.
type DuplicateResolver struct {
	repo store.Repository
}

func NewDuplicateResolver(repo store.Repository) *DuplicateResolver {
	return &DuplicateResolver{repo: repo}
}

// Resolve registers the fingerprint and classifies the payload. RECEIVED is
// treated the same as RESERVED: both mean the first delivery is still in
// flight.
func (r *DuplicateResolver) Resolve(ctx context.Context, transferID, fingerprint string) (DuplicateClassification, error) {
	result, err := r.repo.ValidateDuplicateHash(ctx, transferID, fingerprint)
	if err != nil {
		return DuplicateNew, fmt.Errorf("validate duplicate hash: %w", err)
	}

	switch {
	case !result.ExistsMatching && !result.ExistsNotMatching:
		return DuplicateNew, nil
	case result.ExistsNotMatching:
		return DuplicateModified, nil
	}

	change, err := r.repo.GetTransferStateChange(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrStateChangeNotFound) {
			return DuplicateAnomaly, nil
		}
		return DuplicateNew, fmt.Errorf("read transfer state: %w", err)
	}

	switch change.State {
	case domain.TransferStateCommitted, domain.TransferStateAborted:
		return DuplicateFinalizedReplay, nil
	case domain.TransferStateReceived, domain.TransferStateReserved:
		return DuplicateInFlight, nil
	default:
		return DuplicateAnomaly, nil
	}
}
