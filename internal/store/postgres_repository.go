/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL for duplicate-hash registration, transfer
 * persistence, the append-only state history and the transfer error log.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Transfer state is derived from the latest transfer_state_changes row;
 *   the history itself is never updated or deleted.
 * - Lifecycle transitions run inside an explicit transaction and lock the
 *   transfer row, making the store the serialization point for state.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/validation"
)

var (
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrStateChangeNotFound    = errors.New("transfer state change not found")
	ErrInvalidStateTransition = errors.New("invalid transfer state transition")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ValidateDuplicateHash atomically registers the (transferId, fingerprint)
// pair. The INSERT .. ON CONFLICT DO NOTHING is the single authority on
// whether a transfer id has been seen before; when the insert loses, the
// stored fingerprint decides matching vs not matching.
func (r *PostgresRepository) ValidateDuplicateHash(ctx context.Context, transferID, fingerprint string) (DuplicateCheckResult, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO transfer_duplicate_checks (transfer_id, fingerprint) VALUES ($1, $2)
		 ON CONFLICT (transfer_id) DO NOTHING`,
		transferID, fingerprint,
	)
	if err != nil {
		return DuplicateCheckResult{}, fmt.Errorf("register duplicate hash: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return DuplicateCheckResult{}, nil
	}

	var stored string
	err = r.db.QueryRow(ctx,
		"SELECT fingerprint FROM transfer_duplicate_checks WHERE transfer_id = $1",
		transferID,
	).Scan(&stored)
	if err != nil {
		return DuplicateCheckResult{}, fmt.Errorf("read duplicate hash: %w", err)
	}
	if stored == fingerprint {
		return DuplicateCheckResult{ExistsMatching: true}, nil
	}
	return DuplicateCheckResult{ExistsNotMatching: true}, nil
}

// GetTransferStateChange returns the latest state-history row for a transfer.
func (r *PostgresRepository) GetTransferStateChange(ctx context.Context, transferID string) (*domain.TransferStateChange, error) {
	var change domain.TransferStateChange
	query := `
		SELECT transfer_id, state, reason, is_valid, created_at
		FROM transfer_state_changes
		WHERE transfer_id = $1
		ORDER BY id DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&change.TransferID,
		&change.State,
		&change.Reason,
		&change.IsValid,
		&change.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrStateChangeNotFound
		}
		return nil, err
	}
	return &change, nil
}

// GetByID returns the stored transfer with its current state and, when
// committed, its fulfilment.
func (r *PostgresRepository) GetByID(ctx context.Context, transferID string) (*domain.Transfer, error) {
	var (
		transfer   domain.Transfer
		extensions []byte
	)
	query := `
		SELECT t.transfer_id, t.payer_fsp, t.payee_fsp, t.currency, t.amount,
		       t.ilp_packet, t.condition, t.expiration_date, t.extension_list, t.created_at,
		       sc.state,
		       f.fulfilment, f.completed_at
		FROM transfers t
		JOIN LATERAL (
			SELECT state FROM transfer_state_changes
			WHERE transfer_id = t.transfer_id
			ORDER BY id DESC LIMIT 1
		) sc ON true
		LEFT JOIN transfer_fulfilments f ON f.transfer_id = t.transfer_id
		WHERE t.transfer_id = $1
	`
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&transfer.TransferID,
		&transfer.PayerFsp,
		&transfer.PayeeFsp,
		&transfer.Amount.Currency,
		&transfer.Amount.Amount,
		&transfer.IlpPacket,
		&transfer.Condition,
		&transfer.ExpirationDate,
		&extensions,
		&transfer.CreatedAt,
		&transfer.TransferState,
		&transfer.Fulfilment,
		&transfer.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	if len(extensions) > 0 {
		if err := json.Unmarshal(extensions, &transfer.ExtensionList); err != nil {
			return nil, fmt.Errorf("decode extension list: %w", err)
		}
	}
	return &transfer, nil
}

// Prepare persists a new transfer and its initial state-history row. For an
// invalid prepare the row is kept for audit with is_valid=false plus the
// validation reason. The transfer insert is idempotent so a redelivered
// prepare that raced the duplicate check cannot fail here.
func (r *PostgresRepository) Prepare(ctx context.Context, payload *domain.TransferPrepare, reason string, valid bool) error {
	expiration, err := time.Parse(time.RFC3339, payload.ExpirationDate)
	if err != nil {
		// Invalid prepares are stored for audit; fall back to a zero
		// expiry rather than refusing the row.
		expiration = time.Time{}
	}

	extensions, err := json.Marshal(payload.ExtensionList)
	if err != nil {
		return fmt.Errorf("encode extension list: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO transfers (transfer_id, payer_fsp, payee_fsp, currency, amount,
		                       ilp_packet, condition, expiration_date, extension_list)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transfer_id) DO NOTHING`,
		payload.TransferID, payload.PayerFsp, payload.PayeeFsp,
		payload.Amount.Currency, payload.Amount.Amount,
		payload.IlpPacket, payload.Condition, expiration, extensions,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}

	var reasonParam *string
	if reason != "" {
		reasonParam = &reason
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transfer_state_changes (transfer_id, state, reason, is_valid)
		VALUES ($1, $2, $3, $4)`,
		payload.TransferID, domain.TransferStateReceived, reasonParam, valid,
	)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}

	return tx.Commit(ctx)
}

// Fulfil moves a transfer from RESERVED (or RECEIVED, the state Prepare
// records) to COMMITTED and records the fulfilment, atomically. Any other
// current state fails the transition.
func (r *PostgresRepository) Fulfil(ctx context.Context, transferID, fulfilment string, completedAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	state, err := lockCurrentState(ctx, tx, transferID)
	if err != nil {
		return err
	}
	if state != domain.TransferStateReserved && state != domain.TransferStateReceived {
		return ErrInvalidStateTransition
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO transfer_fulfilments (transfer_id, fulfilment, completed_at) VALUES ($1, $2, $3)",
		transferID, fulfilment, completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fulfilment: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO transfer_state_changes (transfer_id, state, is_valid) VALUES ($1, $2, true)",
		transferID, domain.TransferStateCommitted,
	)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}

	return tx.Commit(ctx)
}

// Reject moves a transfer from RESERVED (or RECEIVED) to ABORTED, recording
// the error information as the state-change reason. Any other current state
// fails the transition.
func (r *PostgresRepository) Reject(ctx context.Context, transferID string, errInfo domain.ErrorInfo) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	state, err := lockCurrentState(ctx, tx, transferID)
	if err != nil {
		return err
	}
	if state != domain.TransferStateReserved && state != domain.TransferStateReceived {
		return ErrInvalidStateTransition
	}

	reason := errInfo.ErrorDescription
	_, err = tx.Exec(ctx,
		"INSERT INTO transfer_state_changes (transfer_id, state, reason, is_valid) VALUES ($1, $2, $3, true)",
		transferID, domain.TransferStateAborted, &reason,
	)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}

	return tx.Commit(ctx)
}

// lockCurrentState reads the current state inside a transaction, locking
// the transfer row so concurrent transitions serialize on the store.
func lockCurrentState(ctx context.Context, tx pgx.Tx, transferID string) (domain.TransferState, error) {
	var state domain.TransferState
	err := tx.QueryRow(ctx, `
		SELECT sc.state
		FROM transfers t
		JOIN LATERAL (
			SELECT state FROM transfer_state_changes
			WHERE transfer_id = t.transfer_id
			ORDER BY id DESC LIMIT 1
		) sc ON true
		WHERE t.transfer_id = $1
		FOR UPDATE OF t`,
		transferID,
	).Scan(&state)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrTransferNotFound
		}
		return "", err
	}
	return state, nil
}

// LogTransferError appends a row to the transfer error log.
func (r *PostgresRepository) LogTransferError(ctx context.Context, transferID string, errorCode int, errorDescription string) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO transfer_errors (transfer_id, error_code, error_description) VALUES ($1, $2, $3)",
		transferID, errorCode, errorDescription,
	)
	return err
}

// GetParticipant retrieves a participant from the database by name.
func (r *PostgresRepository) GetParticipant(ctx context.Context, name string) (*domain.Participant, error) {
	var participant domain.Participant
	query := "SELECT name, is_active, created_at FROM participants WHERE name = $1"
	err := r.db.QueryRow(ctx, query, name).Scan(&participant.Name, &participant.IsActive, &participant.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, validation.ErrParticipantNotFound
		}
		return nil, err
	}
	return &participant, nil
}

// GetParticipants lists the active participants, ordered by name.
func (r *PostgresRepository) GetParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := r.db.Query(ctx,
		"SELECT name, is_active, created_at FROM participants WHERE is_active ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.Name, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// Ping verifies database connectivity for the health endpoint.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
