/**
 * @description
 * This file implements the prepare-payload validator. It performs the
 * schema and business-rule checks that gate a new transfer: participants
 * exist and are active, the currency is supported, the amount is a
 * well-formed positive decimal, the expiration date lies in the future and
 * the condition and ILP packet decode. Failures are reported as
 * human-readable reasons and drive the error pipeline; they are never
 * fatal to the caller.
 */

package validation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/interpay/transfer-service/internal/domain"
)

// amount format bounds, matching the switch wire contract.
const (
	maxAmountIntegerDigits  = 18
	maxAmountFractionDigits = 4
)

// ParticipantGetter is the slice of the store the validator needs.
type ParticipantGetter interface {
	GetParticipant(ctx context.Context, name string) (*domain.Participant, error)
}

// ErrParticipantNotFound is returned by ParticipantGetter implementations
// when no participant with the given name exists.
var ErrParticipantNotFound = errors.New("participant not found")

// Result is the outcome of ValidateByName. Reasons is empty iff Passed.
type Result struct {
	Passed  bool
	Reasons []string
}

// Validator runs the prepare validation pipeline.
type Validator struct {
	participants ParticipantGetter
	currencies   map[string]struct{}
	now          func() time.Time
}

// NewValidator builds a validator over the given participant source and
// supported-currency allow list.
func NewValidator(participants ParticipantGetter, currencies []string) *Validator {
	set := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &Validator{participants: participants, currencies: set, now: time.Now}
}

// ValidateByName runs every check and reports all failures, not just the
// first. A store error looking up a participant is returned as an error so
// the caller can route it through the internal-error path instead of
// rejecting the transfer.
func (v *Validator) ValidateByName(ctx context.Context, p *domain.TransferPrepare) (Result, error) {
	var reasons []string

	for _, role := range []struct{ label, name string }{
		{"payer", p.PayerFsp},
		{"payee", p.PayeeFsp},
	} {
		if strings.TrimSpace(role.name) == "" {
			reasons = append(reasons, fmt.Sprintf("%s fsp is required", role.label))
			continue
		}
		participant, err := v.participants.GetParticipant(ctx, role.name)
		if err != nil {
			if errors.Is(err, ErrParticipantNotFound) {
				reasons = append(reasons, fmt.Sprintf("%s fsp %s does not exist", role.label, role.name))
				continue
			}
			return Result{}, fmt.Errorf("lookup %s fsp: %w", role.label, err)
		}
		if !participant.IsActive {
			reasons = append(reasons, fmt.Sprintf("%s fsp %s is not active", role.label, role.name))
		}
	}

	if _, ok := v.currencies[strings.ToUpper(p.Amount.Currency)]; !ok {
		reasons = append(reasons, fmt.Sprintf("currency %s is not supported", p.Amount.Currency))
	}
	if reason := validateAmount(p.Amount.Amount); reason != "" {
		reasons = append(reasons, reason)
	}

	if expiry, err := time.Parse(time.RFC3339, p.ExpirationDate); err != nil {
		reasons = append(reasons, fmt.Sprintf("expirationDate %q is not a valid timestamp", p.ExpirationDate))
	} else if !expiry.After(v.now()) {
		reasons = append(reasons, "expirationDate must be in the future")
	}

	if decoded, err := decodeBase64URL(p.Condition); err != nil || len(decoded) != conditionLength {
		reasons = append(reasons, "condition is not a base64url-encoded 32-byte value")
	}

	if strings.TrimSpace(p.IlpPacket) == "" {
		reasons = append(reasons, "ilpPacket is required")
	} else if !decodesAsBase64(p.IlpPacket) {
		reasons = append(reasons, "ilpPacket is not valid base64")
	}

	return Result{Passed: len(reasons) == 0, Reasons: reasons}, nil
}

// validateAmount checks the decimal string form: positive, no sign, at most
// 18 integer and 4 fraction digits. Returns "" when valid.
func validateAmount(amount string) string {
	if amount == "" {
		return "amount is required"
	}
	intPart, fracPart, hasFrac := strings.Cut(amount, ".")
	if intPart == "" || !isDigits(intPart) {
		return fmt.Sprintf("amount %q is not a valid decimal", amount)
	}
	if hasFrac && (fracPart == "" || !isDigits(fracPart)) {
		return fmt.Sprintf("amount %q is not a valid decimal", amount)
	}
	if len(intPart) > maxAmountIntegerDigits {
		return fmt.Sprintf("amount %q exceeds %d integer digits", amount, maxAmountIntegerDigits)
	}
	if len(fracPart) > maxAmountFractionDigits {
		return fmt.Sprintf("amount %q exceeds %d decimal places", amount, maxAmountFractionDigits)
	}
	if strings.Trim(intPart+fracPart, "0") == "" {
		return "amount must be greater than zero"
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func decodesAsBase64(s string) bool {
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := decodeBase64URL(s)
	return err == nil
}
