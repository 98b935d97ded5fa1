package validation

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/interpay/transfer-service/internal/domain"
)

// fingerprintDelimiter separates the canonical fields so that adjacent
// values cannot collide ("ab"+"c" vs "a"+"bc").
const fingerprintDelimiter = byte(0x1f)

// Fingerprint computes the stable duplicate-detection hash of a prepare
// payload: SHA-256 over transferId, payerFsp, payeeFsp, amount.currency,
// amount.amount, ilpPacket, condition and expirationDate, in that order,
// each field followed by a single delimiter byte. The result is
// hex-encoded for storage. The field order and delimiter are part of the
// stored-data contract and must never change.
func Fingerprint(p *domain.TransferPrepare) string {
	h := sha256.New()
	for _, field := range []string{
		p.TransferID,
		p.PayerFsp,
		p.PayeeFsp,
		p.Amount.Currency,
		p.Amount.Amount,
		p.IlpPacket,
		p.Condition,
		p.ExpirationDate,
	} {
		h.Write([]byte(field))
		h.Write([]byte{fingerprintDelimiter})
	}
	return hex.EncodeToString(h.Sum(nil))
}
