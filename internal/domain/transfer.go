/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the transfer entities exchanged on the bus and
 * persisted by the store, plus the lifecycle state enumeration.
 *
 * @notes
 * - Amounts are carried as decimal strings exactly as received on the wire.
 *   The core performs no arithmetic on them, so re-encoding through a
 *   numeric type would only risk changing the representation.
 * - `condition` and `fulfilment` are base64url-encoded 32-byte values on
 *   the wire and are stored in that form.
 */

package domain

import "time"

// TransferState enumerates the lifecycle states of a transfer.
type TransferState string

const (
	TransferStateReceived  TransferState = "RECEIVED"
	TransferStateReserved  TransferState = "RESERVED"
	TransferStateCommitted TransferState = "COMMITTED"
	TransferStateAborted   TransferState = "ABORTED"
)

// IsTerminal reports whether the state can never be left again.
func (s TransferState) IsTerminal() bool {
	return s == TransferStateCommitted || s == TransferStateAborted
}

// Amount is a currency code plus a decimal value kept in wire form.
type Amount struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Extension is one key/value pair of an extension list.
type Extension struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TransferPrepare is the payload of a prepare message as it arrives on the
// per-participant prepare topic.
type TransferPrepare struct {
	TransferID     string      `json:"transferId"`
	PayerFsp       string      `json:"payerFsp"`
	PayeeFsp       string      `json:"payeeFsp"`
	Amount         Amount      `json:"amount"`
	IlpPacket      string      `json:"ilpPacket"`
	Condition      string      `json:"condition"`
	ExpirationDate string      `json:"expirationDate"`
	ExtensionList  []Extension `json:"extensionList,omitempty"`
}

// TransferFulfil is the payload of a fulfil (commit/reject) message.
type TransferFulfil struct {
	Fulfilment         string      `json:"fulfilment,omitempty"`
	CompletedTimestamp string      `json:"completedTimestamp,omitempty"`
	ErrorInformation   *ErrorInfo  `json:"errorInformation,omitempty"`
	ExtensionList      []Extension `json:"extensionList,omitempty"`
}

// Transfer is the stored view of a transfer, including its current state.
type Transfer struct {
	TransferID     string        `json:"transferId"`
	PayerFsp       string        `json:"payerFsp"`
	PayeeFsp       string        `json:"payeeFsp"`
	Amount         Amount        `json:"amount"`
	IlpPacket      string        `json:"ilpPacket"`
	Condition      string        `json:"condition"`
	ExpirationDate time.Time     `json:"expirationDate"`
	ExtensionList  []Extension   `json:"extensionList,omitempty"`
	TransferState  TransferState `json:"transferState"`
	Fulfilment     *string       `json:"fulfilment,omitempty"`
	CompletedAt    *time.Time    `json:"completedTimestamp,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// TransferStateChange is one row of the append-only state history.
type TransferStateChange struct {
	TransferID string
	State      TransferState
	Reason     *string
	IsValid    bool
	CreatedAt  time.Time
}

// TransferError is one row of the append-only transfer error log.
type TransferError struct {
	TransferID       string
	ErrorCode        int
	ErrorDescription string
	CreatedAt        time.Time
}

// Participant is a financial service provider known to the switch.
type Participant struct {
	Name      string
	IsActive  bool
	CreatedAt time.Time
}
