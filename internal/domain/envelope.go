/**
 * @description
 * This file defines the on-bus message envelope shared by every topic the
 * service consumes or produces, together with the stable error-code table
 * of the switch wire contract.
 *
 * @notes
 * - `content.payload` is kept as raw JSON so unknown fields survive a pass
 *   through the router unchanged.
 * - Error codes are a wire contract shared with downstream consumers; new
 *   codes must not be introduced without coordinating with them.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types carried in metadata.event.type.
const (
	EventTypeTransfer     = "transfer"
	EventTypeFulfil       = "fulfil"
	EventTypeNotification = "notification"
	EventTypePosition     = "position"
)

// Event actions carried in metadata.event.action.
const (
	ActionPrepare          = "prepare"
	ActionCommit           = "commit"
	ActionReject           = "reject"
	ActionAbort            = "abort"
	ActionTimeoutReserved  = "timeout-reserved"
	ActionTransfer         = "transfer"
	ActionPrepareDuplicate = "prepare-duplicate"
)

// SwitchName identifies the switch itself as a message sender.
const SwitchName = "central-switch"

// Event statuses carried in metadata.event.state.status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Switch error codes (stable wire contract).
const (
	ErrCodeInternal        = 2001
	ErrCodeValidation      = 3100
	ErrCodeModifiedRequest = 3106
	ErrCodeTransferExpired = 3303
)

// ErrDescriptions maps the stable error codes to their canonical wording.
var ErrDescriptions = map[int]string{
	ErrCodeInternal:        "Internal server error",
	ErrCodeValidation:      "Generic validation error",
	ErrCodeModifiedRequest: "Modified request",
	ErrCodeTransferExpired: "Transfer expired",
}

// EventState is metadata.event.state.
type EventState struct {
	Status      string `json:"status"`
	Code        int    `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Event is metadata.event.
type Event struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Action    string     `json:"action"`
	State     EventState `json:"state"`
	CreatedAt string     `json:"createdAt"`
}

// Metadata wraps the event block; unrecognized metadata fields are dropped
// on re-emit, only content is preserved verbatim.
type Metadata struct {
	Event Event `json:"event"`
}

// Content carries the payload plus transport headers.
type Content struct {
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EventEnvelope is the on-bus message shape for every topic.
type EventEnvelope struct {
	ID       string   `json:"id"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// ErrorInfo is the errorInformation block of a failure payload.
type ErrorInfo struct {
	ErrorCode        int         `json:"errorCode"`
	ErrorDescription string      `json:"errorDescription"`
	ExtensionList    []Extension `json:"extensionList,omitempty"`
}

// ErrorPayload is the content.payload of a failure envelope.
type ErrorPayload struct {
	ErrorInformation ErrorInfo `json:"errorInformation"`
}

// SuccessState returns the event state for a successful outcome.
func SuccessState() EventState {
	return EventState{Status: StatusSuccess}
}

// FailureState returns the event state for the given switch error code. An
// extra description, when present, is appended to the canonical wording.
func FailureState(code int, extra string) EventState {
	desc := ErrDescriptions[code]
	if extra != "" {
		desc = fmt.Sprintf("%s: %s", desc, extra)
	}
	return EventState{Status: StatusFailure, Code: code, Description: desc}
}

// NewMessage builds an envelope around an already-marshalled payload. The
// event metadata block is stamped by the bus gateway at produce time.
func NewMessage(id, from, to string, payload json.RawMessage) *EventEnvelope {
	return &EventEnvelope{
		ID:      id,
		From:    from,
		To:      to,
		Content: Content{Payload: payload},
	}
}

// NewErrorMessage builds a failure envelope addressed back to the
// originator. The extension list of the request, when present, is copied
// verbatim into the error payload.
func NewErrorMessage(id, from, to string, state EventState, extensions []Extension) *EventEnvelope {
	payload, _ := json.Marshal(ErrorPayload{ErrorInformation: ErrorInfo{
		ErrorCode:        state.Code,
		ErrorDescription: state.Description,
		ExtensionList:    extensions,
	}})
	return NewMessage(id, from, to, payload)
}

// StampEvent fills the event metadata block for an outgoing message.
func (e *EventEnvelope) StampEvent(eventType, action string, state EventState) {
	e.Metadata.Event = Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Action:    action,
		State:     state,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
