package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB represents a PostgreSQL JSONB field
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// ChannelType identifies the external surface a call arrives through.
type ChannelType string

const (
	ChannelTypeWeb       ChannelType = "web"
	ChannelTypeWhatsApp  ChannelType = "whatsapp"
	ChannelTypeTelephony ChannelType = "telephony"
)

// AIProvider identifies the real-time speech provider answering the call.
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderGemini AIProvider = "gemini"
)

// String returns the string representation of AIProvider.
func (p AIProvider) String() string {
	return string(p)
}

// IsValid checks if the provider is a known value.
func (p AIProvider) IsValid() bool {
	return p == AIProviderOpenAI || p == AIProviderGemini
}

// CallStatus constants for the call record lifecycle.
type CallStatus string

const (
	CallStatusConnecting CallStatus = "connecting"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether the status is one of the immutable end states.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// TerminationReason describes why a call ended.
type TerminationReason string

const (
	ReasonUserHangup        TerminationReason = "user_hangup"
	ReasonNoIntegration     TerminationReason = "no_integration"
	ReasonNoChatbot         TerminationReason = "no_chatbot"
	ReasonSessionError      TerminationReason = "session_error"
	ReasonStartError        TerminationReason = "start_error"
	ReasonNoSDPAnswer       TerminationReason = "no_sdp_answer"
	ReasonBridgeError       TerminationReason = "bridge_error"
	ReasonServerShutdown    TerminationReason = "server_shutdown"
	ReasonInactivityTimeout TerminationReason = "inactivity_timeout"
)

// StatusFor maps a termination reason to the terminal record status.
// A call that reached media flow and was hung up or drained counts as
// completed; setup and bridge failures count as failed.
func (r TerminationReason) StatusFor() CallStatus {
	switch r {
	case ReasonUserHangup, ReasonServerShutdown, ReasonInactivityTimeout:
		return CallStatusCompleted
	default:
		return CallStatusFailed
	}
}
