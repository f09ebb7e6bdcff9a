package domain

import (
	"time"
)

// CallRecord is the durable row written for every accepted or failed call.
// It is created when a session leaves the connecting state and finalized
// exactly once when the call terminates; it is never deleted here.
type CallRecord struct {
	ID                string            `json:"id" gorm:"type:uuid;primaryKey"`
	ProviderCallID    string            `json:"provider_call_id" gorm:"type:varchar(255);uniqueIndex:uni_call_records_provider_call_id;not null"`
	CompanyID         string            `json:"company_id" gorm:"type:varchar(255);index;not null"`
	ChatbotID         string            `json:"chatbot_id" gorm:"type:varchar(255);index;not null"`
	Channel           ChannelType       `json:"channel" gorm:"type:varchar(32);not null"`
	Provider          AIProvider        `json:"provider" gorm:"type:varchar(32);not null"`
	Status            CallStatus        `json:"status" gorm:"type:varchar(32);not null"`
	TerminationReason TerminationReason `json:"termination_reason" gorm:"type:varchar(64)"`
	CallerAddress     string            `json:"caller_address" gorm:"type:varchar(255)"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           *time.Time        `json:"ended_at"`
	DurationSeconds   int               `json:"duration_seconds"`
	TurnCount         int               `json:"turn_count"`
	CreatedAt         time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for CallRecord
func (CallRecord) TableName() string {
	return "call_records"
}
