package domain

import (
	"time"
)

// Chatbot carries the per-chatbot call configuration. Only the voice-calling
// flag and the selected provider matter to this service; everything else is
// owned by the dashboard side.
type Chatbot struct {
	ID           string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CompanyID    string     `json:"company_id" gorm:"type:varchar(255);index;not null"`
	Name         string     `json:"name" gorm:"type:varchar(255);not null"`
	CallsEnabled bool       `json:"calls_enabled" gorm:"default:false"`
	Active       bool       `json:"active" gorm:"default:true"`
	AIProvider   AIProvider `json:"ai_provider" gorm:"type:varchar(32);default:'openai'"`
	Language     string     `json:"language" gorm:"type:varchar(16)"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Chatbot
func (Chatbot) TableName() string {
	return "chatbots"
}
