package domain

import (
	"time"

	"gorm.io/gorm"
)

// IntegrationAccount identifies which company owns a channel endpoint and
// carries the channel credentials. Read-only from this service.
type IntegrationAccount struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CompanyID     string         `json:"company_id" gorm:"type:varchar(255);index;not null"`
	Channel       ChannelType    `json:"channel" gorm:"type:varchar(32);not null"`
	PhoneNumberID string         `json:"phone_number_id" gorm:"type:varchar(255);index;not null"`
	AccessToken   string         `json:"-" gorm:"type:text"`
	AppSecret     string         `json:"-" gorm:"type:text"`
	Active        bool           `json:"active" gorm:"default:true"`
	Metadata      JSONB          `json:"metadata" gorm:"type:jsonb"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName sets the table name for IntegrationAccount
func (IntegrationAccount) TableName() string {
	return "integration_accounts"
}
