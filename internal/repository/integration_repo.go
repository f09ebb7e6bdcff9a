package repository

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"gorm.io/gorm"
)

// integrationAccountRepository handles database lookups for integration accounts
type integrationAccountRepository struct {
	db *gorm.DB
}

// NewIntegrationAccountRepository creates a new integration account repository
func NewIntegrationAccountRepository(db *gorm.DB) IntegrationAccountRepository {
	return &integrationAccountRepository{db: db}
}

// GetByChannelEndpoint retrieves the active integration account owning a
// channel endpoint. Soft-deleted rows are excluded by GORM automatically.
func (r *integrationAccountRepository) GetByChannelEndpoint(ctx context.Context, channel domain.ChannelType, phoneNumberID string) (*domain.IntegrationAccount, error) {
	var account domain.IntegrationAccount
	err := r.db.WithContext(ctx).
		Where("channel = ? AND phone_number_id = ? AND active = ?", channel, phoneNumberID, true).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration account: %w", err)
	}
	return &account, nil
}
