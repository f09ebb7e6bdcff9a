package repository

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"gorm.io/gorm"
)

// chatbotRepository handles database lookups for chatbots
type chatbotRepository struct {
	db *gorm.DB
}

// NewChatbotRepository creates a new chatbot repository
func NewChatbotRepository(db *gorm.DB) ChatbotRepository {
	return &chatbotRepository{db: db}
}

// GetFirstCallEnabled returns the oldest active chatbot with voice calling
// enabled for a company. Ordering by created_at then id keeps the pick stable
// when several chatbots qualify.
func (r *chatbotRepository) GetFirstCallEnabled(ctx context.Context, companyID string) (*domain.Chatbot, error) {
	var chatbot domain.Chatbot
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND calls_enabled = ? AND active = ?", companyID, true, true).
		Order("created_at ASC, id ASC").
		First(&chatbot).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call-enabled chatbot: %w", err)
	}
	return &chatbot, nil
}
