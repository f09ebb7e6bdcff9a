package repository

import (
	"context"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"gorm.io/gorm"
)

// CallRecordRepository defines the interface for call record persistence
type CallRecordRepository interface {
	Create(ctx context.Context, record *domain.CallRecord) error
	Finalize(ctx context.Context, id string, status domain.CallStatus, reason domain.TerminationReason, endedAt time.Time, turnCount int) error
	GetByID(ctx context.Context, id string) (*domain.CallRecord, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallRecord, error)
}

// IntegrationAccountRepository defines the interface for integration account lookups
type IntegrationAccountRepository interface {
	GetByChannelEndpoint(ctx context.Context, channel domain.ChannelType, phoneNumberID string) (*domain.IntegrationAccount, error)
}

// ChatbotRepository defines the interface for chatbot lookups
type ChatbotRepository interface {
	GetFirstCallEnabled(ctx context.Context, companyID string) (*domain.Chatbot, error)
}

// RepositoryManager bundles the repositories behind one constructor so the
// wiring in main stays flat.
type RepositoryManager struct {
	CallRecords  CallRecordRepository
	Integrations IntegrationAccountRepository
	Chatbots     ChatbotRepository
}

// NewRepositoryManager creates all repositories backed by the same connection
func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		CallRecords:  NewCallRecordRepository(db),
		Integrations: NewIntegrationAccountRepository(db),
		Chatbots:     NewChatbotRepository(db),
	}
}
