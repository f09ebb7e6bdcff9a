package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/internal/repository"
)

var (
	// ErrNoIntegration means no active integration account owns the
	// channel endpoint the call arrived on.
	ErrNoIntegration = errors.New("no integration account for endpoint")

	// ErrNoChatbot means the owning company has no active chatbot with
	// voice calling enabled.
	ErrNoChatbot = errors.New("no call-enabled chatbot for company")
)

// Resolution is the routing outcome for one inbound call.
type Resolution struct {
	Integration *domain.IntegrationAccount
	Chatbot     *domain.Chatbot
}

// Resolver maps a channel endpoint to the integration account and chatbot
// that should answer calls on it.
type Resolver struct {
	integrations repository.IntegrationAccountRepository
	chatbots     repository.ChatbotRepository
	channel      domain.ChannelType
}

// NewResolver creates a resolver for one channel.
func NewResolver(integrations repository.IntegrationAccountRepository, chatbots repository.ChatbotRepository, channel domain.ChannelType) *Resolver {
	return &Resolver{
		integrations: integrations,
		chatbots:     chatbots,
		channel:      channel,
	}
}

// Integration looks up the active integration account owning a channel
// endpoint. Used on its own for webhook signature secret selection, before
// full call routing happens.
func (r *Resolver) Integration(ctx context.Context, endpointID string) (*domain.IntegrationAccount, error) {
	account, err := r.integrations.GetByChannelEndpoint(ctx, r.channel, endpointID)
	if err != nil {
		return nil, fmt.Errorf("integration lookup for endpoint %s: %w", endpointID, err)
	}
	if account == nil {
		return nil, ErrNoIntegration
	}
	return account, nil
}

// Resolve looks up the integration account for an endpoint, then the
// oldest call-enabled chatbot of the owning company.
func (r *Resolver) Resolve(ctx context.Context, endpointID string) (*Resolution, error) {
	account, err := r.Integration(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	chatbot, err := r.chatbots.GetFirstCallEnabled(ctx, account.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("chatbot lookup for company %s: %w", account.CompanyID, err)
	}
	if chatbot == nil {
		return nil, ErrNoChatbot
	}

	return &Resolution{Integration: account, Chatbot: chatbot}, nil
}
