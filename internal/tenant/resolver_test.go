package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntegrations struct {
	accounts map[string]*domain.IntegrationAccount
	err      error
}

func (f *fakeIntegrations) GetByChannelEndpoint(_ context.Context, _ domain.ChannelType, phoneNumberID string) (*domain.IntegrationAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[phoneNumberID], nil
}

type fakeChatbots struct {
	byCompany map[string]*domain.Chatbot
	err       error
}

func (f *fakeChatbots) GetFirstCallEnabled(_ context.Context, companyID string) (*domain.Chatbot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byCompany[companyID], nil
}

func TestResolveSuccess(t *testing.T) {
	integrations := &fakeIntegrations{accounts: map[string]*domain.IntegrationAccount{
		"pn-1": {ID: "int-1", CompanyID: "co-1", PhoneNumberID: "pn-1", Active: true},
	}}
	chatbots := &fakeChatbots{byCompany: map[string]*domain.Chatbot{
		"co-1": {ID: "bot-1", CompanyID: "co-1", CallsEnabled: true, AIProvider: domain.AIProviderOpenAI},
	}}

	r := NewResolver(integrations, chatbots, domain.ChannelTypeWhatsApp)
	resolution, err := r.Resolve(context.Background(), "pn-1")
	require.NoError(t, err)
	assert.Equal(t, "co-1", resolution.Integration.CompanyID)
	assert.Equal(t, "bot-1", resolution.Chatbot.ID)
}

func TestResolveNoIntegration(t *testing.T) {
	r := NewResolver(&fakeIntegrations{}, &fakeChatbots{}, domain.ChannelTypeWhatsApp)
	_, err := r.Resolve(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNoIntegration)
}

func TestResolveNoChatbot(t *testing.T) {
	integrations := &fakeIntegrations{accounts: map[string]*domain.IntegrationAccount{
		"pn-1": {ID: "int-1", CompanyID: "co-1", PhoneNumberID: "pn-1", Active: true},
	}}
	r := NewResolver(integrations, &fakeChatbots{}, domain.ChannelTypeWhatsApp)
	_, err := r.Resolve(context.Background(), "pn-1")
	assert.ErrorIs(t, err, ErrNoChatbot)
}

func TestIntegrationLookup(t *testing.T) {
	integrations := &fakeIntegrations{accounts: map[string]*domain.IntegrationAccount{
		"pn-1": {ID: "int-1", CompanyID: "co-1", PhoneNumberID: "pn-1", AppSecret: "sec-1", Active: true},
	}}
	r := NewResolver(integrations, &fakeChatbots{}, domain.ChannelTypeWhatsApp)

	account, err := r.Integration(context.Background(), "pn-1")
	require.NoError(t, err)
	assert.Equal(t, "sec-1", account.AppSecret)

	_, err = r.Integration(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNoIntegration)
}

func TestResolveWrapsLookupErrors(t *testing.T) {
	dbErr := errors.New("connection reset")
	r := NewResolver(&fakeIntegrations{err: dbErr}, &fakeChatbots{}, domain.ChannelTypeWhatsApp)
	_, err := r.Resolve(context.Background(), "pn-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrNoIntegration)
}
