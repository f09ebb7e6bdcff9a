package channel

import (
	"context"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
)

// CallHandler owns the media leg of one call on a specific channel. The
// runner drives it: Start negotiates media and returns the SDP answer,
// HandleAudio feeds caller audio arriving out-of-band (media webhooks),
// Stop releases the peer connection and the bridge.
type CallHandler interface {
	// Start connects the AI bridge, negotiates the media session and
	// returns the local SDP answer. It must release any partially opened
	// resources on error.
	Start(ctx context.Context) (string, error)

	// HandleAudio forwards a raw caller audio frame to the bridge.
	// Frames arriving before Start completes or after Stop are dropped.
	HandleAudio(frame []byte)

	// Stop tears down the media session and the bridge. Safe to call
	// more than once.
	Stop()

	// Turns reports how many assistant responses completed, for usage
	// accounting on call end.
	Turns() int
}

// StartParams carries everything a channel needs to answer one call.
type StartParams struct {
	SessionID      string
	ProviderCallID string
	From           string
	SDPOffer       string
	AccessToken    string
	CompanyID      string
	ChatbotID      string
	Provider       domain.AIProvider
	Language       string

	// OnFatal is invoked from the handler's goroutines when the media leg
	// or the AI bridge dies mid-call. The owner ends the session.
	OnFatal func(reason domain.TerminationReason)
}

// HandlerFactory builds a CallHandler for one call on the channel this
// process serves. The channel is selected by configuration at startup.
type HandlerFactory interface {
	NewHandler(params StartParams) (CallHandler, error)
	Channel() domain.ChannelType
}

// ControlPlane answers or rejects a call on the channel provider's API.
// It exists separately from CallHandler so calls can be rejected before
// any session is created.
type ControlPlane interface {
	Accept(ctx context.Context, accessToken, callID, sdpAnswer string) error
	Reject(ctx context.Context, accessToken, callID, reason string) error
}
