package provider

import (
	"context"
	"errors"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
)

// ErrBridgeClosed is returned by SendAudio once the provider socket has
// closed. Callers treat it as a signal to end the call.
var ErrBridgeClosed = errors.New("voice bridge closed")

// VoiceBridge is an active audio session with a real-time speech provider.
// Connect must complete before SendAudio; Close is idempotent.
type VoiceBridge interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte) error
	Close() error
}

// Params configures one bridge session.
type Params struct {
	SessionID string
	Language  string

	// OnAudio receives provider audio output, one frame at a time, from
	// the bridge's dispatch goroutine.
	OnAudio func(frame []byte)

	// OnClosed fires once when the provider connection dies outside of a
	// local Close call. The error describes the cause.
	OnClosed func(err error)

	// OnTurn fires once per completed assistant response.
	OnTurn func()
}

// Config carries the provider credentials and model selection resolved
// from the environment.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// BridgeFactory builds a bridge for the requested provider.
type BridgeFactory interface {
	NewBridge(providerType domain.AIProvider, params Params) (VoiceBridge, error)
}
