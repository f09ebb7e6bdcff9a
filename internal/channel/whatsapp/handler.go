package whatsapp

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/provider"
	"github.com/ClareAI/astra-call-orchestrator/internal/channel"
	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

// Handler owns the WhatsApp leg of one call: the WebRTC media session,
// the AI bridge behind it, and the accept on the control plane.
type Handler struct {
	params  channel.StartParams
	client  *Client
	bridges provider.BridgeFactory
	stun    []string

	media  *MediaSession
	bridge provider.VoiceBridge
	turns  atomic.Int64

	mu      sync.Mutex
	stopped bool
}

// Factory builds WhatsApp call handlers. It implements
// channel.HandlerFactory for processes configured with the whatsapp channel.
type Factory struct {
	Client  *Client
	Bridges provider.BridgeFactory
	STUN    []string
}

// NewFactory creates a handler factory bound to one control-plane client.
func NewFactory(client *Client, bridges provider.BridgeFactory, stunServers []string) *Factory {
	return &Factory{Client: client, Bridges: bridges, STUN: stunServers}
}

// Channel reports the channel this factory serves.
func (f *Factory) Channel() domain.ChannelType {
	return domain.ChannelTypeWhatsApp
}

// NewHandler builds the handler for one call.
func (f *Factory) NewHandler(params channel.StartParams) (channel.CallHandler, error) {
	return &Handler{
		params:  params,
		client:  f.Client,
		bridges: f.Bridges,
		stun:    f.STUN,
	}, nil
}

// Start connects the AI bridge, negotiates the media answer, and accepts
// the call on the control plane. Ordering matters: the caller must never
// be accepted before both legs are ready.
func (h *Handler) Start(ctx context.Context) (string, error) {
	bridge, err := h.bridges.NewBridge(h.params.Provider, provider.Params{
		SessionID: h.params.SessionID,
		Language:  h.params.Language,
		OnAudio:   h.onBridgeAudio,
		OnTurn:    func() { h.turns.Add(1) },
		OnClosed:  h.onBridgeClosed,
	})
	if err != nil {
		return "", err
	}

	if err := bridge.Connect(ctx); err != nil {
		return "", err
	}

	media, err := NewMediaSession(ctx, h.params.SDPOffer, h.stun, h.onCallerAudio, h.onMediaFailed)
	if err != nil {
		_ = bridge.Close()
		return "", err
	}

	if err := h.client.Accept(ctx, h.params.AccessToken, h.params.ProviderCallID, media.AnswerSDP()); err != nil {
		media.Close()
		_ = bridge.Close()
		return "", err
	}

	h.mu.Lock()
	h.bridge = bridge
	h.media = media
	h.mu.Unlock()

	return media.AnswerSDP(), nil
}

// HandleAudio forwards an out-of-band caller audio frame to the bridge.
// Frames arriving around start or stop are dropped.
func (h *Handler) HandleAudio(frame []byte) {
	h.mu.Lock()
	bridge := h.bridge
	stopped := h.stopped
	h.mu.Unlock()
	if stopped || bridge == nil {
		return
	}
	if err := bridge.SendAudio(frame); err != nil && err != provider.ErrBridgeClosed {
		logger.Base().Warn("Failed to forward caller audio",
			zap.String("session_id", h.params.SessionID), zap.Error(err))
	}
}

// Stop tears down both legs. Safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	media := h.media
	bridge := h.bridge
	h.mu.Unlock()

	if media != nil {
		media.Close()
	}
	if bridge != nil {
		_ = bridge.Close()
	}
}

// Turns reports completed assistant responses.
func (h *Handler) Turns() int {
	return int(h.turns.Load())
}

// onCallerAudio feeds inbound RTP payloads to the bridge.
func (h *Handler) onCallerAudio(frame []byte) {
	h.HandleAudio(frame)
}

// onBridgeAudio plays provider audio back to the caller.
func (h *Handler) onBridgeAudio(frame []byte) {
	h.mu.Lock()
	media := h.media
	stopped := h.stopped
	h.mu.Unlock()
	if stopped || media == nil {
		return
	}
	if err := media.WriteAudio(frame); err != nil {
		logger.Base().Warn("Failed to write audio to caller",
			zap.String("session_id", h.params.SessionID), zap.Error(err))
	}
}

func (h *Handler) onBridgeClosed(err error) {
	logger.Base().Warn("AI bridge closed unexpectedly",
		zap.String("session_id", h.params.SessionID), zap.Error(err))
	if h.params.OnFatal != nil {
		h.params.OnFatal(domain.ReasonBridgeError)
	}
}

func (h *Handler) onMediaFailed() {
	logger.Base().Warn("Peer connection failed",
		zap.String("session_id", h.params.SessionID))
	if h.params.OnFatal != nil {
		h.params.OnFatal(domain.ReasonSessionError)
	}
}
