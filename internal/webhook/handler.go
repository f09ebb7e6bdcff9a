package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/channel"
	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/internal/registry"
	"github.com/ClareAI/astra-call-orchestrator/internal/runner"
	"github.com/ClareAI/astra-call-orchestrator/internal/session"
	"github.com/ClareAI/astra-call-orchestrator/internal/tenant"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options wires the webhook handler's collaborators and tuning.
type Options struct {
	WebhookSecret       string
	VerifyToken         string
	RoutingJWTSecret    string
	FallbackAccessToken string
	FallbackAppSecret   string
	DedupeWindow        time.Duration
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

// Handler is the inbound HTTP surface. It verifies signatures, normalizes
// events, and drives the runner. Per-event failures become channel rejects,
// never HTTP errors.
type Handler struct {
	opts     Options
	resolver *tenant.Resolver
	runner   *runner.Runner
	registry *registry.Registry
	factory  channel.HandlerFactory
	control  channel.ControlPlane
	presence *session.Manager
	limiter  *rate.Limiter

	mu        sync.Mutex
	processed map[string]time.Time
}

// NewHandler creates the webhook handler. presence may be nil when Redis
// is not configured; cross-pod cleanup broadcast is then disabled.
func NewHandler(opts Options, resolver *tenant.Resolver, r *runner.Runner, reg *registry.Registry, factory channel.HandlerFactory, control channel.ControlPlane, presence *session.Manager) *Handler {
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 30 * time.Second
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}
	return &Handler{
		opts:      opts,
		resolver:  resolver,
		runner:    r,
		registry:  reg,
		factory:   factory,
		control:   control,
		presence:  presence,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), opts.RateLimitBurst),
		processed: make(map[string]time.Time),
	}
}

// SetupRoutes registers the webhook and operational endpoints.
func (h *Handler) SetupRoutes(router *mux.Router) {
	router.Handle("/webhook/whatsapp", h.rateLimitMiddleware(http.HandlerFunc(h.handleVerify))).Methods(http.MethodGet)
	router.Handle("/webhook/whatsapp", h.rateLimitMiddleware(http.HandlerFunc(h.handleEvents))).Methods(http.MethodPost)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
}

func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleVerify answers the subscription handshake.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := firstNonEmpty(query.Get("hub.mode"), query.Get("mode"))
	token := firstNonEmpty(query.Get("hub.verify_token"), query.Get("verify_token"))
	challenge := firstNonEmpty(query.Get("hub.challenge"), query.Get("challenge"))

	if h.opts.VerifyToken == "" {
		logger.Base().Error("Webhook verify token not configured")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	echo, ok := VerifyChallenge(mode, token, challenge, h.opts.VerifyToken)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(echo))
}

// handleEvents verifies, parses and dispatches one webhook delivery.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	events, err := ParseEnvelope(body)
	if err != nil {
		logger.Base().Warn("Malformed webhook body", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// The envelope identifies the endpoint before the signature can be
	// checked: the channel signs with the owning integration's app secret.
	ok, err := VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.verificationSecret(r.Context(), events))
	if err != nil {
		if errors.Is(err, ErrSecretNotConfigured) {
			logger.Base().Error("Webhook secret not configured, rejecting delivery")
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !ok {
		logger.Base().Warn("Webhook signature mismatch")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	routing, err := DecodeRoutingClaims(r.Header.Get("Authorization"), h.opts.RoutingJWTSecret)
	if err != nil {
		// Routing overrides are optional; a broken token falls back to
		// endpoint-based resolution.
		logger.Base().Warn("Ignoring invalid routing token", zap.Error(err))
		routing = nil
	}

	for _, event := range events {
		if h.isDuplicate(event) {
			continue
		}
		h.dispatch(r.Context(), event, routing)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// verificationSecret picks the signing secret for a delivery: the owning
// integration's app secret, else the process-wide fallback app secret,
// else the global webhook secret.
func (h *Handler) verificationSecret(ctx context.Context, events []CallEvent) string {
	for _, event := range events {
		if event.EndpointID == "" {
			continue
		}
		account, err := h.resolver.Integration(ctx, event.EndpointID)
		if err == nil && account.AppSecret != "" {
			return account.AppSecret
		}
		break
	}
	if h.opts.FallbackAppSecret != "" {
		return h.opts.FallbackAppSecret
	}
	return h.opts.WebhookSecret
}

// isDuplicate suppresses redelivery of the same event within the window.
func (h *Handler) isDuplicate(event CallEvent) bool {
	if event.Kind == EventMedia {
		return false
	}
	key := string(event.Kind) + ":" + event.CallID

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if processedAt, exists := h.processed[key]; exists && now.Sub(processedAt) < h.opts.DedupeWindow {
		logger.Base().Warn("Duplicate webhook event ignored",
			zap.String("call_id", event.CallID), zap.String("kind", string(event.Kind)))
		return true
	}
	h.processed[key] = now

	for k, t := range h.processed {
		if now.Sub(t) > 5*time.Minute {
			delete(h.processed, k)
		}
	}
	return false
}

func (h *Handler) dispatch(ctx context.Context, event CallEvent, routing *RoutingClaims) {
	switch event.Kind {
	case EventConnect:
		h.handleConnect(ctx, event, routing)
	case EventTerminate:
		h.handleTerminate(ctx, event)
	case EventMedia:
		h.handleMedia(event)
	}
}

// handleConnect resolves tenancy and starts the call. Any failure rejects
// the call at the channel so the caller is not left ringing.
func (h *Handler) handleConnect(ctx context.Context, event CallEvent, routing *RoutingClaims) {
	if _, exists := h.registry.Get(event.CallID); exists {
		logger.Base().Info("Replayed connect for active call, ignoring",
			zap.String("call_id", event.CallID))
		return
	}
	if event.SDPOffer == "" {
		logger.Base().Warn("Connect without SDP offer", zap.String("call_id", event.CallID))
		h.reject(ctx, h.opts.FallbackAccessToken, event.CallID, string(domain.ReasonNoSDPAnswer))
		return
	}

	resolution, err := h.resolver.Resolve(ctx, event.EndpointID)
	if err != nil {
		reason := domain.ReasonSessionError
		switch {
		case errors.Is(err, tenant.ErrNoIntegration):
			reason = domain.ReasonNoIntegration
		case errors.Is(err, tenant.ErrNoChatbot):
			reason = domain.ReasonNoChatbot
		}
		logger.Base().Warn("Tenant resolution failed",
			zap.String("call_id", event.CallID),
			zap.String("endpoint_id", event.EndpointID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		h.reject(ctx, h.opts.FallbackAccessToken, event.CallID, string(reason))
		return
	}

	accessToken := resolution.Integration.AccessToken
	if accessToken == "" {
		accessToken = h.opts.FallbackAccessToken
	}

	companyID := resolution.Integration.CompanyID
	chatbotID := resolution.Chatbot.ID
	if routing != nil {
		if routing.CompanyID != "" {
			companyID = routing.CompanyID
		}
		if routing.ChatbotID != "" {
			chatbotID = routing.ChatbotID
		}
	}

	sess := h.runner.CreateSession(runner.SessionParams{
		ProviderCallID: event.CallID,
		CompanyID:      companyID,
		ChatbotID:      chatbotID,
		Channel:        h.factory.Channel(),
		Provider:       resolution.Chatbot.AIProvider,
		CallerAddress:  event.From,
	})

	params := channel.StartParams{
		SessionID:      sess.ID,
		ProviderCallID: event.CallID,
		From:           event.From,
		SDPOffer:       event.SDPOffer,
		AccessToken:    accessToken,
		CompanyID:      companyID,
		ChatbotID:      chatbotID,
		Provider:       resolution.Chatbot.AIProvider,
		Language:       resolution.Chatbot.Language,
		OnFatal: func(reason domain.TerminationReason) {
			h.runner.EndCall(context.Background(), sess.ID, reason)
		},
	}

	callHandler, err := h.factory.NewHandler(params)
	if err != nil {
		logger.Base().Error("Failed to build call handler",
			zap.String("call_id", event.CallID), zap.Error(err))
		h.runner.EndCall(ctx, sess.ID, domain.ReasonSessionError)
		h.reject(ctx, accessToken, event.CallID, string(domain.ReasonSessionError))
		return
	}

	if err := h.runner.StartCall(ctx, sess, callHandler); err != nil {
		h.reject(ctx, accessToken, event.CallID, string(domain.ReasonStartError))
		return
	}
}

// handleTerminate ends a locally-owned call; for a call owned by another
// pod it broadcasts a cleanup request instead.
func (h *Handler) handleTerminate(ctx context.Context, event CallEvent) {
	reason := terminationReason(event.Reason)
	if h.runner.EndCallByProviderID(ctx, event.CallID, reason) {
		return
	}
	logger.Base().Info("Terminate for call not owned locally",
		zap.String("call_id", event.CallID))
	if h.presence != nil {
		if err := h.presence.NotifyCleanup(ctx, event.CallID, string(reason)); err != nil {
			logger.Base().Warn("Cleanup broadcast failed",
				zap.String("call_id", event.CallID), zap.Error(err))
		}
	}
}

// handleMedia forwards an out-of-band audio frame. Unknown calls and bad
// payloads are dropped.
func (h *Handler) handleMedia(event CallEvent) {
	if event.AudioB64 == "" {
		return
	}
	frame, err := base64.StdEncoding.DecodeString(event.AudioB64)
	if err != nil {
		logger.Base().Warn("Undecodable media frame",
			zap.String("call_id", event.CallID), zap.Error(err))
		return
	}
	h.runner.SendAudio(event.CallID, frame)
}

// reject declines a call at the channel. Failures are logged only; local
// state is already consistent.
func (h *Handler) reject(ctx context.Context, accessToken, callID, reason string) {
	if h.control == nil || accessToken == "" {
		logger.Base().Warn("No control plane credentials to reject call",
			zap.String("call_id", callID), zap.String("reason", reason))
		return
	}
	if err := h.control.Reject(ctx, accessToken, callID, reason); err != nil {
		logger.Base().Warn("Reject call failed",
			zap.String("call_id", callID), zap.Error(err))
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"active_calls": h.runner.ActiveCount(),
	})
}

func terminationReason(raw string) domain.TerminationReason {
	switch domain.TerminationReason(raw) {
	case domain.ReasonUserHangup, domain.ReasonSessionError, domain.ReasonBridgeError:
		return domain.TerminationReason(raw)
	default:
		return domain.ReasonUserHangup
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
