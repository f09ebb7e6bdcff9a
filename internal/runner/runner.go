package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/channel"
	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/internal/registry"
	"github.com/ClareAI/astra-call-orchestrator/internal/session"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/ClareAI/astra-call-orchestrator/pkg/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle position of one call session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateTerminating
	StateEnded
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallSession is the in-memory state of one call. The runner owns it; the
// state field moves only through atomic swaps so termination races resolve
// to exactly one winner.
type CallSession struct {
	ID             string
	ProviderCallID string
	CompanyID      string
	ChatbotID      string
	Channel        domain.ChannelType
	Provider       domain.AIProvider
	CallerAddress  string
	StartedAt      time.Time

	state        atomic.Int32
	recorded     atomic.Bool
	lastActivity atomic.Int64

	handlerMu sync.Mutex
	handler   channel.CallHandler
}

// State reports the current lifecycle state.
func (s *CallSession) State() State {
	return State(s.state.Load())
}

func (s *CallSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// The handler field is written by StartCall and read by EndCall, which can
// race when a bridge failure ends the session while start is in flight.
func (s *CallSession) setHandler(h channel.CallHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

func (s *CallSession) callHandler() channel.CallHandler {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	return s.handler
}

// RecordStore persists call records. The gorm repository satisfies it.
type RecordStore interface {
	Create(ctx context.Context, record *domain.CallRecord) error
	Finalize(ctx context.Context, id string, status domain.CallStatus, reason domain.TerminationReason, endedAt time.Time, turnCount int) error
}

// Presence mirrors call presence to Redis for cross-pod visibility.
type Presence interface {
	Register(ctx context.Context, info session.Info) error
	Unregister(ctx context.Context, sessionID string) error
}

// UsagePublisher emits per-call usage events when a call ends.
type UsagePublisher interface {
	PublishCallUsageEvent(ctx context.Context, event pubsub.CallUsageEvent) error
}

// Config tunes the runner's timeouts.
type Config struct {
	StartTimeout      time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

// Runner drives call sessions through their lifecycle. Records, presence
// and usage publishing are optional collaborators; a nil value disables
// that concern.
type Runner struct {
	registry *registry.Registry
	records  RecordStore
	presence Presence
	usage    UsagePublisher
	cfg      Config

	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// New creates a runner.
func New(reg *registry.Registry, records RecordStore, presence Presence, usage UsagePublisher, cfg Config) *Runner {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 8 * time.Second
	}
	return &Runner{
		registry: reg,
		records:  records,
		presence: presence,
		usage:    usage,
		cfg:      cfg,
		sessions: make(map[string]*CallSession),
	}
}

// SessionParams identifies the call a new session will serve.
type SessionParams struct {
	ProviderCallID string
	CompanyID      string
	ChatbotID      string
	Channel        domain.ChannelType
	Provider       domain.AIProvider
	CallerAddress  string
}

// CreateSession allocates a session in the connecting state. Nothing
// external happens until StartCall.
func (r *Runner) CreateSession(params SessionParams) *CallSession {
	sess := &CallSession{
		ID:             uuid.New().String(),
		ProviderCallID: params.ProviderCallID,
		CompanyID:      params.CompanyID,
		ChatbotID:      params.ChatbotID,
		Channel:        params.Channel,
		Provider:       params.Provider,
		CallerAddress:  params.CallerAddress,
		StartedAt:      time.Now(),
	}
	sess.state.Store(int32(StateConnecting))
	sess.touch()

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// Session looks up a session by ID.
func (r *Runner) Session(sessionID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// ActiveCount reports how many calls this pod currently owns.
func (r *Runner) ActiveCount() int {
	return r.registry.Len()
}

// StartCall runs the handler's media setup under a bounded timeout. On
// success the call is registered, recorded and mirrored to presence. On
// failure the session ends with start_error and was never visible in the
// registry.
func (r *Runner) StartCall(ctx context.Context, sess *CallSession, handler channel.CallHandler) error {
	startCtx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()

	type startResult struct {
		answer string
		err    error
	}
	resultCh := make(chan startResult, 1)
	go func() {
		answer, err := handler.Start(startCtx)
		resultCh <- startResult{answer: answer, err: err}
	}()

	var res startResult
	select {
	case res = <-resultCh:
	case <-startCtx.Done():
		// The handler's Start sees the same cancelled context; release its
		// resources once it returns.
		go func() {
			<-resultCh
			handler.Stop()
		}()
		res = startResult{err: fmt.Errorf("call start timed out after %s", r.cfg.StartTimeout)}
	}

	if res.err == nil && res.answer == "" {
		res.err = fmt.Errorf("media setup produced no SDP answer")
		handler.Stop()
	}
	if res.err != nil {
		r.failStart(ctx, sess, res.err)
		return res.err
	}

	if err := r.registry.Put(sess.ProviderCallID, registry.Entry{SessionID: sess.ID, Handler: handler}); err != nil {
		handler.Stop()
		r.failStart(ctx, sess, err)
		return err
	}

	sess.setHandler(handler)
	// A bridge failure callback may have ended the session while setup
	// was in flight; only a still-connecting session goes active.
	if !sess.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		r.registry.Remove(sess.ProviderCallID)
		handler.Stop()
		return fmt.Errorf("session %s ended during start", sess.ID)
	}
	sess.touch()

	if r.records != nil {
		record := &domain.CallRecord{
			ID:             sess.ID,
			ProviderCallID: sess.ProviderCallID,
			CompanyID:      sess.CompanyID,
			ChatbotID:      sess.ChatbotID,
			Channel:        sess.Channel,
			Provider:       sess.Provider,
			Status:         domain.CallStatusInProgress,
			CallerAddress:  sess.CallerAddress,
			StartedAt:      sess.StartedAt,
		}
		if err := r.records.Create(ctx, record); err != nil {
			logger.Base().Error("Failed to create call record",
				zap.String("session_id", sess.ID), zap.Error(err))
		} else {
			sess.recorded.Store(true)
		}
	}

	if r.presence != nil {
		if err := r.presence.Register(ctx, session.Info{
			SessionID:      sess.ID,
			ProviderCallID: sess.ProviderCallID,
			CompanyID:      sess.CompanyID,
			ChatbotID:      sess.ChatbotID,
			ChannelType:    string(sess.Channel),
			StartTime:      sess.StartedAt,
		}); err != nil {
			logger.Base().Warn("Failed to register session presence",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	logger.Base().Info("Call active",
		zap.String("session_id", sess.ID),
		zap.String("call_id", sess.ProviderCallID),
		zap.String("provider", sess.Provider.String()))
	return nil
}

// failStart ends a session whose media setup never completed.
func (r *Runner) failStart(ctx context.Context, sess *CallSession, cause error) {
	if !r.swapToTerminating(sess) {
		return
	}
	logger.Base().Error("Call start failed",
		zap.String("session_id", sess.ID),
		zap.String("call_id", sess.ProviderCallID),
		zap.Error(cause))

	if r.records != nil {
		now := time.Now()
		record := &domain.CallRecord{
			ID:                sess.ID,
			ProviderCallID:    sess.ProviderCallID,
			CompanyID:         sess.CompanyID,
			ChatbotID:         sess.ChatbotID,
			Channel:           sess.Channel,
			Provider:          sess.Provider,
			Status:            domain.CallStatusFailed,
			TerminationReason: domain.ReasonStartError,
			CallerAddress:     sess.CallerAddress,
			StartedAt:         sess.StartedAt,
			EndedAt:           &now,
		}
		if err := r.records.Create(ctx, record); err != nil {
			logger.Base().Error("Failed to record start failure",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	sess.state.Store(int32(StateEnded))
	r.dropSession(sess.ID)
}

// SendAudio forwards a media frame to the session owning a call. Frames
// for unknown calls or non-active sessions are dropped.
func (r *Runner) SendAudio(providerCallID string, frame []byte) {
	entry, ok := r.registry.Get(providerCallID)
	if !ok {
		return
	}
	sess, ok := r.Session(entry.SessionID)
	if !ok || sess.State() != StateActive {
		return
	}
	sess.touch()
	entry.Handler.HandleAudio(frame)
}

// EndCall terminates a session. It is idempotent: the atomic state swap
// ensures only the first caller performs cleanup, so replayed terminate
// webhooks, bridge failures and shutdown drains never double-finalize.
func (r *Runner) EndCall(ctx context.Context, sessionID string, reason domain.TerminationReason) {
	sess, ok := r.Session(sessionID)
	if !ok {
		return
	}
	if !r.swapToTerminating(sess) {
		return
	}

	turns := 0
	if handler := sess.callHandler(); handler != nil {
		handler.Stop()
		turns = handler.Turns()
	}
	r.registry.Remove(sess.ProviderCallID)

	endedAt := time.Now()
	status := reason.StatusFor()

	if r.records != nil && sess.recorded.Load() {
		if err := r.records.Finalize(ctx, sess.ID, status, reason, endedAt, turns); err != nil {
			logger.Base().Error("Failed to finalize call record",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	if r.presence != nil {
		if err := r.presence.Unregister(ctx, sess.ID); err != nil {
			logger.Base().Warn("Failed to unregister session presence",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	if r.usage != nil {
		event := pubsub.CallUsageEvent{
			SessionID:         sess.ID,
			CompanyID:         sess.CompanyID,
			ChatbotID:         sess.ChatbotID,
			Channel:           string(sess.Channel),
			Provider:          sess.Provider.String(),
			Status:            string(status),
			TerminationReason: string(reason),
			StartAt:           sess.StartedAt,
			EndAt:             &endedAt,
			DurationSeconds:   int(endedAt.Sub(sess.StartedAt).Seconds()),
			TurnCount:         turns,
		}
		if err := r.usage.PublishCallUsageEvent(ctx, event); err != nil {
			logger.Base().Warn("Failed to publish call usage event",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	sess.state.Store(int32(StateEnded))
	r.dropSession(sess.ID)

	logger.Base().Info("Call ended",
		zap.String("session_id", sess.ID),
		zap.String("call_id", sess.ProviderCallID),
		zap.String("reason", string(reason)),
		zap.String("status", string(status)))
}

// EndCallByProviderID resolves the session for a provider call ID and ends
// it. Returns false when the call is unknown to this pod.
func (r *Runner) EndCallByProviderID(ctx context.Context, providerCallID string, reason domain.TerminationReason) bool {
	entry, ok := r.registry.Get(providerCallID)
	if !ok {
		return false
	}
	r.EndCall(ctx, entry.SessionID, reason)
	return true
}

// swapToTerminating claims the session for cleanup. Exactly one caller
// wins; everyone else sees a no-op.
func (r *Runner) swapToTerminating(sess *CallSession) bool {
	for {
		current := sess.state.Load()
		if State(current) == StateTerminating || State(current) == StateEnded {
			return false
		}
		if sess.state.CompareAndSwap(current, int32(StateTerminating)) {
			return true
		}
	}
}

func (r *Runner) dropSession(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Shutdown drains every active call with reason server_shutdown, bounded
// by ctx. Stragglers are abandoned once the deadline passes.
func (r *Runner) Shutdown(ctx context.Context) {
	entries := r.registry.Snapshot()
	if len(entries) == 0 {
		return
	}
	logger.Base().Info("Draining active calls", zap.Int("count", len(entries)))

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			r.EndCall(ctx, sessionID, domain.ReasonServerShutdown)
		}(entry.SessionID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Base().Info("All calls drained")
	case <-ctx.Done():
		// A handler whose Stop wedges must not keep its entry alive past
		// the deadline; force-drop whatever is left of the snapshot.
		forced := 0
		for callID, entry := range entries {
			if _, ok := r.registry.Get(callID); !ok {
				continue
			}
			r.registry.Remove(callID)
			if sess, ok := r.Session(entry.SessionID); ok {
				sess.state.Store(int32(StateEnded))
			}
			r.dropSession(entry.SessionID)
			forced++
		}
		logger.Base().Warn("Shutdown deadline reached, force-dropped draining calls",
			zap.Int("forced", forced))
	}
}

// StartSweeper ends calls idle beyond the inactivity timeout. It runs
// until ctx is cancelled.
func (r *Runner) StartSweeper(ctx context.Context) {
	if r.cfg.InactivityTimeout <= 0 || r.cfg.SweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepOnce(ctx)
			}
		}
	}()
}

func (r *Runner) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.InactivityTimeout).UnixNano()

	r.mu.RLock()
	var stale []string
	for id, sess := range r.sessions {
		if sess.State() == StateActive && sess.lastActivity.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		logger.Base().Warn("Ending inactive call", zap.String("session_id", id))
		r.EndCall(ctx, id, domain.ReasonInactivityTimeout)
	}
}
