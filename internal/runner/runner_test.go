package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	answer   string
	startErr error

	mu       sync.Mutex
	started  int
	stopped  int
	frames   [][]byte
	turnsVal int
}

func (f *fakeHandler) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return f.answer, f.startErr
}

func (f *fakeHandler) HandleAudio(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *fakeHandler) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeHandler) Turns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turnsVal
}

func (f *fakeHandler) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeHandler) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type finalization struct {
	status domain.CallStatus
	reason domain.TerminationReason
	turns  int
}

type fakeRecordStore struct {
	mu        sync.Mutex
	created   []*domain.CallRecord
	finalized map[string][]finalization
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{finalized: make(map[string][]finalization)}
}

func (s *fakeRecordStore) Create(_ context.Context, record *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, record)
	return nil
}

func (s *fakeRecordStore) Finalize(_ context.Context, id string, status domain.CallStatus, reason domain.TerminationReason, _ time.Time, turns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[id] = append(s.finalized[id], finalization{status: status, reason: reason, turns: turns})
	return nil
}

func (s *fakeRecordStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *fakeRecordStore) finalizations(id string) []finalization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized[id]
}

func newTestRunner(store *fakeRecordStore) (*Runner, *registry.Registry) {
	reg := registry.New()
	r := New(reg, store, nil, nil, Config{StartTimeout: 2 * time.Second})
	return r, reg
}

func TestStartCallSuccess(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	sess := r.CreateSession(SessionParams{
		ProviderCallID: "call-1",
		CompanyID:      "co-1",
		ChatbotID:      "bot-1",
		Channel:        domain.ChannelTypeWhatsApp,
		Provider:       domain.AIProviderOpenAI,
	})
	assert.Equal(t, StateConnecting, sess.State())

	handler := &fakeHandler{answer: "v=0 answer"}
	require.NoError(t, r.StartCall(context.Background(), sess, handler))

	assert.Equal(t, StateActive, sess.State())
	entry, ok := reg.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, sess.ID, entry.SessionID)

	require.Equal(t, 1, store.createdCount())
	record := store.created[0]
	assert.Equal(t, sess.ID, record.ID)
	assert.Equal(t, domain.CallStatusInProgress, record.Status)
}

func TestStartCallFailureNeverRegisters(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	sess := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	handler := &fakeHandler{startErr: errors.New("dial refused")}

	err := r.StartCall(context.Background(), sess, handler)
	require.Error(t, err)

	assert.Equal(t, 0, reg.Len())
	_, stillKnown := r.Session(sess.ID)
	assert.False(t, stillKnown)

	// The failure is recorded as a terminal failed record.
	require.Equal(t, 1, store.createdCount())
	assert.Equal(t, domain.CallStatusFailed, store.created[0].Status)
	assert.Equal(t, domain.ReasonStartError, store.created[0].TerminationReason)
}

func TestStartCallEmptyAnswerFails(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	sess := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	handler := &fakeHandler{answer: ""}

	err := r.StartCall(context.Background(), sess, handler)
	require.Error(t, err)
	assert.Equal(t, 1, handler.stopCount())
	assert.Equal(t, 0, reg.Len())
}

func TestConnectReplayDoesNotDuplicate(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	first := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	require.NoError(t, r.StartCall(context.Background(), first, &fakeHandler{answer: "a"}))

	// A replayed connect allocates a new session but cannot register the
	// same provider call ID twice.
	second := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	replay := &fakeHandler{answer: "a"}
	err := r.StartCall(context.Background(), second, replay)
	require.Error(t, err)
	assert.Equal(t, 1, replay.stopCount())

	assert.Equal(t, 1, reg.Len())
	entry, _ := reg.Get("call-1")
	assert.Equal(t, first.ID, entry.SessionID)
	assert.Equal(t, StateActive, first.State())
}

func TestEndCallIdempotent(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	sess := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	handler := &fakeHandler{answer: "a", turnsVal: 3}
	require.NoError(t, r.StartCall(context.Background(), sess, handler))

	r.EndCall(context.Background(), sess.ID, domain.ReasonUserHangup)
	r.EndCall(context.Background(), sess.ID, domain.ReasonBridgeError)

	assert.Equal(t, 1, handler.stopCount())
	assert.Equal(t, 0, reg.Len())

	finals := store.finalizations(sess.ID)
	require.Len(t, finals, 1)
	assert.Equal(t, domain.CallStatusCompleted, finals[0].status)
	assert.Equal(t, domain.ReasonUserHangup, finals[0].reason)
	assert.Equal(t, 3, finals[0].turns)
}

func TestEndCallConcurrentSingleWinner(t *testing.T) {
	store := newFakeRecordStore()
	r, _ := newTestRunner(store)

	sess := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	handler := &fakeHandler{answer: "a"}
	require.NoError(t, r.StartCall(context.Background(), sess, handler))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.EndCall(context.Background(), sess.ID, domain.ReasonUserHangup)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, handler.stopCount())
	assert.Len(t, store.finalizations(sess.ID), 1)
}

func TestSendAudioOnlyWhenActive(t *testing.T) {
	store := newFakeRecordStore()
	r, _ := newTestRunner(store)

	// Unknown call: silent drop.
	r.SendAudio("nope", []byte{1})

	sess := r.CreateSession(SessionParams{ProviderCallID: "call-1"})
	handler := &fakeHandler{answer: "a"}
	require.NoError(t, r.StartCall(context.Background(), sess, handler))

	r.SendAudio("call-1", []byte{1, 2, 3})
	assert.Equal(t, 1, handler.frameCount())

	r.EndCall(context.Background(), sess.ID, domain.ReasonUserHangup)
	r.SendAudio("call-1", []byte{4})
	assert.Equal(t, 1, handler.frameCount())
}

func TestTerminateUnknownCallIsNoop(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	assert.False(t, r.EndCallByProviderID(context.Background(), "ghost", domain.ReasonUserHangup))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, store.createdCount())
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	const n = 20
	handlers := make([]*fakeHandler, n)
	sessions := make([]*CallSession, n)
	for i := 0; i < n; i++ {
		sess := r.CreateSession(SessionParams{ProviderCallID: fmt.Sprintf("call-%d", i)})
		handlers[i] = &fakeHandler{answer: "a"}
		sessions[i] = sess
		require.NoError(t, r.StartCall(context.Background(), sess, handlers[i]))
	}
	require.Equal(t, n, reg.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Shutdown(ctx)

	assert.Equal(t, 0, reg.Len())
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, handlers[i].stopCount(), "handler %d", i)
		finals := store.finalizations(sessions[i].ID)
		require.Len(t, finals, 1, "session %d", i)
		assert.Equal(t, domain.ReasonServerShutdown, finals[0].reason)
		assert.Equal(t, domain.CallStatusCompleted, finals[0].status)
	}
}

// wedgedHandler blocks in Stop until released, simulating a teardown that
// never returns.
type wedgedHandler struct {
	answer  string
	release chan struct{}
}

func (h *wedgedHandler) Start(context.Context) (string, error) { return h.answer, nil }
func (h *wedgedHandler) HandleAudio([]byte)                    {}
func (h *wedgedHandler) Stop()                                 { <-h.release }
func (h *wedgedHandler) Turns() int                            { return 0 }

func TestShutdownForceDropsWedgedSessions(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	good := r.CreateSession(SessionParams{ProviderCallID: "call-good"})
	goodHandler := &fakeHandler{answer: "a"}
	require.NoError(t, r.StartCall(context.Background(), good, goodHandler))

	wedged := r.CreateSession(SessionParams{ProviderCallID: "call-wedged"})
	wedgedH := &wedgedHandler{answer: "a", release: make(chan struct{})}
	require.NoError(t, r.StartCall(context.Background(), wedged, wedgedH))
	defer close(wedgedH.release)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	r.Shutdown(ctx)

	// The healthy call drained normally.
	assert.Equal(t, 1, goodHandler.stopCount())
	finals := store.finalizations(good.ID)
	require.Len(t, finals, 1)
	assert.Equal(t, domain.ReasonServerShutdown, finals[0].reason)

	// The wedged call was force-dropped at the deadline: no entry left,
	// no tracked session.
	assert.Equal(t, 0, reg.Len())
	_, known := r.Session(wedged.ID)
	assert.False(t, known)
	assert.Equal(t, StateEnded, wedged.State())
}

func TestEndCallRacingStartIsSafe(t *testing.T) {
	store := newFakeRecordStore()
	r, reg := newTestRunner(store)

	for i := 0; i < 50; i++ {
		sess := r.CreateSession(SessionParams{ProviderCallID: fmt.Sprintf("call-%d", i)})
		handler := &fakeHandler{answer: "a"}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.StartCall(context.Background(), sess, handler)
		}()
		go func() {
			defer wg.Done()
			r.EndCall(context.Background(), sess.ID, domain.ReasonBridgeError)
		}()
		wg.Wait()

		// Whichever side won, the session is gone, the registry is clean
		// and at most one finalization was written.
		r.EndCall(context.Background(), sess.ID, domain.ReasonUserHangup)
		_, known := r.Session(sess.ID)
		assert.False(t, known, "session %d still tracked", i)
		assert.LessOrEqual(t, len(store.finalizations(sess.ID)), 1, "session %d", i)
	}
	assert.Equal(t, 0, reg.Len())
}

func TestReasonStatusMapping(t *testing.T) {
	assert.Equal(t, domain.CallStatusCompleted, domain.ReasonUserHangup.StatusFor())
	assert.Equal(t, domain.CallStatusCompleted, domain.ReasonServerShutdown.StatusFor())
	assert.Equal(t, domain.CallStatusCompleted, domain.ReasonInactivityTimeout.StatusFor())
	assert.Equal(t, domain.CallStatusFailed, domain.ReasonBridgeError.StatusFor())
	assert.Equal(t, domain.CallStatusFailed, domain.ReasonStartError.StatusFor())
	assert.Equal(t, domain.CallStatusFailed, domain.ReasonNoIntegration.StatusFor())
}
