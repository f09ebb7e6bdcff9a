package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/ClareAI/astra-call-orchestrator/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel   = "astra:call:session:cleanup"
	SessionKeyPrefix = "astra:call:session:info"
	SessionTTL       = 1 * time.Hour
)

// Info is the cross-pod presence record for one active call.
type Info struct {
	SessionID      string    `json:"sessionId"`
	ProviderCallID string    `json:"providerCallId"`
	PodID          string    `json:"podId"`
	CompanyID      string    `json:"companyId"`
	ChatbotID      string    `json:"chatbotId"`
	ChannelType    string    `json:"channelType"`
	StartTime      time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcasts. A pod that gets a
// terminate event for a call it does not own broadcasts the provider call
// ID so the owning pod can tear it down.
type CleanupMessage struct {
	ProviderCallID string `json:"providerCallId"`
	Reason         string `json:"reason"`
}

// Manager keeps cross-pod call presence in Redis and fans cleanup
// requests out over pub/sub.
type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

// NewManager creates a presence manager for this pod.
func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register records an active call in Redis with a safety TTL.
func (m *Manager) Register(ctx context.Context, info Info) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, info.SessionID)

	err := m.redisSvc.SetValue(ctx, key, string(data), SessionTTL)
	if err == nil {
		logger.Base().Info("Session registered in Redis",
			zap.String("session_id", info.SessionID),
			zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister drops the presence record for a call.
func (m *Manager) Unregister(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, sessionID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a teardown request to all pods.
func (m *Manager) NotifyCleanup(ctx context.Context, providerCallID, reason string) error {
	logger.Base().Info("Broadcasting cleanup request",
		zap.String("provider_call_id", providerCallID),
		zap.String("reason", reason))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{
		ProviderCallID: providerCallID,
		Reason:         reason,
	})
}

// SubscribeToCleanup listens for cleanup broadcasts from other pods.
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(providerCallID, reason string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.ProviderCallID, msg.Reason)
	})
}
