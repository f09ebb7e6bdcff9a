package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	PubID     string `mapstructure:"pub_id"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallUsageEvent models the per-call usage payload published when a call ends.
type CallUsageEvent struct {
	SessionID         string     `json:"session_id"`
	CompanyID         string     `json:"company_id"`
	ChatbotID         string     `json:"chatbot_id"`
	Channel           string     `json:"channel"`
	Provider          string     `json:"provider"`
	Status            string     `json:"status"`
	TerminationReason string     `json:"termination_reason"`
	StartAt           time.Time  `json:"start_at"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	DurationSeconds   int        `json:"duration_seconds"`
	TurnCount         int        `json:"turn_count"`
	CreatedAt         time.Time  `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallUsageEvent publishes a call usage event as JSON.
func (p *PubSubService) PublishCallUsageEvent(ctx context.Context, event CallUsageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal call usage event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type": "call_usage",
			"publisher":  p.config.PubID,
		},
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish call usage event: %w", err)
	}

	logger.Base().Info("Published call usage event",
		zap.String("session_id", event.SessionID),
		zap.String("company_id", event.CompanyID),
		zap.Int("duration_seconds", event.DurationSeconds))
	return nil
}

// Close releases the underlying client.
func (p *PubSubService) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
