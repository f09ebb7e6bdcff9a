package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// callRecordRepository handles database operations for call records
type callRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) CallRecordRepository {
	return &callRecordRepository{db: db}
}

// Create creates a new call record
func (r *callRecordRepository) Create(ctx context.Context, record *domain.CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.ProviderCallID == "" {
		return fmt.Errorf("provider call ID cannot be empty")
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}
	if record.Status == "" {
		record.Status = domain.CallStatusInProgress
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// Finalize closes out a call record exactly once. The status guard keeps a
// second termination from overwriting the first outcome.
func (r *callRecordRepository) Finalize(ctx context.Context, id string, status domain.CallStatus, reason domain.TerminationReason, endedAt time.Time, turnCount int) error {
	var record domain.CallRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("call record %s not found", id)
		}
		return fmt.Errorf("failed to load call record: %w", err)
	}
	if record.Status.IsTerminal() {
		return nil
	}

	duration := 0
	if !record.StartedAt.IsZero() && endedAt.After(record.StartedAt) {
		duration = int(endedAt.Sub(record.StartedAt).Seconds())
	}

	result := r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("id = ? AND status NOT IN ?", id, []domain.CallStatus{domain.CallStatusCompleted, domain.CallStatusFailed}).
		Updates(map[string]interface{}{
			"status":             status,
			"termination_reason": reason,
			"ended_at":           endedAt,
			"duration_seconds":   duration,
			"turn_count":         turnCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize call record: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a call record by its session ID
func (r *callRecordRepository) GetByID(ctx context.Context, id string) (*domain.CallRecord, error) {
	var record domain.CallRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

// GetByProviderCallID retrieves a call record by the channel provider's call ID
func (r *callRecordRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallRecord, error) {
	var record domain.CallRecord
	if err := r.db.WithContext(ctx).Where("provider_call_id = ?", providerCallID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record by provider call ID: %w", err)
	}
	return &record, nil
}
