package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkgerrors "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// TransitionAudit is the GORM model for the circuit_breaker_events table.
type TransitionAudit struct {
	ID           int64     `gorm:"primaryKey;column:id"`
	EventID      string    `gorm:"column:event_id;size:36;not null;uniqueIndex"`
	DependencyID string    `gorm:"column:dependency_id;size:64;not null;index"`
	FromState    string    `gorm:"column:from_state;size:16;not null"`
	ToState      string    `gorm:"column:to_state;size:16;not null"`
	Trigger      string    `gorm:"column:trigger_type;size:32;not null"`
	Severity     string    `gorm:"column:severity;size:16;not null"`
	Reason       string    `gorm:"column:reason;size:512"`
	Details      string    `gorm:"column:details;type:json"` // JSON string
	EmittedAt    time.Time `gorm:"column:emitted_at;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (TransitionAudit) TableName() string {
	return "circuit_breaker_events"
}

type auditDetails struct {
	DependencyName             string `json:"dependency_name,omitempty"`
	Provider                   string `json:"provider,omitempty"`
	AutoRecoverable            bool   `json:"auto_recoverable"`
	RequiresManualIntervention bool   `json:"requires_manual_intervention"`
}

// AuditSink persists every transition to the registry database. Delivery is
// already asynchronous through EventNotifier, so writes happen inline.
type AuditSink struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewAuditSink creates an audit sink on db.
func NewAuditSink(db *gorm.DB, logger log.Logger) *AuditSink {
	return &AuditSink{
		db:     db,
		logger: log.NewHelper(log.With(logger, "module", "data/audit")),
	}
}

// Name implements EventSink.
func (s *AuditSink) Name() string { return "audit" }

// Deliver implements EventSink.
func (s *AuditSink) Deliver(ctx context.Context, e *model.StateTransitionEvent) error {
	details, err := json.Marshal(auditDetails{
		DependencyName:             e.DependencyName,
		Provider:                   e.Provider,
		AutoRecoverable:            e.AutoRecoverable,
		RequiresManualIntervention: e.RequiresManualIntervention,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	row := &TransitionAudit{
		EventID:      e.ID,
		DependencyID: e.DependencyID,
		FromState:    e.FromState,
		ToState:      e.ToState,
		Trigger:      e.Trigger,
		Severity:     e.Severity,
		Reason:       e.Reason,
		Details:      string(details),
		EmittedAt:    e.EmittedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		s.logger.Errorw("msg", "failed to write transition audit",
			"dependency_id", e.DependencyID,
			"event_id", e.ID,
			"error", dbErr)
		return dbErr
	}

	s.logger.Debugw("msg", "transition audit written",
		"dependency_id", e.DependencyID,
		"event_id", e.ID)
	return nil
}
