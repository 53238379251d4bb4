package persistence

import (
	"context"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAuditRepository stores audit entries and alerts.
// Writes keyed by an event id are idempotent so redelivered outbox events add nothing.
type GormAuditRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB, logger *zap.Logger) *GormAuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormAuditRepository{db: db, logger: logger}
}

// Record appends an audit entry
func (r *GormAuditRepository) Record(ctx context.Context, entry *audit.Entry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

// Raise persists an alert and logs it for operators
func (r *GormAuditRepository) Raise(ctx context.Context, alert *audit.Alert) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(alert)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	fields := []zap.Field{
		zap.String("tenant_id", alert.TenantID.String()),
		zap.String("kind", string(alert.Kind)),
		zap.String("entity_type", alert.EntityType),
		zap.String("message", alert.Message),
	}
	if alert.EntityID != nil {
		fields = append(fields, zap.String("entity_id", alert.EntityID.String()))
	}
	switch alert.Severity {
	case audit.SeverityCritical:
		r.logger.Error("alert raised", fields...)
	case audit.SeverityWarning:
		r.logger.Warn("alert raised", fields...)
	default:
		r.logger.Info("alert raised", fields...)
	}
	return nil
}

// FindEntries returns the audit trail of an entity, oldest first
func (r *GormAuditRepository) FindEntries(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]audit.Entry, error) {
	var entries []audit.Entry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND entity_id = ?", tenantID, entityType, entityID).
		Order("created_at, id").
		Find(&entries).Error
	return entries, err
}

// FindAlerts returns alerts of one kind raised since the given time; an empty kind matches all
func (r *GormAuditRepository) FindAlerts(ctx context.Context, tenantID uuid.UUID, kind audit.AlertKind, since time.Time) ([]audit.Alert, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ?", tenantID, since)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var alerts []audit.Alert
	err := query.Order("created_at, id").Find(&alerts).Error
	return alerts, err
}

// Ensure GormAuditRepository implements the audit ports
var (
	_ audit.Sink  = (*GormAuditRepository)(nil)
	_ audit.Query = (*GormAuditRepository)(nil)
)
