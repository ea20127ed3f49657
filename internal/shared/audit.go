package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SystemActor identifies audit records written by jobs and the pipeline.
const SystemActor = "system/job"

// AuditLog is one row of audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the columns audit_logs requires.
func (l AuditLog) Validate() error {
	var missing []string
	if l.Action == "" {
		missing = append(missing, "action")
	}
	if l.Entity == "" {
		missing = append(missing, "entity")
	}
	if l.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit log requires %v", missing)
	}
	return nil
}

// AuditLogger records workflow and pipeline actions in audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn Execer) *AuditLogger {
	return &AuditLogger{db: conn}
}

// Record persists the log entry. An empty actor is recorded as SystemActor
// and a zero time as the database clock.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.Actor == "" {
		log.Actor = SystemActor
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	if _, err := l.db.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("record audit %s %s: %w", log.Entity, log.Action, err)
	}
	return nil
}
