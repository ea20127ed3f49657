package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApprovalAction enumerates the four-eyes workflow steps kept in approvals.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
	// ApprovalReverse marks the reversal of an approved entry.
	ApprovalReverse ApprovalAction = "REVERSE"
)

func (a ApprovalAction) valid() bool {
	switch a {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject, ApprovalReverse:
		return true
	}
	return false
}

// ApprovalLog is one step in the approval history of a record.
type ApprovalLog struct {
	ID     int64          `json:"id"`
	Module string         `json:"module"`
	RefID  uuid.UUID      `json:"ref_id"`
	Actor  string         `json:"actor"`
	Action ApprovalAction `json:"action"`
	Note   string         `json:"note,omitempty"`
	At     time.Time      `json:"at"`
}

// Querier reads and writes rows. *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	db     Querier
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(conn Querier, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{db: conn, logger: logger}
}

// ValidateApproval checks the mandatory fields of an approval record.
func ValidateApproval(log ApprovalLog) error {
	switch {
	case log.Module == "":
		return errors.New("approval module required")
	case log.Actor == "":
		return errors.New("approval actor required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case !log.Action.valid():
		return fmt.Errorf("approval action %q unknown", log.Action)
	}
	return nil
}

// Record appends one approval step.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := ValidateApproval(log); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.db.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.Actor, string(log.Action), log.Note, at)
	if err != nil {
		r.log().Error("record approval",
			slog.String("module", log.Module),
			slog.String("ref_id", log.RefID.String()),
			slog.Any("error", err))
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// History returns the approval steps of ref in the order they happened.
func (r *ApprovalRecorder) History(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT id, module, ref_id, actor, action, note, at
FROM approvals WHERE module = $1 AND ref_id = $2 ORDER BY at, id`, module, ref)
	if err != nil {
		return nil, fmt.Errorf("approval history: %w", err)
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.Actor, &action, &l.Note, &l.At); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *ApprovalRecorder) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger.With(slog.String("component", "approvals"))
	}
	return slog.Default().With(slog.String("component", "approvals"))
}
