// Package entries implements the approval workflow of consolidation entries:
// manual drafts, submission, four-eyes approval, rejection and reversal.
package entries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// ApprovalModule names the approval history module of entries.
	ApprovalModule = "consolidation_entry"
	// AuditEntity describes the audit entity for entry changes.
	AuditEntity = "consolidation_entries"

	AuditCreate  = "consolidation_entry_create"
	AuditUpdate  = "consolidation_entry_update"
	AuditDelete  = "consolidation_entry_delete"
	AuditSubmit  = "consolidation_entry_submit"
	AuditApprove = "consolidation_entry_approve"
	AuditReject  = "consolidation_entry_reject"
	AuditReverse = "consolidation_entry_reverse"
	AuditReopen  = "consolidation_entry_reopen"
)

var transitions = map[consol.EntryStatus][]consol.EntryStatus{
	consol.EntryDraft:    {consol.EntryPending},
	consol.EntryPending:  {consol.EntryApproved, consol.EntryRejected},
	consol.EntryApproved: {consol.EntryReversed},
	consol.EntryRejected: {consol.EntryDraft},
}

// CanTransition reports whether an entry may move between two states.
func CanTransition(from, to consol.EntryStatus) bool {
	return slices.Contains(transitions[from], to)
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalRecorder keeps the approval history of an entry.
type ApprovalRecorder interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// LineageTracker records lineage of manual entries and reversals.
type LineageTracker interface {
	consol.LineageTracker
	TrackReversal(ctx context.Context, original, reversal consol.ConsolidationEntry) (uuid.UUID, error)
}

// Service runs the entry workflow.
type Service struct {
	repo      consol.EntryStore
	lineage   LineageTracker
	audit     AuditRecorder
	approvals ApprovalRecorder
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the workflow. lineage, audit and approvals may be nil.
func NewService(repo consol.EntryStore, lineage LineageTracker, audit AuditRecorder, approvals ApprovalRecorder, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		lineage:   lineage,
		audit:     audit,
		approvals: approvals,
		validator: validator.New(),
		logger:    logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the approval timestamp source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Service) ready() error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("entry service not initialised")
	}
	return nil
}

func (s *Service) validate(v any) error {
	err := s.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", consol.ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", consol.ErrValidation, strings.Join(fields, ", "))
}

func checkPosting(accountID, debitID, creditID *uuid.UUID, amount string, zero bool) error {
	if zero {
		return fmt.Errorf("%w: amount must not be zero", consol.ErrValidation)
	}
	if accountID == nil && debitID == nil && creditID == nil {
		return fmt.Errorf("%w: entry of %s needs an account", consol.ErrValidation, amount)
	}
	if debitID != nil && creditID != nil && *debitID == *creditID {
		return fmt.Errorf("%w: debit and credit account must differ", consol.ErrValidation)
	}
	return nil
}

// Create stores a manual draft entry.
func (s *Service) Create(ctx context.Context, req CreateRequest) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := s.validate(req); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := checkPosting(req.AccountID, req.DebitAccountID, req.CreditAccountID, req.Amount.StringFixed(2), req.Amount.IsZero()); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry, err := s.repo.InsertConsolidationEntry(ctx, consol.ConsolidationEntry{
		FinancialStatementID: req.FinancialStatementID,
		AccountID:            req.AccountID,
		DebitAccountID:       req.DebitAccountID,
		CreditAccountID:      req.CreditAccountID,
		AdjustmentType:       req.AdjustmentType,
		Amount:               consol.Round2(req.Amount),
		Description:          req.Description,
		Status:               consol.EntryDraft,
		Source:               consol.SourceManual,
		HgbReference:         req.HgbReference,
		AffectedCompanyIDs:   req.AffectedCompanyIDs,
		CreatedBy:            req.CreatedBy,
	})
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	if s.lineage != nil {
		if _, err := s.lineage.TrackEntry(ctx, entry, nil); err != nil {
			s.log().Warn("track manual entry", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, req.CreatedBy, AuditCreate, entry, nil)
	return entry, nil
}

// Update edits a draft entry.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := s.validate(req); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := checkPosting(req.AccountID, req.DebitAccountID, req.CreditAccountID, req.Amount.StringFixed(2), req.Amount.IsZero()); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry, err := s.repo.GetConsolidationEntry(ctx, id)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if entry.Status != consol.EntryDraft {
		return consol.ConsolidationEntry{}, fmt.Errorf("update entry in state %s: %w", entry.Status, consol.ErrInvalidTransition)
	}
	entry.AccountID = req.AccountID
	entry.DebitAccountID = req.DebitAccountID
	entry.CreditAccountID = req.CreditAccountID
	entry.Amount = consol.Round2(req.Amount)
	entry.Description = req.Description
	entry.HgbReference = req.HgbReference
	entry.AffectedCompanyIDs = req.AffectedCompanyIDs
	updated, err := s.repo.UpdateConsolidationEntry(ctx, entry)
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("update entry: %w", err)
	}
	s.recordAudit(ctx, req.UpdatedBy, AuditUpdate, updated, nil)
	return updated, nil
}

// Delete removes a draft entry.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	if err := s.ready(); err != nil {
		return err
	}
	entry, err := s.repo.GetConsolidationEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != consol.EntryDraft {
		return fmt.Errorf("delete entry in state %s: %w", entry.Status, consol.ErrInvalidTransition)
	}
	if err := s.repo.DeleteConsolidationEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	s.recordAudit(ctx, actor, AuditDelete, entry, nil)
	return nil
}

// Submit hands a draft over for approval.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor string) (consol.ConsolidationEntry, error) {
	entry, err := s.transition(ctx, id, consol.EntryPending)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	updated, err := s.repo.UpdateConsolidationEntry(ctx, entry)
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("submit entry: %w", err)
	}
	s.recordApproval(ctx, shared.ApprovalSubmit, updated.ID, actor, "")
	s.recordAudit(ctx, actor, AuditSubmit, updated, nil)
	return updated, nil
}

// Approve releases a pending entry. The approver must not be its creator.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, d Decision) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := s.validate(d); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry, err := s.transition(ctx, id, consol.EntryApproved)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if entry.CreatedBy != "" && entry.CreatedBy == d.Actor {
		return consol.ConsolidationEntry{}, fmt.Errorf("approver %s created entry %s: %w", d.Actor, id, consol.ErrFourEyes)
	}
	now := s.now()
	entry.ApprovedBy = d.Actor
	entry.ApprovedAt = &now
	updated, err := s.repo.UpdateConsolidationEntry(ctx, entry)
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("approve entry: %w", err)
	}
	s.recordApproval(ctx, shared.ApprovalApprove, updated.ID, d.Actor, d.Reason)
	s.recordAudit(ctx, d.Actor, AuditApprove, updated, nil)
	return updated, nil
}

// Reject returns a pending entry with a reason.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, d Decision) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := s.validate(d); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if strings.TrimSpace(d.Reason) == "" {
		return consol.ConsolidationEntry{}, fmt.Errorf("%w: rejection reason is required", consol.ErrValidation)
	}
	entry, err := s.transition(ctx, id, consol.EntryRejected)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry.RejectionReason = d.Reason
	updated, err := s.repo.UpdateConsolidationEntry(ctx, entry)
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("reject entry: %w", err)
	}
	s.recordApproval(ctx, shared.ApprovalReject, updated.ID, d.Actor, d.Reason)
	s.recordAudit(ctx, d.Actor, AuditReject, updated, map[string]any{"reason": d.Reason})
	return updated, nil
}

// Reopen turns a rejected entry back into an editable draft.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actor string) (consol.ConsolidationEntry, error) {
	entry, err := s.transition(ctx, id, consol.EntryDraft)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry.RejectionReason = ""
	updated, err := s.repo.UpdateConsolidationEntry(ctx, entry)
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("reopen entry: %w", err)
	}
	s.recordAudit(ctx, actor, AuditReopen, updated, nil)
	return updated, nil
}

// Reverse books an approved offsetting entry and marks the original as
// reversed. Both entries stay stored.
func (s *Service) Reverse(ctx context.Context, id uuid.UUID, d Decision) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if err := s.validate(d); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	original, err := s.transition(ctx, id, consol.EntryReversed)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	now := s.now()
	description := "Storno: " + original.Description
	if d.Reason != "" {
		description += " (" + d.Reason + ")"
	}
	reversal, err := s.repo.InsertConsolidationEntry(ctx, consol.ConsolidationEntry{
		FinancialStatementID: original.FinancialStatementID,
		AccountID:            original.AccountID,
		DebitAccountID:       original.DebitAccountID,
		CreditAccountID:      original.CreditAccountID,
		AdjustmentType:       original.AdjustmentType,
		Amount:               original.Amount.Neg(),
		Description:          description,
		Status:               consol.EntryApproved,
		Source:               consol.SourceManual,
		HgbReference:         original.HgbReference,
		AffectedCompanyIDs:   slices.Clone(original.AffectedCompanyIDs),
		CreatedBy:            d.Actor,
		ApprovedBy:           d.Actor,
		ApprovedAt:           &now,
		ReversesEntryID:      consol.Ref(original.ID),
	})
	if err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("insert reversal: %w", err)
	}
	original.ReversedByEntryID = consol.Ref(reversal.ID)
	if _, err := s.repo.UpdateConsolidationEntry(ctx, original); err != nil {
		return consol.ConsolidationEntry{}, fmt.Errorf("mark entry reversed: %w", err)
	}
	if s.lineage != nil {
		if _, err := s.lineage.TrackReversal(ctx, original, reversal); err != nil {
			s.log().Warn("track reversal", slog.String("entry_id", reversal.ID.String()), slog.Any("error", err))
		}
	}
	s.recordApproval(ctx, shared.ApprovalReverse, original.ID, d.Actor, d.Reason)
	s.recordAudit(ctx, d.Actor, AuditReverse, original, map[string]any{"reversal_entry_id": reversal.ID.String()})
	return reversal, nil
}

// List returns entries matching the filter.
func (s *Service) List(ctx context.Context, filter consol.EntryFilter) ([]consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.repo.ListConsolidationEntries(ctx, filter)
}

// Approvals returns the approval steps of an entry, oldest first.
func (s *Service) Approvals(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetConsolidationEntry(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	history, err := s.approvals.History(ctx, ApprovalModule, id)
	if err != nil {
		return nil, fmt.Errorf("approvals of entry %s: %w", id, err)
	}
	if history == nil {
		history = []shared.ApprovalLog{}
	}
	return history, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to consol.EntryStatus) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	entry, err := s.repo.GetConsolidationEntry(ctx, id)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if !CanTransition(entry.Status, to) {
		return consol.ConsolidationEntry{}, fmt.Errorf("entry %s from %s to %s: %w", id, entry.Status, to, consol.ErrInvalidTransition)
	}
	entry.Status = to
	return entry, nil
}

func (s *Service) recordApproval(ctx context.Context, action shared.ApprovalAction, id uuid.UUID, actor, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module: ApprovalModule,
		RefID:  id,
		Actor:  actor,
		Action: action,
		Note:   note,
		At:     s.now(),
	}); err != nil {
		s.log().Warn("record approval", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, entry consol.ConsolidationEntry, extra map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.SystemActor
	}
	meta := map[string]any{
		"financial_statement_id": entry.FinancialStatementID.String(),
		"adjustment_type":        string(entry.AdjustmentType),
		"amount":                 entry.Amount.StringFixed(2),
		"status":                 string(entry.Status),
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   AuditEntity,
		EntityID: entry.ID.String(),
		Meta:     meta,
	}); err != nil {
		s.log().Warn("record entry audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol_entries"))
	}
	return slog.Default().With(slog.String("component", "consol_entries"))
}
