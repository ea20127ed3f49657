package entries

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubApprovals struct {
	logs []shared.ApprovalLog
}

func (s *stubApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	if err := shared.ValidateApproval(log); err != nil {
		return err
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *stubApprovals) History(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range s.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func draftRequest(statementID uuid.UUID) CreateRequest {
	account := uuid.New()
	return CreateRequest{
		FinancialStatementID: statementID,
		AccountID:            &account,
		AdjustmentType:       consol.AdjustmentReclassification,
		Amount:               decimal.RequireFromString("1250.456"),
		Description:          "Umgliederung Rückstellungen",
		HgbReference:         consol.Ref(consol.HgbOther),
		CreatedBy:            "u-anna",
	}
}

func TestEntryApprovalWorkflow(t *testing.T) {
	store := memstore.New()
	audit := &stubAudit{}
	approvals := &stubApprovals{}
	svc := NewService(store, lineage.NewTracker(store, nil), audit, approvals, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, draftRequest(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, consol.EntryDraft, entry.Status)
	require.Equal(t, consol.SourceManual, entry.Source)
	require.True(t, entry.Amount.Equal(decimal.RequireFromString("1250.46")))

	_, err = svc.Approve(ctx, entry.ID, Decision{Actor: "u-ben"})
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	pending, err := svc.Submit(ctx, entry.ID, "u-anna")
	require.NoError(t, err)
	require.Equal(t, consol.EntryPending, pending.Status)

	_, err = svc.Update(ctx, entry.ID, UpdateRequest{AccountID: entry.AccountID, Amount: decimal.NewFromInt(1), Description: "x", UpdatedBy: "u-anna"})
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	_, err = svc.Approve(ctx, entry.ID, Decision{Actor: "u-anna"})
	require.ErrorIs(t, err, consol.ErrFourEyes)

	approved, err := svc.Approve(ctx, entry.ID, Decision{Actor: "u-ben"})
	require.NoError(t, err)
	require.Equal(t, consol.EntryApproved, approved.Status)
	require.Equal(t, "u-ben", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	require.ErrorIs(t, svc.Delete(ctx, entry.ID, "u-anna"), consol.ErrInvalidTransition)

	actions := make([]shared.ApprovalAction, 0, len(approvals.logs))
	for _, l := range approvals.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove}, actions)
	require.Len(t, audit.logs, 3)

	history, err := svc.Approvals(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "u-ben", history[1].Actor)

	_, err = svc.Approvals(ctx, uuid.New())
	require.ErrorIs(t, err, consol.ErrNotFound)

	bare, err := NewService(store, nil, nil, nil, nil).Approvals(ctx, entry.ID)
	require.NoError(t, err)
	require.Empty(t, bare)
}

func TestEntryRejectAndReopen(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, nil, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, draftRequest(uuid.New()))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, entry.ID, "u-anna")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, entry.ID, Decision{Actor: "u-ben"})
	require.ErrorIs(t, err, consol.ErrValidation)

	rejected, err := svc.Reject(ctx, entry.ID, Decision{Actor: "u-ben", Reason: "Beleg fehlt"})
	require.NoError(t, err)
	require.Equal(t, consol.EntryRejected, rejected.Status)
	require.Equal(t, "Beleg fehlt", rejected.RejectionReason)

	draft, err := svc.Reopen(ctx, entry.ID, "u-anna")
	require.NoError(t, err)
	require.Equal(t, consol.EntryDraft, draft.Status)
	require.Empty(t, draft.RejectionReason)

	updated, err := svc.Update(ctx, entry.ID, UpdateRequest{
		AccountID:   entry.AccountID,
		Amount:      decimal.NewFromInt(900),
		Description: "Umgliederung Rückstellungen korrigiert",
		UpdatedBy:   "u-anna",
	})
	require.NoError(t, err)
	require.True(t, updated.Amount.Equal(decimal.NewFromInt(900)))

	require.NoError(t, svc.Delete(ctx, entry.ID, "u-anna"))
	_, err = store.GetConsolidationEntry(ctx, entry.ID)
	require.ErrorIs(t, err, consol.ErrNotFound)
}

func TestEntryReversalKeepsBothEntries(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, lineage.NewTracker(store, nil), nil, &stubApprovals{}, nil)
	ctx := context.Background()
	statementID := uuid.New()

	entry, err := svc.Create(ctx, draftRequest(statementID))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, entry.ID, "u-anna")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, entry.ID, Decision{Actor: "u-ben"})
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, entry.ID, Decision{Actor: "u-cem", Reason: "Fehlbuchung"})
	require.NoError(t, err)
	require.Equal(t, consol.EntryApproved, reversal.Status)
	require.True(t, reversal.Amount.Equal(entry.Amount.Neg()))
	require.Equal(t, entry.ID, *reversal.ReversesEntryID)
	require.Contains(t, reversal.Description, "Storno")

	original, err := store.GetConsolidationEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, consol.EntryReversed, original.Status)
	require.Equal(t, reversal.ID, *original.ReversedByEntryID)

	_, err = svc.Reverse(ctx, entry.ID, Decision{Actor: "u-cem"})
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	traces, err := store.ListLineageTraces(ctx, lineage.TraceFilter{TransformationType: lineage.TransformReversal})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.False(t, traces[0].IsReversible)

	all, err := svc.List(ctx, consol.EntryFilter{FinancialStatementID: statementID})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(memstore.New(), nil, nil, nil, nil)
	ctx := context.Background()

	cases := map[string]func(r *CreateRequest){
		"zero amount":    func(r *CreateRequest) { r.Amount = decimal.Zero },
		"no account":     func(r *CreateRequest) { r.AccountID = nil },
		"unknown type":   func(r *CreateRequest) { r.AdjustmentType = "magic" },
		"unknown hgb":    func(r *CreateRequest) { r.HgbReference = consol.Ref(consol.HgbReference("§999")) },
		"missing author": func(r *CreateRequest) { r.CreatedBy = "" },
		"same accounts": func(r *CreateRequest) {
			id := uuid.New()
			r.AccountID = nil
			r.DebitAccountID = &id
			r.CreditAccountID = &id
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := draftRequest(uuid.New())
			mutate(&req)
			_, err := svc.Create(ctx, req)
			require.ErrorIs(t, err, consol.ErrValidation)
		})
	}
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(consol.EntryDraft, consol.EntryPending))
	require.False(t, CanTransition(consol.EntryDraft, consol.EntryApproved))
	require.False(t, CanTransition(consol.EntryReversed, consol.EntryApproved))
}
