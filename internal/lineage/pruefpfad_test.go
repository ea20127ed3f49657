package lineage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
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

var (
	preparer = lineage.SignOffRequest{UserID: "u-anna", Name: "Anna Preparer"}
	reviewer = lineage.SignOffRequest{UserID: "u-ben", Name: "Ben Reviewer"}
	verifier = lineage.SignOffRequest{UserID: "u-cem", Name: "Cem Verifier"}
)

func documentedContent() lineage.DocumentationContent {
	return lineage.DocumentationContent{
		HgbSection: "§ 303 HGB",
		Summary:    "Schuldenkonsolidierung Alpha/Beta",
		Evidence: []lineage.Evidence{
			{Type: lineage.EvidenceConfirmation, Reference: "SK-2024-01"},
		},
		RiskLevel: lineage.RiskMedium,
	}
}

func createDoc(t *testing.T, svc *lineage.Pruefpfad, statementID uuid.UUID, content lineage.DocumentationContent) lineage.Documentation {
	t.Helper()
	doc, err := svc.Create(context.Background(), lineage.CreateDocumentationRequest{
		FinancialStatementID: statementID,
		EntityType:           "lineage_node",
		EntityID:             uuid.New(),
		Content:              content,
		Preparer:             preparer,
	})
	require.NoError(t, err)
	return doc
}

func TestPruefpfadFourEyesChain(t *testing.T) {
	audit := &stubAudit{}
	svc := lineage.NewPruefpfad(memstore.New(), audit, nil)
	doc := createDoc(t, svc, uuid.New(), documentedContent())
	require.Equal(t, lineage.DocDocumented, doc.Status)
	require.True(t, doc.Preparer.Signed())

	_, err := svc.Verify(context.Background(), doc.ID, verifier)
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	_, err = svc.Review(context.Background(), doc.ID, preparer)
	require.ErrorIs(t, err, consol.ErrFourEyes)

	reviewed, err := svc.Review(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, "u-ben", reviewed.Reviewer.UserID)

	_, err = svc.Verify(context.Background(), doc.ID, reviewer)
	require.ErrorIs(t, err, consol.ErrFourEyes)
	_, err = svc.Verify(context.Background(), doc.ID, preparer)
	require.ErrorIs(t, err, consol.ErrFourEyes)

	verified, err := svc.Verify(context.Background(), doc.ID, verifier)
	require.NoError(t, err)
	require.Equal(t, lineage.DocVerified, verified.Status)
	require.NotNil(t, verified.Verifier.At)

	_, err = svc.Update(context.Background(), doc.ID, documentedContent(), preparer)
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	actions := make([]string, 0, len(audit.logs))
	for _, l := range audit.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []string{
		lineage.AuditDocumentationCreate,
		lineage.AuditDocumentationReview,
		lineage.AuditDocumentationVerify,
	}, actions)
}

func TestPruefpfadFlagForReviewResetsSignOffs(t *testing.T) {
	svc := lineage.NewPruefpfad(memstore.New(), nil, nil)
	doc := createDoc(t, svc, uuid.New(), documentedContent())
	_, err := svc.Review(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), doc.ID, verifier)
	require.NoError(t, err)

	_, err = svc.FlagForReview(context.Background(), doc.ID, "u-dora", " ")
	require.ErrorIs(t, err, consol.ErrValidation)

	flagged, err := svc.FlagForReview(context.Background(), doc.ID, "u-dora", "Bestätigung fehlt")
	require.NoError(t, err)
	require.Equal(t, lineage.DocRequiresReview, flagged.Status)
	require.False(t, flagged.Reviewer.Signed())
	require.False(t, flagged.Verifier.Signed())
	require.Contains(t, flagged.ComplianceNotes, "Bestätigung fehlt")

	_, err = svc.Review(context.Background(), doc.ID, reviewer)
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	updated, err := svc.Update(context.Background(), doc.ID, documentedContent(), preparer)
	require.NoError(t, err)
	require.Equal(t, lineage.DocDocumented, updated.Status)
}

func TestPruefpfadContentStatusAndValidation(t *testing.T) {
	svc := lineage.NewPruefpfad(memstore.New(), nil, nil)
	statementID := uuid.New()

	empty := createDoc(t, svc, statementID, lineage.DocumentationContent{})
	require.Equal(t, lineage.DocUndocumented, empty.Status)
	partial := createDoc(t, svc, statementID, lineage.DocumentationContent{Summary: "Entwurf"})
	require.Equal(t, lineage.DocPartiallyDocumented, partial.Status)

	_, err := svc.FlagForReview(context.Background(), empty.ID, "u-dora", "leer")
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	_, err = svc.Create(context.Background(), lineage.CreateDocumentationRequest{
		FinancialStatementID: statementID,
		EntityType:           "lineage_node",
		EntityID:             uuid.New(),
		Content: lineage.DocumentationContent{
			Evidence: []lineage.Evidence{{Type: "hearsay", Reference: "x"}},
		},
		Preparer: preparer,
	})
	require.ErrorIs(t, err, consol.ErrValidation)

	_, err = svc.Create(context.Background(), lineage.CreateDocumentationRequest{
		FinancialStatementID: statementID,
		EntityType:           "lineage_node",
		EntityID:             uuid.New(),
	})
	require.ErrorIs(t, err, consol.ErrValidation)
}

func TestPruefpfadStats(t *testing.T) {
	svc := lineage.NewPruefpfad(memstore.New(), nil, nil)
	statementID := uuid.New()
	createDoc(t, svc, statementID, documentedContent())
	createDoc(t, svc, statementID, documentedContent())
	createDoc(t, svc, statementID, lineage.DocumentationContent{Summary: "Entwurf", RiskLevel: lineage.RiskHigh})
	createDoc(t, svc, uuid.New(), documentedContent())

	stats, err := svc.Stats(context.Background(), statementID)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.ByStatus[lineage.DocDocumented])
	require.Equal(t, 1, stats.ByStatus[lineage.DocPartiallyDocumented])
	require.Equal(t, 2, stats.ByHgbSection["§ 303 HGB"])
	require.Equal(t, 1, stats.ByRiskLevel[lineage.RiskHigh])
	require.Equal(t, 2, stats.ByRiskLevel[lineage.RiskMedium])
}

func TestCanTransition(t *testing.T) {
	require.True(t, lineage.CanTransition(lineage.DocDocumented, lineage.DocVerified))
	require.False(t, lineage.CanTransition(lineage.DocUndocumented, lineage.DocVerified))
	require.False(t, lineage.CanTransition(lineage.DocVerified, lineage.DocDocumented))
	require.True(t, lineage.CanTransition(lineage.DocRequiresReview, lineage.DocDocumented))
}
