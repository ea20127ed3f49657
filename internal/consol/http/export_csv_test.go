package http

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/lineage"
)

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("client went away")
	}
	f.after--
	return len(p), nil
}

func TestWriteAuditTrailCSVSurfacesWriteErrors(t *testing.T) {
	trail := lineage.AuditTrail{FinancialStatementID: uuid.New(), FiscalYear: 2024}
	err := WriteAuditTrailCSV(&failingWriter{}, trail)
	require.ErrorContains(t, err, "client went away")
}

func TestWriteAuditTrailCSVEmptyTrail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuditTrailCSV(&buf, lineage.AuditTrail{FinancialStatementID: uuid.New(), FiscalYear: 2024}))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 4+2+2+1)
	require.Equal(t, strings.Join(nodeColumns, ","), lines[4])
	require.Equal(t, strings.Repeat(",", len(nodeColumns)-1), lines[5])
	require.Equal(t, strings.Join(docColumns, ","), lines[8])
}

func TestWriteAuditTrailCSV(t *testing.T) {
	statementID := uuid.MustParse("7d7b5d1e-2f4f-4d0e-9c1a-1f1f1f1f1f1f")
	source := uuid.New()
	target := uuid.New()
	amount := decimal.RequireFromString("-10000")
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	trail := lineage.AuditTrail{
		FinancialStatementID: statementID,
		FiscalYear:           2024,
		ExportedAt:           at,
		Nodes: []lineage.Node{
			{ID: source, NodeType: lineage.NodeAccountBalance, NodeCode: "AB-1200", NodeName: "Forderungen", AccountCode: "1200", ValueAmount: decimal.NewFromInt(10000), ValueCurrency: "EUR"},
			{ID: target, NodeType: lineage.NodeDebtConsolidation, NodeCode: "DC-1", NodeName: "Schuldenkonsolidierung", HgbSection: "§303", ValueAmount: amount, ValueCurrency: "EUR", IsFinal: true},
		},
		Traces: []lineage.Trace{
			{ID: uuid.New(), SourceNodeID: source, TargetNodeID: target, TransformationType: lineage.TransformElimination, ContributionAmount: &amount, SequenceOrder: 1},
		},
		Documentation: []lineage.Documentation{
			{ID: uuid.New(), EntityType: "lineage_node", EntityID: target, Status: lineage.DocDocumented, HgbSection: "§303", RiskLevel: lineage.RiskMedium,
				Preparer: lineage.SignOff{UserID: "u-anna", Name: "Anna Berger", At: &at}},
		},
		Summary:  lineage.ExportSummary{TotalNodes: 2, TotalTraces: 1, DocumentedPercentage: decimal.NewFromInt(50), VerifiedPercentage: decimal.Zero},
		Checksum: "abc123",
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAuditTrailCSV(&buf, trail))

	content := buf.String()
	lines := strings.Split(strings.TrimSuffix(content, "\r\n"), "\r\n")
	require.Equal(t, "# Report: Konzern Prüfpfad", lines[0])
	require.Equal(t, "# Statement: 7d7b5d1e-2f4f-4d0e-9c1a-1f1f1f1f1f1f | Fiscal year: 2024 | Exported: 2025-03-01T09:00:00Z", lines[1])
	require.Equal(t, "# Nodes: 2 | Traces: 1 | Documented: 50.00% | Verified: 0.00%", lines[2])
	require.Equal(t, "# Checksum: abc123", lines[3])
	require.True(t, strings.HasPrefix(lines[4], "Section,Node ID,Type"))
	require.Contains(t, content, "NODE,"+target.String()+",debt_consolidation,DC-1,Schuldenkonsolidierung,,§303,-10000.00,EUR,false,true")
	require.Contains(t, content, ",-10000.00,,1,")
	require.Contains(t, content, "DOC,")
	require.Contains(t, content, "Anna Berger (2025-03-01)")
}
