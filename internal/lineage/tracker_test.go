package lineage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/lineage"
)

func balance(companyID uuid.UUID, number string, amount int64) consol.AccountBalance {
	return consol.AccountBalance{
		ID:            uuid.New(),
		CompanyID:     companyID,
		AccountID:     uuid.New(),
		AccountNumber: number,
		AccountName:   "Konto " + number,
		Balance:       decimal.NewFromInt(amount),
	}
}

func TestNodeTypeFor(t *testing.T) {
	cases := []struct {
		name  string
		entry consol.ConsolidationEntry
		want  lineage.NodeType
	}{
		{"capital", consol.ConsolidationEntry{AdjustmentType: consol.AdjustmentCapitalConsolidation}, lineage.NodeCapitalConsolidation},
		{"income expense", consol.ConsolidationEntry{AdjustmentType: consol.AdjustmentIncomeExpense}, lineage.NodeIntercompanyElimination},
		{"other", consol.ConsolidationEntry{AdjustmentType: consol.AdjustmentOther}, lineage.NodeAggregation},
		{"equity method", consol.ConsolidationEntry{AdjustmentType: consol.AdjustmentOther, HgbReference: consol.Ref(consol.Hgb312)}, lineage.NodeEquityMethod},
		{"quota", consol.ConsolidationEntry{AdjustmentType: consol.AdjustmentElimination, HgbReference: consol.Ref(consol.Hgb310)}, lineage.NodeProportionalShare},
		{"unknown", consol.ConsolidationEntry{AdjustmentType: "future"}, lineage.NodeAggregation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, lineage.NodeTypeFor(tc.entry))
		})
	}
	require.Equal(t, lineage.TransformOffset, lineage.TransformationFor(consol.AdjustmentDebtConsolidation))
	require.Equal(t, lineage.TransformSum, lineage.TransformationFor(consol.AdjustmentDeferredTax))
	require.Equal(t, "§ 308a HGB", lineage.HgbSection(consol.Ref(consol.Hgb308a)))
	require.Empty(t, lineage.HgbSection(nil))
}

func TestTrackEntryReusesSourceNodes(t *testing.T) {
	store := memstore.New()
	tracker := lineage.NewTracker(store, nil)
	statementID := uuid.New()
	parent, sub := uuid.New(), uuid.New()
	receivable := balance(parent, "1200", 10000)
	payable := balance(sub, "3300", -10000)

	first := consol.ConsolidationEntry{
		ID:                   uuid.New(),
		FinancialStatementID: statementID,
		AccountID:            consol.Ref(receivable.AccountID),
		AdjustmentType:       consol.AdjustmentDebtConsolidation,
		Amount:               decimal.NewFromInt(-10000),
		Description:          "Schuldenkonsolidierung Forderung",
		HgbReference:         consol.Ref(consol.Hgb303),
		AffectedCompanyIDs:   []uuid.UUID{parent, sub},
	}
	nodeID, err := tracker.TrackEntry(context.Background(), first, []consol.LineageSource{
		consol.BalanceSource(receivable),
		consol.BalanceSource(payable),
	})
	require.NoError(t, err)

	node, err := store.GetLineageNode(context.Background(), nodeID)
	require.NoError(t, err)
	require.Equal(t, lineage.NodeDebtConsolidation, node.NodeType)
	require.Equal(t, "§ 303 HGB", node.HgbSection)
	require.Equal(t, parent, *node.CompanyID)
	require.Equal(t, "CE-"+first.ID.String()[:8], node.NodeCode)

	traces, err := store.ListLineageTraces(context.Background(), lineage.TraceFilter{TargetNodeID: &nodeID})
	require.NoError(t, err)
	require.Len(t, traces, 2)
	require.Equal(t, lineage.TransformOffset, traces[0].TransformationType)
	require.True(t, traces[0].ContributionPercentage.Equal(decimal.NewFromInt(100)))

	second := first
	second.ID = uuid.New()
	second.AccountID = consol.Ref(payable.AccountID)
	second.Amount = decimal.NewFromInt(10000)
	_, err = tracker.TrackEntry(context.Background(), second, []consol.LineageSource{consol.BalanceSource(payable)})
	require.NoError(t, err)

	balances, err := store.ListLineageNodes(context.Background(), lineage.NodeFilter{
		FinancialStatementID: &statementID,
		NodeType:             lineage.NodeAccountBalance,
	})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	require.Equal(t, "AB-"+payable.ID.String()[:8], balances[1].NodeCode)
}

func TestTrackEntryChainsDeferredTaxToOrigin(t *testing.T) {
	store := memstore.New()
	tracker := lineage.NewTracker(store, nil)
	statementID := uuid.New()
	origin := consol.ConsolidationEntry{
		ID:                   uuid.New(),
		FinancialStatementID: statementID,
		AdjustmentType:       consol.AdjustmentCapitalConsolidation,
		Amount:               decimal.NewFromInt(-50000),
		Description:          "Kapitalkonsolidierung",
	}
	originNode, err := tracker.TrackEntry(context.Background(), origin, nil)
	require.NoError(t, err)

	tax := consol.ConsolidationEntry{
		ID:                   uuid.New(),
		FinancialStatementID: statementID,
		AdjustmentType:       consol.AdjustmentDeferredTax,
		Amount:               decimal.NewFromInt(15000),
		Description:          "Latente Steuern (Aktiv)",
		HgbReference:         consol.Ref(consol.Hgb306),
	}
	taxNode, err := tracker.TrackEntry(context.Background(), tax, []consol.LineageSource{consol.EntrySourceOf(origin)})
	require.NoError(t, err)

	sources, err := lineage.NewRecorder(store, nil).TraceToSources(context.Background(), taxNode)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, originNode, sources[0].ID)
}

func TestTrackConsolidatedValuesReusesUnchanged(t *testing.T) {
	store := memstore.New()
	tracker := lineage.NewTracker(store, nil)
	statementID := uuid.New()
	b := balance(uuid.New(), "0800", 250000)

	balanceNode, err := tracker.TrackAccountBalance(context.Background(), statementID, b)
	require.NoError(t, err)
	again, err := tracker.TrackAccountBalance(context.Background(), statementID, b)
	require.NoError(t, err)
	require.Equal(t, balanceNode.ID, again.ID)
	require.Equal(t, b.AccountID, *balanceNode.AccountID)

	value := lineage.ConsolidatedValue{
		AccountID:   b.AccountID,
		AccountCode: "0800",
		AccountName: "Gezeichnetes Kapital",
		Amount:      decimal.NewFromInt(250000),
		FiscalYear:  2024,
		Sources:     []consol.LineageSource{consol.BalanceSource(b)},
	}
	first, err := tracker.TrackConsolidatedValues(context.Background(), statementID, []lineage.ConsolidatedValue{value})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, first[0].IsFinal)

	same, err := tracker.TrackConsolidatedValues(context.Background(), statementID, []lineage.ConsolidatedValue{value})
	require.NoError(t, err)
	require.Equal(t, first[0].ID, same[0].ID)

	value.Amount = decimal.NewFromInt(200000)
	changed, err := tracker.TrackConsolidatedValues(context.Background(), statementID, []lineage.ConsolidatedValue{value})
	require.NoError(t, err)
	require.NotEqual(t, first[0].ID, changed[0].ID)

	old, err := store.GetLineageNode(context.Background(), first[0].ID)
	require.NoError(t, err)
	require.False(t, old.IsFinal)

	sources, err := lineage.NewRecorder(store, nil).TraceToSources(context.Background(), changed[0].ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, balanceNode.ID, sources[0].ID)
}
