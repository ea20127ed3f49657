package lineage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/lineage"
)

func newNode(t *testing.T, r *lineage.Recorder, statementID uuid.UUID, name string, typ lineage.NodeType) lineage.Node {
	t.Helper()
	node, err := r.CreateNode(context.Background(), lineage.CreateNodeRequest{
		FinancialStatementID: statementID,
		NodeType:             typ,
		NodeName:             name,
		ValueAmount:          decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return node
}

func link(t *testing.T, r *lineage.Recorder, from, to lineage.Node) lineage.Trace {
	t.Helper()
	trace, err := r.CreateTrace(context.Background(), lineage.CreateTraceRequest{
		SourceNodeID:       from.ID,
		TargetNodeID:       to.ID,
		TransformationType: lineage.TransformSum,
	})
	require.NoError(t, err)
	return trace
}

func names(nodes []lineage.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.NodeName)
	}
	return out
}

func TestCreateNodeDefaultsAndValidation(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	statementID := uuid.New()

	node := newNode(t, r, statementID, "1200 Forderungen", lineage.NodeAccountBalance)
	require.Equal(t, lineage.DefaultCurrency, node.ValueCurrency)
	require.False(t, node.IsFinal)

	_, err := r.CreateNode(context.Background(), lineage.CreateNodeRequest{
		FinancialStatementID: statementID,
		NodeType:             "bogus",
		NodeName:             "x",
	})
	require.ErrorIs(t, err, consol.ErrValidation)

	_, err = r.CreateNode(context.Background(), lineage.CreateNodeRequest{NodeType: lineage.NodeSourceData, NodeName: "x"})
	require.ErrorIs(t, err, consol.ErrValidation)
}

func TestCreateNodesRejectsWholeBatch(t *testing.T) {
	store := memstore.New()
	r := lineage.NewRecorder(store, nil)
	statementID := uuid.New()

	_, err := r.CreateNodes(context.Background(), []lineage.CreateNodeRequest{
		{FinancialStatementID: statementID, NodeType: lineage.NodeSourceData, NodeName: "ok"},
		{FinancialStatementID: statementID, NodeType: lineage.NodeSourceData},
	})
	require.ErrorIs(t, err, consol.ErrValidation)

	nodes, err := r.Nodes(context.Background(), lineage.NodeFilter{FinancialStatementID: &statementID})
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestCreateTraceRejectsSelfLoop(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	node := newNode(t, r, uuid.New(), "a", lineage.NodeSourceData)

	_, err := r.CreateTrace(context.Background(), lineage.CreateTraceRequest{
		SourceNodeID:       node.ID,
		TargetNodeID:       node.ID,
		TransformationType: lineage.TransformSum,
	})
	require.ErrorIs(t, err, consol.ErrValidation)
}

func TestMarkFlagsKeepEachOther(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	node := newNode(t, r, uuid.New(), "a", lineage.NodeConsolidatedValue)

	final, err := r.MarkFinal(context.Background(), node.ID)
	require.NoError(t, err)
	require.True(t, final.IsFinal)
	audited, err := r.MarkAudited(context.Background(), node.ID)
	require.NoError(t, err)
	require.True(t, audited.IsAudited)
	require.True(t, audited.IsFinal)

	_, err = r.MarkFinal(context.Background(), uuid.New())
	require.ErrorIs(t, err, consol.ErrNotFound)
}

func TestTraversalReturnsRootsAndLeaves(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	statementID := uuid.New()
	a := newNode(t, r, statementID, "a", lineage.NodeSourceData)
	b := newNode(t, r, statementID, "b", lineage.NodeSourceData)
	c := newNode(t, r, statementID, "c", lineage.NodeIntercompanyElimination)
	d := newNode(t, r, statementID, "d", lineage.NodeConsolidatedValue)
	e := newNode(t, r, statementID, "e", lineage.NodeConsolidatedValue)
	link(t, r, a, c)
	link(t, r, b, c)
	link(t, r, a, d)
	link(t, r, c, d)
	link(t, r, c, e)

	sources, err := r.TraceToSources(context.Background(), d.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names(sources))

	targets, err := r.TraceToTargets(context.Background(), a.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"d", "e"}, names(targets))

	self, err := r.TraceToSources(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names(self))
}

func TestTraversalTerminatesOnCycles(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	statementID := uuid.New()
	root := newNode(t, r, statementID, "root", lineage.NodeSourceData)
	x := newNode(t, r, statementID, "x", lineage.NodeAggregation)
	y := newNode(t, r, statementID, "y", lineage.NodeAggregation)
	leaf := newNode(t, r, statementID, "leaf", lineage.NodeConsolidatedValue)
	link(t, r, root, x)
	link(t, r, x, y)
	link(t, r, y, x)
	link(t, r, y, leaf)

	sources, err := r.TraceToSources(context.Background(), leaf.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"root"}, names(sources))

	targets, err := r.TraceToTargets(context.Background(), root.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"leaf"}, names(targets))

	pure, err := r.TraceToSources(context.Background(), y.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"root"}, names(pure))
}

func TestReverseTraceDropsEdgeFromTraversal(t *testing.T) {
	at := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	r := lineage.NewRecorder(memstore.New(), nil).WithClock(func() time.Time { return at })
	statementID := uuid.New()
	a := newNode(t, r, statementID, "a", lineage.NodeSourceData)
	b := newNode(t, r, statementID, "b", lineage.NodeSourceData)
	c := newNode(t, r, statementID, "c", lineage.NodeConsolidatedValue)
	link(t, r, a, c)
	tb := link(t, r, b, c)

	reversed, err := r.ReverseTrace(context.Background(), tb.ID, nil)
	require.NoError(t, err)
	require.Equal(t, at, *reversed.ReversedAt)

	sources, err := r.TraceToSources(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names(sources))

	_, err = r.ReverseTrace(context.Background(), tb.ID, nil)
	require.ErrorIs(t, err, consol.ErrInvalidTransition)

	all, err := r.Traces(context.Background(), lineage.TraceFilter{TargetNodeID: &c.ID, IncludeReversed: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestReverseTraceRejectsIrreversible(t *testing.T) {
	r := lineage.NewRecorder(memstore.New(), nil)
	statementID := uuid.New()
	a := newNode(t, r, statementID, "a", lineage.NodeSourceData)
	b := newNode(t, r, statementID, "b", lineage.NodeConsolidatedValue)
	locked := false
	trace, err := r.CreateTrace(context.Background(), lineage.CreateTraceRequest{
		SourceNodeID:       a.ID,
		TargetNodeID:       b.ID,
		TransformationType: lineage.TransformImport,
		IsReversible:       &locked,
	})
	require.NoError(t, err)

	_, err = r.ReverseTrace(context.Background(), trace.ID, nil)
	require.ErrorIs(t, err, consol.ErrInvalidTransition)
}

func TestNodeTracesAndGraph(t *testing.T) {
	store := memstore.New()
	company := store.AddCompany(consol.Company{Name: "Alpha GmbH", IsConsolidated: true})
	r := lineage.NewRecorder(store, nil).WithCompanies(store)
	statementID := uuid.New()

	a, err := r.CreateNode(context.Background(), lineage.CreateNodeRequest{
		FinancialStatementID: statementID,
		CompanyID:            &company.ID,
		NodeType:             lineage.NodeAccountBalance,
		NodeName:             "1200 Forderungen",
		ValueAmount:          decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	b := newNode(t, r, statementID, "Schuldenkonsolidierung", lineage.NodeDebtConsolidation)
	c := newNode(t, r, statementID, "Konzernwert", lineage.NodeConsolidatedValue)
	link(t, r, a, b)
	_, err = r.CreateTrace(context.Background(), lineage.CreateTraceRequest{
		SourceNodeID:       b.ID,
		TargetNodeID:       c.ID,
		TransformationType: lineage.TransformOffset,
		Description:        "Aufrechnung",
	})
	require.NoError(t, err)

	around, err := r.NodeTraces(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, around.Incoming, 1)
	require.Len(t, around.Outgoing, 1)

	graph, err := r.BuildGraph(context.Background(), statementID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 3)
	require.Len(t, graph.Edges, 2)
	require.Equal(t, "Alpha GmbH", graph.Nodes[0].CompanyName)
	labels := []string{graph.Edges[0].Label, graph.Edges[1].Label}
	require.ElementsMatch(t, []string{"Summe", "Aufrechnung"}, labels)

	empty, err := r.BuildGraph(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, empty.Nodes)
	require.Empty(t, empty.Edges)
}

func TestTransformationLabel(t *testing.T) {
	require.Equal(t, "Eliminierung", lineage.TransformationLabel(lineage.TransformElimination))
	require.Equal(t, "Storno", lineage.TransformationLabel(lineage.TransformReversal))
	require.Equal(t, "custom", lineage.TransformationLabel("custom"))
}
