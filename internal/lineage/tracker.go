package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

var nodeTypeByAdjustment = map[consol.AdjustmentType]NodeType{
	consol.AdjustmentCapitalConsolidation: NodeCapitalConsolidation,
	consol.AdjustmentDebtConsolidation:    NodeDebtConsolidation,
	consol.AdjustmentIntercompanyProfit:   NodeIntercompanyElimination,
	consol.AdjustmentIncomeExpense:        NodeIntercompanyElimination,
	consol.AdjustmentElimination:          NodeIntercompanyElimination,
	consol.AdjustmentCurrencyTranslation:  NodeCurrencyTranslation,
	consol.AdjustmentDeferredTax:          NodeDeferredTax,
	consol.AdjustmentMinorityInterest:     NodeMinorityInterest,
	consol.AdjustmentReclassification:     NodeReclassification,
	consol.AdjustmentOther:                NodeAggregation,
}

// nodeTypeByReference takes precedence over the adjustment type for methods
// that share adjustment types with other steps.
var nodeTypeByReference = map[consol.HgbReference]NodeType{
	consol.Hgb309: NodeValuationAdjustment,
	consol.Hgb310: NodeProportionalShare,
	consol.Hgb312: NodeEquityMethod,
}

var transformationByAdjustment = map[consol.AdjustmentType]TransformationType{
	consol.AdjustmentElimination:          TransformElimination,
	consol.AdjustmentIntercompanyProfit:   TransformElimination,
	consol.AdjustmentIncomeExpense:        TransformElimination,
	consol.AdjustmentReclassification:     TransformMapping,
	consol.AdjustmentCurrencyTranslation:  TransformMultiply,
	consol.AdjustmentCapitalConsolidation: TransformOffset,
	consol.AdjustmentDebtConsolidation:    TransformOffset,
	consol.AdjustmentMinorityInterest:     TransformPercentage,
}

var hgbSections = map[consol.HgbReference]string{
	consol.Hgb301:   "§ 301 HGB",
	consol.Hgb303:   "§ 303 HGB",
	consol.Hgb304:   "§ 304 HGB",
	consol.Hgb305:   "§ 305 HGB",
	consol.Hgb306:   "§ 306 HGB",
	consol.Hgb307:   "§ 307 HGB",
	consol.Hgb308:   "§ 308 HGB",
	consol.Hgb308a:  "§ 308a HGB",
	consol.Hgb309:   "§ 309 HGB",
	consol.Hgb310:   "§ 310 HGB",
	consol.Hgb312:   "§ 312 HGB",
	consol.HgbOther: "Sonstige",
}

// NodeTypeFor maps an entry to the lineage node type that represents it.
func NodeTypeFor(entry consol.ConsolidationEntry) NodeType {
	if entry.HgbReference != nil {
		if t, ok := nodeTypeByReference[*entry.HgbReference]; ok {
			return t
		}
	}
	if t, ok := nodeTypeByAdjustment[entry.AdjustmentType]; ok {
		return t
	}
	return NodeAggregation
}

// TransformationFor maps an adjustment type to the trace transformation.
func TransformationFor(t consol.AdjustmentType) TransformationType {
	if tt, ok := transformationByAdjustment[t]; ok {
		return tt
	}
	return TransformSum
}

// HgbSection renders a reference the way lineage nodes display it.
func HgbSection(ref *consol.HgbReference) string {
	if ref == nil {
		return ""
	}
	if s, ok := hgbSections[*ref]; ok {
		return s
	}
	return string(*ref)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// ConsolidatedValue is a final consolidated figure for one account.
type ConsolidatedValue struct {
	AccountID   uuid.UUID
	AccountCode string
	AccountName string
	Amount      decimal.Decimal
	HgbSection  string
	FiscalYear  int
	Sources     []consol.LineageSource
}

// Tracker turns generated entries and consolidated figures into lineage
// nodes and traces.
type Tracker struct {
	store  GraphStore
	logger *slog.Logger
}

// NewTracker constructs a tracker.
func NewTracker(store GraphStore, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// TrackEntry creates the node of an entry and one trace per contributing
// source. Source nodes already recorded for the statement are reused.
func (t *Tracker) TrackEntry(ctx context.Context, entry consol.ConsolidationEntry, sources []consol.LineageSource) (uuid.UUID, error) {
	if t == nil || t.store == nil {
		return uuid.Nil, fmt.Errorf("lineage tracker not initialised")
	}
	node := Node{
		FinancialStatementID: entry.FinancialStatementID,
		NodeType:             NodeTypeFor(entry),
		NodeCode:             "CE-" + shortID(entry.ID),
		NodeName:             entry.Description,
		ValueAmount:          consol.Round2(entry.Amount),
		ValueCurrency:        DefaultCurrency,
		AccountID:            entry.TargetAccountID(),
		SourceEntityType:     consol.EntityConsolidationEntry,
		SourceEntityID:       consol.Ref(entry.ID),
		ConsolidationEntryID: consol.Ref(entry.ID),
		HgbSection:           HgbSection(entry.HgbReference),
	}
	if len(entry.AffectedCompanyIDs) > 0 {
		node.CompanyID = consol.Ref(entry.AffectedCompanyIDs[0])
	}
	stored, err := t.store.InsertLineageNode(ctx, node)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert entry node: %w", err)
	}
	if len(sources) == 0 {
		return stored.ID, nil
	}

	transformation := TransformationFor(entry.AdjustmentType)
	traces := make([]Trace, 0, len(sources))
	cache := make(map[string]uuid.UUID)
	for i, src := range sources {
		sourceID, err := t.sourceNode(ctx, entry.FinancialStatementID, src, cache)
		if err != nil {
			return stored.ID, err
		}
		if sourceID == stored.ID {
			continue
		}
		trace := Trace{
			SourceNodeID:         sourceID,
			TargetNodeID:         stored.ID,
			TransformationType:   transformation,
			Description:          fmt.Sprintf("%s: %s", TransformationLabel(transformation), src.Name),
			ContributionAmount:   consol.Ref(consol.Round2(src.Value)),
			ConsolidationEntryID: consol.Ref(entry.ID),
			SequenceOrder:        i,
			IsReversible:         true,
		}
		if !entry.Amount.IsZero() {
			trace.ContributionPercentage = consol.Ref(consol.Percent(src.Value.Abs(), entry.Amount.Abs()))
		}
		traces = append(traces, trace)
	}
	if _, err := t.store.InsertLineageTraces(ctx, traces); err != nil {
		return stored.ID, fmt.Errorf("insert entry traces: %w", err)
	}
	return stored.ID, nil
}

// TrackReversal records the reversing entry and links it to the node of the
// entry it offsets with a reversal trace.
func (t *Tracker) TrackReversal(ctx context.Context, original, reversal consol.ConsolidationEntry) (uuid.UUID, error) {
	if t == nil || t.store == nil {
		return uuid.Nil, fmt.Errorf("lineage tracker not initialised")
	}
	nodeID, err := t.TrackEntry(ctx, reversal, nil)
	if err != nil {
		return uuid.Nil, err
	}
	cache := make(map[string]uuid.UUID)
	originID, err := t.sourceNode(ctx, original.FinancialStatementID, consol.EntrySourceOf(original), cache)
	if err != nil {
		return nodeID, err
	}
	if _, err := t.store.InsertLineageTrace(ctx, Trace{
		SourceNodeID:         originID,
		TargetNodeID:         nodeID,
		TransformationType:   TransformReversal,
		Description:          fmt.Sprintf("%s: %s", TransformationLabel(TransformReversal), original.Description),
		Factor:               consol.Ref(decimal.NewFromInt(-1)),
		ContributionAmount:   consol.Ref(consol.Round2(original.Amount)),
		ConsolidationEntryID: consol.Ref(reversal.ID),
		IsReversible:         false,
	}); err != nil {
		return nodeID, fmt.Errorf("insert reversal trace: %w", err)
	}
	return nodeID, nil
}

// TrackAccountBalance returns the node of a standalone balance within the
// consolidated statement, creating it on first use.
func (t *Tracker) TrackAccountBalance(ctx context.Context, statementID uuid.UUID, b consol.AccountBalance) (Node, error) {
	if t == nil || t.store == nil {
		return Node{}, fmt.Errorf("lineage tracker not initialised")
	}
	existing, ok, err := t.findByEntity(ctx, statementID, consol.EntityAccountBalance, b.ID)
	if err != nil || ok {
		return existing, err
	}
	node := t.sourceNodeFor(statementID, consol.BalanceSource(b))
	node.AccountID = consol.Ref(b.AccountID)
	stored, err := t.store.InsertLineageNode(ctx, node)
	if err != nil {
		return Node{}, fmt.Errorf("insert balance node: %w", err)
	}
	return stored, nil
}

// TrackConsolidatedValues records one final node per account. A final node
// whose amount did not change is reused; a changed figure gets a new final
// node and the previous one loses its final flag.
func (t *Tracker) TrackConsolidatedValues(ctx context.Context, statementID uuid.UUID, values []ConsolidatedValue) ([]Node, error) {
	if t == nil || t.store == nil {
		return nil, fmt.Errorf("lineage tracker not initialised")
	}
	final := true
	current, err := t.store.ListLineageNodes(ctx, NodeFilter{
		FinancialStatementID: &statementID,
		NodeType:             NodeConsolidatedValue,
		IsFinal:              &final,
	})
	if err != nil {
		return nil, fmt.Errorf("list consolidated values: %w", err)
	}
	byAccount := make(map[uuid.UUID]Node, len(current))
	for _, n := range current {
		if n.AccountID != nil {
			byAccount[*n.AccountID] = n
		}
	}

	out := make([]Node, 0, len(values))
	cache := make(map[string]uuid.UUID)
	for _, v := range values {
		amount := consol.Round2(v.Amount)
		if prev, ok := byAccount[v.AccountID]; ok {
			if prev.ValueAmount.Equal(amount) {
				out = append(out, prev)
				continue
			}
			if _, err := t.store.UpdateLineageNodeFlags(ctx, prev.ID, prev.IsAudited, false); err != nil {
				return out, fmt.Errorf("retire consolidated value %s: %w", prev.ID, err)
			}
		}
		node, err := t.store.InsertLineageNode(ctx, Node{
			FinancialStatementID: statementID,
			NodeType:             NodeConsolidatedValue,
			NodeCode:             "KW-" + v.AccountCode,
			NodeName:             fmt.Sprintf("%s %s", v.AccountCode, v.AccountName),
			ValueAmount:          amount,
			ValueCurrency:        DefaultCurrency,
			AccountID:            consol.Ref(v.AccountID),
			AccountCode:          v.AccountCode,
			HgbSection:           v.HgbSection,
			FiscalYear:           v.FiscalYear,
			IsFinal:              true,
		})
		if err != nil {
			return out, fmt.Errorf("insert consolidated value: %w", err)
		}
		traces := make([]Trace, 0, len(v.Sources))
		for i, src := range v.Sources {
			sourceID, err := t.sourceNode(ctx, statementID, src, cache)
			if err != nil {
				return out, err
			}
			traces = append(traces, Trace{
				SourceNodeID:       sourceID,
				TargetNodeID:       node.ID,
				TransformationType: TransformSum,
				Description:        "Konsolidierte Summe",
				ContributionAmount: consol.Ref(consol.Round2(src.Value)),
				SequenceOrder:      i,
				IsReversible:       true,
			})
		}
		if len(traces) > 0 {
			if _, err := t.store.InsertLineageTraces(ctx, traces); err != nil {
				return out, fmt.Errorf("insert consolidated value traces: %w", err)
			}
		}
		out = append(out, node)
	}
	t.log().Info("tracked consolidated values",
		slog.String("statement_id", statementID.String()),
		slog.Int("values", len(out)))
	return out, nil
}

func (t *Tracker) sourceNode(ctx context.Context, statementID uuid.UUID, src consol.LineageSource, cache map[string]uuid.UUID) (uuid.UUID, error) {
	if src.NodeID != nil {
		return *src.NodeID, nil
	}
	key := src.EntityType + ":" + src.EntityID.String()
	if id, ok := cache[key]; ok {
		return id, nil
	}
	existing, ok, err := t.findByEntity(ctx, statementID, src.EntityType, src.EntityID)
	if err != nil {
		return uuid.Nil, err
	}
	if ok {
		cache[key] = existing.ID
		return existing.ID, nil
	}
	node, err := t.store.InsertLineageNode(ctx, t.sourceNodeFor(statementID, src))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert source node: %w", err)
	}
	cache[key] = node.ID
	return node.ID, nil
}

func (t *Tracker) sourceNodeFor(statementID uuid.UUID, src consol.LineageSource) Node {
	node := Node{
		FinancialStatementID: statementID,
		CompanyID:            src.CompanyID,
		NodeType:             NodeSourceData,
		NodeCode:             fmt.Sprintf("SRC-%s-%s", src.EntityType, shortID(src.EntityID)),
		NodeName:             src.Name,
		ValueAmount:          consol.Round2(src.Value),
		ValueCurrency:        DefaultCurrency,
		AccountCode:          src.AccountCode,
		SourceEntityType:     src.EntityType,
		SourceEntityID:       consol.Ref(src.EntityID),
	}
	if src.EntityType == consol.EntityAccountBalance {
		node.NodeType = NodeAccountBalance
		node.NodeCode = "AB-" + shortID(src.EntityID)
	}
	return node
}

func (t *Tracker) findByEntity(ctx context.Context, statementID uuid.UUID, entityType string, entityID uuid.UUID) (Node, bool, error) {
	nodes, err := t.store.ListLineageNodes(ctx, NodeFilter{
		FinancialStatementID: &statementID,
		SourceEntityType:     entityType,
		SourceEntityID:       &entityID,
	})
	if err != nil {
		return Node{}, false, fmt.Errorf("find %s node: %w", entityType, err)
	}
	if len(nodes) == 0 {
		return Node{}, false, nil
	}
	return nodes[len(nodes)-1], true, nil
}

func (t *Tracker) log() *slog.Logger {
	if t != nil && t.logger != nil {
		return t.logger.With(slog.String("component", "lineage_tracker"))
	}
	return slog.Default().With(slog.String("component", "lineage_tracker"))
}

var _ consol.LineageTracker = (*Tracker)(nil)
