// Package lineage records how every consolidated figure was derived and
// carries the Prüfpfad audit documentation attached to it.
package lineage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NodeType classifies a value in the derivation graph.
type NodeType string

const (
	NodeSourceData              NodeType = "source_data"
	NodeAccountBalance          NodeType = "account_balance"
	NodeAggregation             NodeType = "aggregation"
	NodeIntercompanyElimination NodeType = "intercompany_elimination"
	NodeCapitalConsolidation    NodeType = "capital_consolidation"
	NodeDebtConsolidation       NodeType = "debt_consolidation"
	NodeCurrencyTranslation     NodeType = "currency_translation"
	NodeMinorityInterest        NodeType = "minority_interest"
	NodeDeferredTax             NodeType = "deferred_tax"
	NodeConsolidatedValue       NodeType = "consolidated_value"
	NodeReclassification        NodeType = "reclassification"
	NodeValuationAdjustment     NodeType = "valuation_adjustment"
	NodeProportionalShare       NodeType = "proportional_share"
	NodeEquityMethod            NodeType = "equity_method"
)

// TransformationType describes how a source value flows into a target.
type TransformationType string

const (
	TransformImport       TransformationType = "import"
	TransformManualEntry  TransformationType = "manual_entry"
	TransformSum          TransformationType = "sum"
	TransformSubtract     TransformationType = "subtract"
	TransformMultiply     TransformationType = "multiply"
	TransformPercentage   TransformationType = "percentage"
	TransformElimination  TransformationType = "elimination"
	TransformOffset       TransformationType = "offset"
	TransformAllocation   TransformationType = "allocation"
	TransformReversal     TransformationType = "reversal"
	TransformCarryForward TransformationType = "carry_forward"
	TransformProRata      TransformationType = "pro_rata"
	TransformMapping      TransformationType = "mapping"
)

// DefaultCurrency is used when a node carries no explicit currency.
const DefaultCurrency = "EUR"

// Node is a value at one point of the derivation graph. Nodes are append-only;
// only the audited and final flags change after creation.
type Node struct {
	ID                   uuid.UUID        `json:"id"`
	FinancialStatementID uuid.UUID        `json:"financial_statement_id"`
	CompanyID            *uuid.UUID       `json:"company_id,omitempty"`
	NodeType             NodeType         `json:"node_type"`
	NodeCode             string           `json:"node_code"`
	NodeName             string           `json:"node_name"`
	ValueAmount          decimal.Decimal  `json:"value_amount"`
	ValueCurrency        string           `json:"value_currency"`
	ValueInGroupCurrency *decimal.Decimal `json:"value_in_group_currency,omitempty"`
	AccountID            *uuid.UUID       `json:"account_id,omitempty"`
	AccountCode          string           `json:"account_code"`
	SourceEntityType     string           `json:"source_entity_type"`
	SourceEntityID       *uuid.UUID       `json:"source_entity_id,omitempty"`
	ConsolidationEntryID *uuid.UUID       `json:"consolidation_entry_id,omitempty"`
	HgbSection           string           `json:"hgb_section"`
	FiscalYear           int              `json:"fiscal_year"`
	ReportingPeriod      string           `json:"reporting_period"`
	IsAudited            bool             `json:"is_audited"`
	IsFinal              bool             `json:"is_final"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Trace is a directed edge from a source node to a target node.
type Trace struct {
	ID                     uuid.UUID          `json:"id"`
	SourceNodeID           uuid.UUID          `json:"source_node_id"`
	TargetNodeID           uuid.UUID          `json:"target_node_id"`
	TransformationType     TransformationType `json:"transformation_type"`
	Description            string             `json:"description"`
	Factor                 *decimal.Decimal   `json:"factor,omitempty"`
	Formula                string             `json:"formula"`
	ContributionAmount     *decimal.Decimal   `json:"contribution_amount,omitempty"`
	ContributionPercentage *decimal.Decimal   `json:"contribution_percentage,omitempty"`
	ConsolidationEntryID   *uuid.UUID         `json:"consolidation_entry_id,omitempty"`
	SequenceOrder          int                `json:"sequence_order"`
	IsReversible           bool               `json:"is_reversible"`
	ReversedAt             *time.Time         `json:"reversed_at,omitempty"`
	ReversedByTraceID      *uuid.UUID         `json:"reversed_by_trace_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
}

// Active reports whether the trace has not been soft-reversed.
func (t Trace) Active() bool {
	return t.ReversedAt == nil
}

// NodeFilter narrows node queries.
type NodeFilter struct {
	FinancialStatementID *uuid.UUID
	CompanyID            *uuid.UUID
	NodeType             NodeType
	AccountID            *uuid.UUID
	HgbSection           string
	SourceEntityType     string
	SourceEntityID       *uuid.UUID
	ConsolidationEntryID *uuid.UUID
	IsAudited            *bool
	IsFinal              *bool
}

// TraceFilter narrows trace queries. NodeIDs matches traces touching any of
// the nodes at either end.
type TraceFilter struct {
	SourceNodeID         *uuid.UUID
	TargetNodeID         *uuid.UUID
	NodeIDs              []uuid.UUID
	TransformationType   TransformationType
	ConsolidationEntryID *uuid.UUID
	IncludeReversed      bool
}

// NodeStore persists lineage nodes. GetLineageNode returns consol.ErrNotFound
// for unknown ids.
type NodeStore interface {
	InsertLineageNode(ctx context.Context, node Node) (Node, error)
	InsertLineageNodes(ctx context.Context, nodes []Node) ([]Node, error)
	GetLineageNode(ctx context.Context, id uuid.UUID) (Node, error)
	ListLineageNodes(ctx context.Context, filter NodeFilter) ([]Node, error)
	UpdateLineageNodeFlags(ctx context.Context, id uuid.UUID, audited, final bool) (Node, error)
}

// TraceStore persists lineage traces. Traces are never deleted.
type TraceStore interface {
	InsertLineageTrace(ctx context.Context, trace Trace) (Trace, error)
	InsertLineageTraces(ctx context.Context, traces []Trace) ([]Trace, error)
	GetLineageTrace(ctx context.Context, id uuid.UUID) (Trace, error)
	ListLineageTraces(ctx context.Context, filter TraceFilter) ([]Trace, error)
	UpdateLineageTrace(ctx context.Context, trace Trace) (Trace, error)
}

// DocumentationStore persists Prüfpfad documentation.
type DocumentationStore interface {
	InsertDocumentation(ctx context.Context, doc Documentation) (Documentation, error)
	GetDocumentation(ctx context.Context, id uuid.UUID) (Documentation, error)
	ListDocumentation(ctx context.Context, filter DocumentationFilter) ([]Documentation, error)
	UpdateDocumentation(ctx context.Context, doc Documentation) (Documentation, error)
}

// Store aggregates the lineage persistence contracts.
type Store interface {
	NodeStore
	TraceStore
	DocumentationStore
}
