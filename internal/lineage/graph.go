package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

var transformationLabels = map[TransformationType]string{
	TransformImport:       "Import",
	TransformManualEntry:  "Manuelle Eingabe",
	TransformSum:          "Summe",
	TransformSubtract:     "Subtraktion",
	TransformMultiply:     "Multiplikation",
	TransformPercentage:   "Prozent",
	TransformElimination:  "Eliminierung",
	TransformOffset:       "Verrechnung",
	TransformAllocation:   "Zuordnung",
	TransformReversal:     "Storno",
	TransformCarryForward: "Vortrag",
	TransformProRata:      "Anteilig",
	TransformMapping:      "Mapping",
}

// TransformationLabel returns the German display label of a transformation.
func TransformationLabel(t TransformationType) string {
	if label, ok := transformationLabels[t]; ok {
		return label
	}
	return string(t)
}

// GraphNode is a node as rendered by graph views.
type GraphNode struct {
	ID          uuid.UUID       `json:"id"`
	Type        NodeType        `json:"type"`
	Label       string          `json:"label"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency"`
	CompanyName string          `json:"company_name,omitempty"`
	AccountCode string          `json:"account_code,omitempty"`
	HgbSection  string          `json:"hgb_section,omitempty"`
	IsAudited   bool            `json:"is_audited"`
	IsFinal     bool            `json:"is_final"`
}

// GraphEdge is an active trace as rendered by graph views.
type GraphEdge struct {
	ID                     uuid.UUID          `json:"id"`
	Source                 uuid.UUID          `json:"source"`
	Target                 uuid.UUID          `json:"target"`
	TransformationType     TransformationType `json:"transformation_type"`
	Label                  string             `json:"label"`
	ContributionAmount     *decimal.Decimal   `json:"contribution_amount,omitempty"`
	ContributionPercentage *decimal.Decimal   `json:"contribution_percentage,omitempty"`
}

// Graph is the node and edge set of one statement.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// WithCompanies lets BuildGraph resolve company names.
func (r *Recorder) WithCompanies(companies consol.CompanyReader) *Recorder {
	r.companies = companies
	return r
}

// BuildGraph returns every node of the statement and the active traces
// touching them.
func (r *Recorder) BuildGraph(ctx context.Context, statementID uuid.UUID) (Graph, error) {
	if err := r.ready(); err != nil {
		return Graph{}, err
	}
	nodes, err := r.store.ListLineageNodes(ctx, NodeFilter{FinancialStatementID: &statementID})
	if err != nil {
		return Graph{}, fmt.Errorf("list lineage nodes: %w", err)
	}
	graph := Graph{Nodes: make([]GraphNode, 0, len(nodes)), Edges: []GraphEdge{}}
	if len(nodes) == 0 {
		return graph, nil
	}
	ids := make([]uuid.UUID, 0, len(nodes))
	names := make(map[uuid.UUID]string)
	for _, n := range nodes {
		ids = append(ids, n.ID)
		gn := GraphNode{
			ID:          n.ID,
			Type:        n.NodeType,
			Label:       n.NodeName,
			Value:       n.ValueAmount,
			Currency:    n.ValueCurrency,
			AccountCode: n.AccountCode,
			HgbSection:  n.HgbSection,
			IsAudited:   n.IsAudited,
			IsFinal:     n.IsFinal,
		}
		if n.CompanyID != nil {
			gn.CompanyName, err = r.companyName(ctx, *n.CompanyID, names)
			if err != nil {
				return Graph{}, err
			}
		}
		graph.Nodes = append(graph.Nodes, gn)
	}
	traces, err := r.store.ListLineageTraces(ctx, TraceFilter{NodeIDs: ids})
	if err != nil {
		return Graph{}, fmt.Errorf("list lineage traces: %w", err)
	}
	for _, t := range traces {
		label := t.Description
		if label == "" {
			label = TransformationLabel(t.TransformationType)
		}
		graph.Edges = append(graph.Edges, GraphEdge{
			ID:                     t.ID,
			Source:                 t.SourceNodeID,
			Target:                 t.TargetNodeID,
			TransformationType:     t.TransformationType,
			Label:                  label,
			ContributionAmount:     t.ContributionAmount,
			ContributionPercentage: t.ContributionPercentage,
		})
	}
	return graph, nil
}

func (r *Recorder) companyName(ctx context.Context, id uuid.UUID, cache map[uuid.UUID]string) (string, error) {
	if r.companies == nil {
		return "", nil
	}
	if name, ok := cache[id]; ok {
		return name, nil
	}
	company, err := r.companies.GetCompany(ctx, id)
	if errors.Is(err, consol.ErrNotFound) {
		cache[id] = ""
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get company %s: %w", id, err)
	}
	cache[id] = company.Name
	return company.Name, nil
}
