package lineage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// StatementReader resolves the fiscal year of an exported statement.
type StatementReader interface {
	GetFinancialStatement(ctx context.Context, id uuid.UUID) (consol.FinancialStatement, error)
}

// ExportSummary aggregates coverage figures of an audit trail.
type ExportSummary struct {
	TotalNodes           int              `json:"total_nodes"`
	TotalTraces          int              `json:"total_traces"`
	DocumentedPercentage decimal.Decimal  `json:"documented_percentage"`
	VerifiedPercentage   decimal.Decimal  `json:"verified_percentage"`
	NodesByType          map[NodeType]int `json:"nodes_by_type"`
}

// AuditTrail is the full lineage export of one statement.
type AuditTrail struct {
	FinancialStatementID uuid.UUID       `json:"financial_statement_id"`
	FiscalYear           int             `json:"fiscal_year,omitempty"`
	ExportedAt           time.Time       `json:"exported_at"`
	Nodes                []Node          `json:"nodes"`
	Traces               []Trace         `json:"traces"`
	Documentation        []Documentation `json:"documentation"`
	Summary              ExportSummary   `json:"summary"`
	Checksum             string          `json:"checksum"`
}

// Exporter assembles audit trail exports.
type Exporter struct {
	store      Store
	statements StatementReader
	logger     *slog.Logger
	now        func() time.Time
}

// NewExporter constructs an exporter. statements may be nil.
func NewExporter(store Store, statements StatementReader, logger *slog.Logger) *Exporter {
	return &Exporter{
		store:      store,
		statements: statements,
		logger:     logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the export timestamp source.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	if clock != nil {
		e.now = clock
	}
	return e
}

// Export collects nodes, active traces and documentation of a statement.
// A node counts as documented when documentation past the undocumented
// state exists for the node, its consolidation entry or its source entity.
func (e *Exporter) Export(ctx context.Context, statementID uuid.UUID) (AuditTrail, error) {
	if e == nil || e.store == nil {
		return AuditTrail{}, fmt.Errorf("lineage exporter not initialised")
	}
	trail := AuditTrail{
		FinancialStatementID: statementID,
		ExportedAt:           e.now(),
		Nodes:                []Node{},
		Traces:               []Trace{},
		Documentation:        []Documentation{},
	}
	if e.statements != nil {
		stmt, err := e.statements.GetFinancialStatement(ctx, statementID)
		switch {
		case err == nil:
			trail.FiscalYear = stmt.FiscalYear
		case errors.Is(err, consol.ErrNotFound):
			return AuditTrail{}, err
		default:
			return AuditTrail{}, fmt.Errorf("get statement: %w", err)
		}
	}

	nodes, err := e.store.ListLineageNodes(ctx, NodeFilter{FinancialStatementID: &statementID})
	if err != nil {
		return AuditTrail{}, fmt.Errorf("list lineage nodes: %w", err)
	}
	trail.Nodes = append(trail.Nodes, nodes...)
	if len(nodes) > 0 {
		ids := make([]uuid.UUID, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		traces, err := e.store.ListLineageTraces(ctx, TraceFilter{NodeIDs: ids})
		if err != nil {
			return AuditTrail{}, fmt.Errorf("list lineage traces: %w", err)
		}
		trail.Traces = append(trail.Traces, traces...)
	}
	docs, err := e.store.ListDocumentation(ctx, DocumentationFilter{FinancialStatementID: &statementID})
	if err != nil {
		return AuditTrail{}, fmt.Errorf("list documentation: %w", err)
	}
	trail.Documentation = append(trail.Documentation, docs...)
	trail.Summary = summarize(trail.Nodes, trail.Traces, trail.Documentation)

	sum, err := Checksum(trail)
	if err != nil {
		return AuditTrail{}, err
	}
	trail.Checksum = sum
	e.log().Info("exported audit trail",
		slog.String("statement_id", statementID.String()),
		slog.Int("nodes", trail.Summary.TotalNodes),
		slog.Int("traces", trail.Summary.TotalTraces))
	return trail, nil
}

func summarize(nodes []Node, traces []Trace, docs []Documentation) ExportSummary {
	summary := ExportSummary{
		TotalNodes:           len(nodes),
		TotalTraces:          len(traces),
		DocumentedPercentage: decimal.Zero,
		VerifiedPercentage:   decimal.Zero,
		NodesByType:          make(map[NodeType]int),
	}
	documented := make(map[uuid.UUID]DocStatus, len(docs))
	for _, d := range docs {
		if d.Status == DocUndocumented {
			continue
		}
		if prev, ok := documented[d.EntityID]; !ok || prev != DocVerified {
			documented[d.EntityID] = d.Status
		}
	}
	var docCount, verifiedCount int64
	for _, n := range nodes {
		summary.NodesByType[n.NodeType]++
		status, ok := nodeStatus(n, documented)
		if !ok {
			continue
		}
		docCount++
		if status == DocVerified {
			verifiedCount++
		}
	}
	if len(nodes) > 0 {
		total := decimal.NewFromInt(int64(len(nodes)))
		summary.DocumentedPercentage = consol.Percent(decimal.NewFromInt(docCount), total).Round(2)
		summary.VerifiedPercentage = consol.Percent(decimal.NewFromInt(verifiedCount), total).Round(2)
	}
	return summary
}

func nodeStatus(n Node, documented map[uuid.UUID]DocStatus) (DocStatus, bool) {
	candidates := []*uuid.UUID{&n.ID, n.ConsolidationEntryID, n.SourceEntityID}
	var best DocStatus
	found := false
	for _, id := range candidates {
		if id == nil {
			continue
		}
		status, ok := documented[*id]
		if !ok {
			continue
		}
		found = true
		if status == DocVerified {
			return status, true
		}
		best = status
	}
	return best, found
}

// Checksum hashes the trail without its checksum field using BLAKE2b-256.
func Checksum(trail AuditTrail) (string, error) {
	trail.Checksum = ""
	payload, err := json.Marshal(trail)
	if err != nil {
		return "", fmt.Errorf("marshal audit trail: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func (e *Exporter) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "lineage_export"))
	}
	return slog.Default().With(slog.String("component", "lineage_export"))
}
