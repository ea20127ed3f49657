package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/konzern/internal/lineage"
)

const nodeColumns = `id, financial_statement_id, company_id, node_type, node_code, node_name, value_amount, value_currency, value_in_group_currency,
account_id, account_code, source_entity_type, source_entity_id, consolidation_entry_id, hgb_section, fiscal_year, reporting_period,
is_audited, is_final, created_at, updated_at`

const insertNode = `INSERT INTO lineage_nodes (id, financial_statement_id, company_id, node_type, node_code, node_name, value_amount, value_currency,
value_in_group_currency, account_id, account_code, source_entity_type, source_entity_id, consolidation_entry_id, hgb_section, fiscal_year,
reporting_period, is_audited, is_final)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING ` + nodeColumns

func scanNode(row pgx.Row) (lineage.Node, error) {
	var (
		n   lineage.Node
		typ string
	)
	err := row.Scan(&n.ID, &n.FinancialStatementID, &n.CompanyID, &typ, &n.NodeCode, &n.NodeName, &n.ValueAmount, &n.ValueCurrency, &n.ValueInGroupCurrency,
		&n.AccountID, &n.AccountCode, &n.SourceEntityType, &n.SourceEntityID, &n.ConsolidationEntryID, &n.HgbSection, &n.FiscalYear, &n.ReportingPeriod,
		&n.IsAudited, &n.IsFinal, &n.CreatedAt, &n.UpdatedAt)
	n.NodeType = lineage.NodeType(typ)
	return n, err
}

func nodeArgs(n lineage.Node) []any {
	return []any{n.ID, n.FinancialStatementID, n.CompanyID, string(n.NodeType), n.NodeCode, n.NodeName, n.ValueAmount, n.ValueCurrency,
		n.ValueInGroupCurrency, n.AccountID, n.AccountCode, n.SourceEntityType, n.SourceEntityID, n.ConsolidationEntryID, n.HgbSection, n.FiscalYear,
		n.ReportingPeriod, n.IsAudited, n.IsFinal}
}

func (s *Store) InsertLineageNode(ctx context.Context, node lineage.Node) (lineage.Node, error) {
	if err := s.ready(); err != nil {
		return lineage.Node{}, err
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	stored, err := scanNode(s.db.QueryRow(ctx, insertNode, nodeArgs(node)...))
	if err != nil {
		return lineage.Node{}, wrap(err, "insert lineage node")
	}
	return stored, nil
}

// InsertLineageNodes writes all nodes in one batch. Callers needing
// all-or-nothing semantics run it inside WithTx.
func (s *Store) InsertLineageNodes(ctx context.Context, nodes []lineage.Node) ([]lineage.Node, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	for _, n := range nodes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		batch.Queue(insertNode, nodeArgs(n)...)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]lineage.Node, 0, len(nodes))
	for range nodes {
		n, err := scanNode(results.QueryRow())
		if err != nil {
			return out, wrap(err, "insert lineage nodes")
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) GetLineageNode(ctx context.Context, id uuid.UUID) (lineage.Node, error) {
	if err := s.ready(); err != nil {
		return lineage.Node{}, err
	}
	n, err := scanNode(s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM lineage_nodes WHERE id = $1`, id))
	if err != nil {
		return lineage.Node{}, wrap(err, "lineage node %s", id)
	}
	return n, nil
}

func (s *Store) ListLineageNodes(ctx context.Context, f lineage.NodeFilter) ([]lineage.Node, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if f.FinancialStatementID != nil {
		w.add("financial_statement_id = $%d", *f.FinancialStatementID)
	}
	if f.CompanyID != nil {
		w.add("company_id = $%d", *f.CompanyID)
	}
	if f.NodeType != "" {
		w.add("node_type = $%d", string(f.NodeType))
	}
	if f.AccountID != nil {
		w.add("account_id = $%d", *f.AccountID)
	}
	if f.HgbSection != "" {
		w.add("hgb_section = $%d", f.HgbSection)
	}
	if f.SourceEntityType != "" {
		w.add("source_entity_type = $%d", f.SourceEntityType)
	}
	if f.SourceEntityID != nil {
		w.add("source_entity_id = $%d", *f.SourceEntityID)
	}
	if f.ConsolidationEntryID != nil {
		w.add("consolidation_entry_id = $%d", *f.ConsolidationEntryID)
	}
	if f.IsAudited != nil {
		w.add("is_audited = $%d", *f.IsAudited)
	}
	if f.IsFinal != nil {
		w.add("is_final = $%d", *f.IsFinal)
	}
	rows, err := s.db.Query(ctx, `SELECT `+nodeColumns+` FROM lineage_nodes`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list lineage nodes")
	}
	defer rows.Close()
	out := make([]lineage.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLineageNodeFlags(ctx context.Context, id uuid.UUID, audited, final bool) (lineage.Node, error) {
	if err := s.ready(); err != nil {
		return lineage.Node{}, err
	}
	n, err := scanNode(s.db.QueryRow(ctx, `UPDATE lineage_nodes SET is_audited = $2, is_final = $3, updated_at = NOW()
WHERE id = $1 RETURNING `+nodeColumns, id, audited, final))
	if err != nil {
		return lineage.Node{}, wrap(err, "update lineage node %s", id)
	}
	return n, nil
}

const traceColumns = `id, source_node_id, target_node_id, transformation_type, description, factor, formula, contribution_amount,
contribution_percentage, consolidation_entry_id, sequence_order, is_reversible, reversed_at, reversed_by_trace_id, created_at`

const insertTrace = `INSERT INTO lineage_traces (id, source_node_id, target_node_id, transformation_type, description, factor, formula,
contribution_amount, contribution_percentage, consolidation_entry_id, sequence_order, is_reversible, reversed_at, reversed_by_trace_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + traceColumns

func scanTrace(row pgx.Row) (lineage.Trace, error) {
	var (
		t   lineage.Trace
		typ string
	)
	err := row.Scan(&t.ID, &t.SourceNodeID, &t.TargetNodeID, &typ, &t.Description, &t.Factor, &t.Formula, &t.ContributionAmount,
		&t.ContributionPercentage, &t.ConsolidationEntryID, &t.SequenceOrder, &t.IsReversible, &t.ReversedAt, &t.ReversedByTraceID, &t.CreatedAt)
	t.TransformationType = lineage.TransformationType(typ)
	return t, err
}

func traceArgs(t lineage.Trace) []any {
	return []any{t.ID, t.SourceNodeID, t.TargetNodeID, string(t.TransformationType), t.Description, t.Factor, t.Formula,
		t.ContributionAmount, t.ContributionPercentage, t.ConsolidationEntryID, t.SequenceOrder, t.IsReversible, t.ReversedAt, t.ReversedByTraceID}
}

func (s *Store) InsertLineageTrace(ctx context.Context, trace lineage.Trace) (lineage.Trace, error) {
	if err := s.ready(); err != nil {
		return lineage.Trace{}, err
	}
	if trace.ID == uuid.Nil {
		trace.ID = uuid.New()
	}
	stored, err := scanTrace(s.db.QueryRow(ctx, insertTrace, traceArgs(trace)...))
	if err != nil {
		return lineage.Trace{}, wrap(err, "insert lineage trace")
	}
	return stored, nil
}

func (s *Store) InsertLineageTraces(ctx context.Context, traces []lineage.Trace) ([]lineage.Trace, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	for _, t := range traces {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		batch.Queue(insertTrace, traceArgs(t)...)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]lineage.Trace, 0, len(traces))
	for range traces {
		t, err := scanTrace(results.QueryRow())
		if err != nil {
			return out, wrap(err, "insert lineage traces")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetLineageTrace(ctx context.Context, id uuid.UUID) (lineage.Trace, error) {
	if err := s.ready(); err != nil {
		return lineage.Trace{}, err
	}
	t, err := scanTrace(s.db.QueryRow(ctx, `SELECT `+traceColumns+` FROM lineage_traces WHERE id = $1`, id))
	if err != nil {
		return lineage.Trace{}, wrap(err, "lineage trace %s", id)
	}
	return t, nil
}

// ListLineageTraces returns active traces unless IncludeReversed is set.
func (s *Store) ListLineageTraces(ctx context.Context, f lineage.TraceFilter) ([]lineage.Trace, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if f.SourceNodeID != nil {
		w.add("source_node_id = $%d", *f.SourceNodeID)
	}
	if f.TargetNodeID != nil {
		w.add("target_node_id = $%d", *f.TargetNodeID)
	}
	if len(f.NodeIDs) > 0 {
		w.add("(source_node_id = ANY($%[1]d) OR target_node_id = ANY($%[1]d))", f.NodeIDs)
	}
	if f.TransformationType != "" {
		w.add("transformation_type = $%d", string(f.TransformationType))
	}
	if f.ConsolidationEntryID != nil {
		w.add("consolidation_entry_id = $%d", *f.ConsolidationEntryID)
	}
	if !f.IncludeReversed {
		w.raw("reversed_at IS NULL")
	}
	rows, err := s.db.Query(ctx, `SELECT `+traceColumns+` FROM lineage_traces`+w.String()+` ORDER BY sequence_order, created_at, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list lineage traces")
	}
	defer rows.Close()
	out := make([]lineage.Trace, 0)
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateLineageTrace persists the reversal fields; every other column is immutable.
func (s *Store) UpdateLineageTrace(ctx context.Context, trace lineage.Trace) (lineage.Trace, error) {
	if err := s.ready(); err != nil {
		return lineage.Trace{}, err
	}
	t, err := scanTrace(s.db.QueryRow(ctx, `UPDATE lineage_traces SET reversed_at = $2, reversed_by_trace_id = $3
WHERE id = $1 RETURNING `+traceColumns, trace.ID, trace.ReversedAt, trace.ReversedByTraceID))
	if err != nil {
		return lineage.Trace{}, wrap(err, "update lineage trace %s", trace.ID)
	}
	return t, nil
}

const docColumns = `id, financial_statement_id, entity_type, entity_id, status, hgb_section, hgb_requirement, compliance_notes,
working_paper_ref, audit_program_ref, summary, detailed_description, calculation_basis, assumptions, evidence, risk_level,
material_risk_factors, prepared_by, prepared_by_name, prepared_at, preparer_notes, reviewed_by, reviewed_by_name, reviewed_at,
reviewer_notes, verified_by, verified_by_name, verified_at, verifier_notes, created_at, updated_at`

func scanDoc(row pgx.Row) (lineage.Documentation, error) {
	var (
		d                    lineage.Documentation
		status, risk         string
		evidence             []byte
		prep, review, verify lineage.SignOff
	)
	err := row.Scan(&d.ID, &d.FinancialStatementID, &d.EntityType, &d.EntityID, &status, &d.HgbSection, &d.HgbRequirement, &d.ComplianceNotes,
		&d.WorkingPaperRef, &d.AuditProgramRef, &d.Summary, &d.DetailedDescription, &d.CalculationBasis, &d.Assumptions, &evidence, &risk,
		&d.MaterialRiskFactors, &prep.UserID, &prep.Name, &prep.At, &prep.Notes, &review.UserID, &review.Name, &review.At,
		&review.Notes, &verify.UserID, &verify.Name, &verify.At, &verify.Notes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return lineage.Documentation{}, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
			return lineage.Documentation{}, fmt.Errorf("decode evidence of %s: %w", d.ID, err)
		}
	}
	d.Status = lineage.DocStatus(status)
	d.RiskLevel = lineage.RiskLevel(risk)
	d.Preparer, d.Reviewer, d.Verifier = prep, review, verify
	return d, nil
}

func docArgs(d lineage.Documentation) ([]any, error) {
	evidence := d.Evidence
	if evidence == nil {
		evidence = []lineage.Evidence{}
	}
	raw, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	return []any{d.ID, d.FinancialStatementID, d.EntityType, d.EntityID, string(d.Status), d.HgbSection, d.HgbRequirement, d.ComplianceNotes,
		d.WorkingPaperRef, d.AuditProgramRef, d.Summary, d.DetailedDescription, d.CalculationBasis, d.Assumptions, raw, string(d.RiskLevel),
		d.MaterialRiskFactors, d.Preparer.UserID, d.Preparer.Name, d.Preparer.At, d.Preparer.Notes, d.Reviewer.UserID, d.Reviewer.Name, d.Reviewer.At,
		d.Reviewer.Notes, d.Verifier.UserID, d.Verifier.Name, d.Verifier.At, d.Verifier.Notes}, nil
}

func (s *Store) InsertDocumentation(ctx context.Context, doc lineage.Documentation) (lineage.Documentation, error) {
	if err := s.ready(); err != nil {
		return lineage.Documentation{}, err
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	args, err := docArgs(doc)
	if err != nil {
		return lineage.Documentation{}, err
	}
	stored, err := scanDoc(s.db.QueryRow(ctx, `INSERT INTO pruefpfad_documentation (id, financial_statement_id, entity_type, entity_id, status,
hgb_section, hgb_requirement, compliance_notes, working_paper_ref, audit_program_ref, summary, detailed_description, calculation_basis,
assumptions, evidence, risk_level, material_risk_factors, prepared_by, prepared_by_name, prepared_at, preparer_notes, reviewed_by,
reviewed_by_name, reviewed_at, reviewer_notes, verified_by, verified_by_name, verified_at, verifier_notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
RETURNING `+docColumns, args...))
	if err != nil {
		return lineage.Documentation{}, wrap(err, "insert documentation")
	}
	return stored, nil
}

func (s *Store) GetDocumentation(ctx context.Context, id uuid.UUID) (lineage.Documentation, error) {
	if err := s.ready(); err != nil {
		return lineage.Documentation{}, err
	}
	d, err := scanDoc(s.db.QueryRow(ctx, `SELECT `+docColumns+` FROM pruefpfad_documentation WHERE id = $1`, id))
	if err != nil {
		return lineage.Documentation{}, wrap(err, "documentation %s", id)
	}
	return d, nil
}

func (s *Store) ListDocumentation(ctx context.Context, f lineage.DocumentationFilter) ([]lineage.Documentation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if f.FinancialStatementID != nil {
		w.add("financial_statement_id = $%d", *f.FinancialStatementID)
	}
	if f.EntityType != "" {
		w.add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != nil {
		w.add("entity_id = $%d", *f.EntityID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.HgbSection != "" {
		w.add("hgb_section = $%d", f.HgbSection)
	}
	if f.WorkingPaperRef != "" {
		w.add("working_paper_ref = $%d", f.WorkingPaperRef)
	}
	if f.RiskLevel != "" {
		w.add("risk_level = $%d", string(f.RiskLevel))
	}
	rows, err := s.db.Query(ctx, `SELECT `+docColumns+` FROM pruefpfad_documentation`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list documentation")
	}
	defer rows.Close()
	out := make([]lineage.Documentation, 0)
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDocumentation(ctx context.Context, doc lineage.Documentation) (lineage.Documentation, error) {
	if err := s.ready(); err != nil {
		return lineage.Documentation{}, err
	}
	args, err := docArgs(doc)
	if err != nil {
		return lineage.Documentation{}, err
	}
	stored, err := scanDoc(s.db.QueryRow(ctx, `UPDATE pruefpfad_documentation SET financial_statement_id = $2, entity_type = $3, entity_id = $4,
status = $5, hgb_section = $6, hgb_requirement = $7, compliance_notes = $8, working_paper_ref = $9, audit_program_ref = $10, summary = $11,
detailed_description = $12, calculation_basis = $13, assumptions = $14, evidence = $15, risk_level = $16, material_risk_factors = $17,
prepared_by = $18, prepared_by_name = $19, prepared_at = $20, preparer_notes = $21, reviewed_by = $22, reviewed_by_name = $23,
reviewed_at = $24, reviewer_notes = $25, verified_by = $26, verified_by_name = $27, verified_at = $28, verifier_notes = $29, updated_at = NOW()
WHERE id = $1
RETURNING `+docColumns, args...))
	if err != nil {
		return lineage.Documentation{}, wrap(err, "update documentation %s", doc.ID)
	}
	return stored, nil
}
