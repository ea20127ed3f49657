package http

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/lineage"
)

const csvBufferSize = 32 * 1024

var (
	nodeColumns  = []string{"Section", "Node ID", "Type", "Code", "Name", "Account", "HGB", "Value", "Currency", "Audited", "Final"}
	traceColumns = []string{"Section", "Trace ID", "Source", "Target", "Transformation", "Description", "Contribution", "Share %", "Order", "Entry"}
	docColumns   = []string{"Section", "Doc ID", "Entity Type", "Entity ID", "Status", "HGB", "Working Paper", "Risk", "Preparer", "Reviewer", "Verifier"}
)

// trailWriter keeps the first write error so the rendering code can write
// unconditionally and check once per section.
type trailWriter struct {
	buf *bufio.Writer
	csv *csv.Writer
	err error
}

func newTrailWriter(w io.Writer) *trailWriter {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	c := csv.NewWriter(buf)
	c.UseCRLF = true
	return &trailWriter{buf: buf, csv: c}
}

// comment writes a raw line. Comment lines are not CSV records.
func (t *trailWriter) comment(format string, args ...any) {
	if t.err != nil {
		return
	}
	t.csv.Flush()
	if t.err = t.csv.Error(); t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.buf, format+"\r\n", args...)
}

func (t *trailWriter) row(fields ...string) {
	if t.err == nil {
		t.err = t.csv.Write(fields)
	}
}

// section writes a header, one row per item and a blank separator row of
// the header's width. Each finished section is flushed to the client.
func (t *trailWriter) section(columns []string, rows int, render func(i int) []string, separate bool) error {
	t.row(columns...)
	for i := 0; i < rows && t.err == nil; i++ {
		t.row(render(i)...)
	}
	if separate {
		t.row(make([]string, len(columns))...)
	}
	return t.flush()
}

func (t *trailWriter) flush() error {
	if t.err != nil {
		return t.err
	}
	t.csv.Flush()
	if t.err = t.csv.Error(); t.err != nil {
		return t.err
	}
	t.err = t.buf.Flush()
	return t.err
}

// WriteAuditTrailCSV renders an audit trail as a commented header followed
// by the node, trace and documentation sections.
func WriteAuditTrailCSV(w io.Writer, trail lineage.AuditTrail) error {
	t := newTrailWriter(w)
	s := trail.Summary
	t.comment("# Report: Konzern Prüfpfad")
	t.comment("# Statement: %s | Fiscal year: %d | Exported: %s",
		trail.FinancialStatementID, trail.FiscalYear, trail.ExportedAt.UTC().Format(time.RFC3339))
	t.comment("# Nodes: %d | Traces: %d | Documented: %s%% | Verified: %s%%",
		s.TotalNodes, s.TotalTraces, s.DocumentedPercentage.StringFixed(2), s.VerifiedPercentage.StringFixed(2))
	t.comment("# Checksum: %s", trail.Checksum)

	if err := t.section(nodeColumns, len(trail.Nodes), func(i int) []string {
		n := trail.Nodes[i]
		return []string{"NODE", n.ID.String(), string(n.NodeType), n.NodeCode, n.NodeName, n.AccountCode,
			n.HgbSection, amount(n.ValueAmount), n.ValueCurrency, strconv.FormatBool(n.IsAudited), strconv.FormatBool(n.IsFinal)}
	}, true); err != nil {
		return err
	}
	if err := t.section(traceColumns, len(trail.Traces), func(i int) []string {
		tr := trail.Traces[i]
		return []string{"TRACE", tr.ID.String(), tr.SourceNodeID.String(), tr.TargetNodeID.String(),
			lineage.TransformationLabel(tr.TransformationType), tr.Description, optionalAmount(tr.ContributionAmount),
			optionalAmount(tr.ContributionPercentage), strconv.Itoa(tr.SequenceOrder), optionalID(tr.ConsolidationEntryID)}
	}, true); err != nil {
		return err
	}
	return t.section(docColumns, len(trail.Documentation), func(i int) []string {
		d := trail.Documentation[i]
		return []string{"DOC", d.ID.String(), d.EntityType, d.EntityID.String(), string(d.Status), d.HgbSection,
			d.WorkingPaperRef, string(d.RiskLevel), signOffLabel(d.Preparer), signOffLabel(d.Reviewer), signOffLabel(d.Verifier)}
	}, false)
}

func signOffLabel(s lineage.SignOff) string {
	switch {
	case s.UserID == "":
		return ""
	case s.At == nil:
		return s.Name
	default:
		return s.Name + " (" + s.At.UTC().Format(time.DateOnly) + ")"
	}
}

func amount(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func optionalAmount(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return amount(*v)
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
