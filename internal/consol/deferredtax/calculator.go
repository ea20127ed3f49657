// Package deferredtax derives deferred tax positions (§306 HGB) from
// consolidation entries that create temporary differences.
package deferredtax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// AuditAction identifies audit log entries emitted by calculation runs.
	AuditAction = "deferred_tax_calculate"
	// AuditDeleteAction identifies deletions of deferred tax positions.
	AuditDeleteAction = "deferred_tax_delete"
	// AuditEntity describes the audit entity for deferred tax runs.
	AuditEntity = "deferred_taxes"

	hgbNote = "Gemäß § 306 HGB"
)

// rule is the tax treatment of one adjustment type.
type rule struct {
	source        consol.DeferredTaxSource
	onNegative    consol.DifferenceType
	onPositive    consol.DifferenceType
	affectsEquity bool
}

// rules lists the adjustment types that create temporary differences.
var rules = map[consol.AdjustmentType]rule{
	consol.AdjustmentCapitalConsolidation: {consol.TaxSourceCapitalConsolidation, consol.DifferenceDeductible, consol.DifferenceTaxable, false},
	consol.AdjustmentDebtConsolidation:    {consol.TaxSourceDebtConsolidation, consol.DifferenceDeductible, consol.DifferenceTaxable, false},
	consol.AdjustmentIntercompanyProfit:   {consol.TaxSourceIntercompanyProfit, consol.DifferenceDeductible, consol.DifferenceTaxable, false},
	consol.AdjustmentIncomeExpense:        {consol.TaxSourceIncomeExpense, consol.DifferenceDeductible, consol.DifferenceTaxable, false},
	consol.AdjustmentCurrencyTranslation:  {consol.TaxSourceCurrencyTranslation, consol.DifferenceDeductible, consol.DifferenceTaxable, true},
}

// QualifyingTypes returns the adjustment types the calculator consumes.
func QualifyingTypes() []consol.AdjustmentType {
	return []consol.AdjustmentType{
		consol.AdjustmentCapitalConsolidation,
		consol.AdjustmentDebtConsolidation,
		consol.AdjustmentIntercompanyProfit,
		consol.AdjustmentIncomeExpense,
		consol.AdjustmentCurrencyTranslation,
	}
}

// Classify returns the difference type and source for an entry. ok is false
// for adjustment types without tax effect.
func Classify(t consol.AdjustmentType, amount decimal.Decimal) (consol.DifferenceType, consol.DeferredTaxSource, bool) {
	r, ok := rules[t]
	if !ok {
		return "", consol.TaxSourceOther, false
	}
	if amount.IsNegative() {
		return r.onNegative, r.source, true
	}
	return r.onPositive, r.source, true
}

// Repository is the persistence surface of the calculator.
type Repository interface {
	consol.EntryStore
	consol.DeferredTaxStore
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config configures the calculator.
type Config struct {
	// TaxRate in percent, used when a run does not pass its own.
	TaxRate decimal.Decimal
}

// Result is the outcome of one calculation run.
type Result struct {
	StatementID   uuid.UUID
	TaxRate       decimal.Decimal
	DeferredTaxes []consol.DeferredTax
	Entries       []consol.ConsolidationEntry
	Summary       Summary
	FailedWrites  int
	MissingInfo   []string
}

// Calculator keeps deferred tax working papers in step with the entries.
type Calculator struct {
	repo    Repository
	emitter *consol.Emitter
	audit   AuditRecorder
	logger  *slog.Logger
	rate    decimal.Decimal
}

// NewCalculator wires the calculator. Lineage and audit may be nil.
func NewCalculator(repo Repository, lineage consol.LineageTracker, audit AuditRecorder, logger *slog.Logger, cfg Config) *Calculator {
	rate := cfg.TaxRate
	if !rate.IsPositive() {
		rate = consol.DefaultTaxRate
	}
	return &Calculator{
		repo:    repo,
		emitter: consol.NewEmitter(repo, lineage, logger, "deferred_tax"),
		audit:   audit,
		logger:  logger,
		rate:    rate,
	}
}

// Calculate derives one deferred tax position per approved qualifying entry.
// Existing positions are updated in place; the generated deferred_tax entry
// is created once per position and never regenerated.
func (c *Calculator) Calculate(ctx context.Context, statementID uuid.UUID, rate *decimal.Decimal) (Result, error) {
	if c == nil || c.repo == nil {
		return Result{}, fmt.Errorf("deferred tax calculator not initialised")
	}
	taxRate := c.rate
	if rate != nil {
		taxRate = *rate
	}
	if !taxRate.IsPositive() || taxRate.GreaterThan(consol.Hundred()) {
		return Result{}, fmt.Errorf("tax rate %s outside (0, 100]: %w", taxRate.String(), consol.ErrValidation)
	}

	entries, err := c.repo.ListConsolidationEntries(ctx, consol.EntryFilter{
		FinancialStatementID: statementID,
		AdjustmentTypes:      QualifyingTypes(),
		Statuses:             []consol.EntryStatus{consol.EntryApproved},
	})
	if err != nil {
		return Result{}, fmt.Errorf("list qualifying entries: %w", err)
	}

	res := Result{StatementID: statementID, TaxRate: taxRate}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := c.position(ctx, statementID, entry, taxRate)
		if err != nil {
			res.FailedWrites++
			res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("Latente Steuer für Buchung %s konnte nicht gespeichert werden", entry.ID))
			c.log().Error("upsert deferred tax", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
			continue
		}
		if row.DeferredTaxEntryID == nil {
			row, err = c.generateEntry(ctx, row, entry, &res)
			if err != nil {
				res.FailedWrites++
				res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("Buchung für latente Steuer %s konnte nicht gespeichert werden", row.ID))
				c.log().Error("generate deferred tax entry", slog.String("deferred_tax_id", row.ID.String()), slog.Any("error", err))
			}
		}
		res.DeferredTaxes = append(res.DeferredTaxes, row)
	}
	res.Summary = Summarize(res.DeferredTaxes)

	c.log().Info("calculated deferred taxes",
		slog.String("statement_id", statementID.String()),
		slog.Int("positions", len(res.DeferredTaxes)),
		slog.Int("entries", len(res.Entries)),
		slog.String("net", res.Summary.Net.StringFixed(2)))
	c.recordAudit(ctx, AuditAction, statementID.String(), map[string]any{
		"tax_rate":    taxRate.StringFixed(2),
		"positions":   len(res.DeferredTaxes),
		"entries":     len(res.Entries),
		"assets":      res.Summary.TotalAssets.StringFixed(2),
		"liabilities": res.Summary.TotalLiabilities.StringFixed(2),
	})
	return res, nil
}

// position creates or updates the deferred tax row of one entry.
func (c *Calculator) position(ctx context.Context, statementID uuid.UUID, entry consol.ConsolidationEntry, rate decimal.Decimal) (consol.DeferredTax, error) {
	diffType, source, _ := Classify(entry.AdjustmentType, entry.Amount)
	difference := entry.Amount.Abs()
	amount := consol.Round2(difference.Mul(rate).Div(consol.Hundred()))

	existing, err := c.repo.FindDeferredTaxByOrigin(ctx, entry.ID)
	switch {
	case err == nil:
		prior := existing.DeferredTaxAmount
		existing.DifferenceType = diffType
		existing.TemporaryDifferenceAmount = difference
		existing.TaxRate = rate
		existing.DeferredTaxAmount = amount
		existing.PriorYearAmount = prior
		existing.ChangeAmount = amount.Sub(prior)
		return c.repo.UpsertDeferredTax(ctx, existing)
	case !errors.Is(err, consol.ErrNotFound):
		return consol.DeferredTax{}, err
	}

	description := entry.Description
	if description == "" {
		description = string(entry.AdjustmentType)
	}
	row := consol.DeferredTax{
		FinancialStatementID:      statementID,
		DifferenceType:            diffType,
		Source:                    source,
		Description:               "Latente Steuern aus: " + description,
		TemporaryDifferenceAmount: difference,
		TaxRate:                   rate,
		DeferredTaxAmount:         amount,
		PriorYearAmount:           decimal.Zero,
		ChangeAmount:              amount,
		AffectsEquity:             rules[entry.AdjustmentType].affectsEquity,
		OriginatingEntryID:        consol.Ref(entry.ID),
		Status:                    consol.DeferredTaxActive,
		HgbNote:                   hgbNote,
	}
	if len(entry.AffectedCompanyIDs) > 0 {
		row.CompanyID = consol.Ref(entry.AffectedCompanyIDs[0])
	}
	return c.repo.UpsertDeferredTax(ctx, row)
}

// generateEntry books the position, positive for assets and negative for
// liabilities, and links the entry back to the row.
func (c *Calculator) generateEntry(ctx context.Context, row consol.DeferredTax, origin consol.ConsolidationEntry, res *Result) (consol.DeferredTax, error) {
	label, amount := "Passiv", row.DeferredTaxAmount.Neg()
	if row.IsAsset() {
		label, amount = "Aktiv", row.DeferredTaxAmount
	}
	stored, err := c.emitter.Emit(ctx, consol.ConsolidationEntry{
		FinancialStatementID: row.FinancialStatementID,
		AdjustmentType:       consol.AdjustmentDeferredTax,
		Amount:               amount,
		Description:          fmt.Sprintf("Latente Steuern (%s): %s", label, row.Description),
		HgbReference:         consol.Ref(consol.Hgb306),
		AffectedCompanyIDs:   origin.AffectedCompanyIDs,
	}, consol.EntrySourceOf(origin))
	if err != nil {
		return row, err
	}
	res.Entries = append(res.Entries, stored)
	row.DeferredTaxEntryID = consol.Ref(stored.ID)
	linked, err := c.repo.UpsertDeferredTax(ctx, row)
	if err != nil {
		return row, fmt.Errorf("link generated entry %s: %w", stored.ID, err)
	}
	return linked, nil
}

// List returns the deferred tax positions of a statement.
func (c *Calculator) List(ctx context.Context, statementID uuid.UUID) ([]consol.DeferredTax, error) {
	if c == nil || c.repo == nil {
		return nil, fmt.Errorf("deferred tax calculator not initialised")
	}
	return c.repo.ListDeferredTaxes(ctx, statementID)
}

// Summary aggregates the stored positions of a statement.
func (c *Calculator) Summary(ctx context.Context, statementID uuid.UUID) (Summary, error) {
	rows, err := c.List(ctx, statementID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rows), nil
}

// Delete removes a position together with its generated entry.
func (c *Calculator) Delete(ctx context.Context, id uuid.UUID) error {
	if c == nil || c.repo == nil {
		return fmt.Errorf("deferred tax calculator not initialised")
	}
	row, err := c.repo.GetDeferredTax(ctx, id)
	if err != nil {
		return err
	}
	if row.DeferredTaxEntryID != nil {
		if err := c.repo.DeleteConsolidationEntry(ctx, *row.DeferredTaxEntryID); err != nil && !errors.Is(err, consol.ErrNotFound) {
			return fmt.Errorf("delete generated entry: %w", err)
		}
	}
	if err := c.repo.DeleteDeferredTax(ctx, id); err != nil {
		return err
	}
	c.recordAudit(ctx, AuditDeleteAction, id.String(), map[string]any{
		"financial_statement_id": row.FinancialStatementID.String(),
		"amount":                 row.DeferredTaxAmount.StringFixed(2),
	})
	return nil
}

func (c *Calculator) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if c == nil || c.audit == nil {
		return
	}
	_ = c.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.SystemActor,
		Action:   action,
		Entity:   AuditEntity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (c *Calculator) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "deferred_tax"))
	}
	return slog.Default().With(slog.String("component", "deferred_tax"))
}
