package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/konzern/internal/consol"
)

const entryColumns = `id, financial_statement_id, account_id, debit_account_id, credit_account_id, adjustment_type, amount, description, status, source,
hgb_reference, affected_company_ids, created_by, approved_by, approved_at, rejection_reason, reversed_by_entry_id, reverses_entry_id, created_at, updated_at`

func scanEntry(row pgx.Row) (consol.ConsolidationEntry, error) {
	var (
		e                   consol.ConsolidationEntry
		typ, status, source string
		hgb                 *string
	)
	err := row.Scan(&e.ID, &e.FinancialStatementID, &e.AccountID, &e.DebitAccountID, &e.CreditAccountID, &typ, &e.Amount, &e.Description, &status, &source,
		&hgb, &e.AffectedCompanyIDs, &e.CreatedBy, &e.ApprovedBy, &e.ApprovedAt, &e.RejectionReason, &e.ReversedByEntryID, &e.ReversesEntryID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return consol.ConsolidationEntry{}, err
	}
	e.AdjustmentType = consol.AdjustmentType(typ)
	e.Status = consol.EntryStatus(status)
	e.Source = consol.EntrySource(source)
	if hgb != nil {
		e.HgbReference = consol.Ref(consol.HgbReference(*hgb))
	}
	return e, nil
}

func hgbParam(ref *consol.HgbReference) *string {
	if ref == nil {
		return nil
	}
	v := string(*ref)
	return &v
}

func uuids(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func (s *Store) InsertConsolidationEntry(ctx context.Context, e consol.ConsolidationEntry) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO consolidation_entries (id, financial_statement_id, account_id, debit_account_id, credit_account_id, adjustment_type,
amount, description, status, source, hgb_reference, affected_company_ids, created_by, approved_by, approved_at, rejection_reason, reversed_by_entry_id, reverses_entry_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING `+entryColumns,
		e.ID, e.FinancialStatementID, e.AccountID, e.DebitAccountID, e.CreditAccountID, string(e.AdjustmentType),
		e.Amount, e.Description, string(e.Status), string(e.Source), hgbParam(e.HgbReference), uuids(e.AffectedCompanyIDs),
		e.CreatedBy, e.ApprovedBy, e.ApprovedAt, e.RejectionReason, e.ReversedByEntryID, e.ReversesEntryID)
	stored, err := scanEntry(row)
	if err != nil {
		return consol.ConsolidationEntry{}, wrap(err, "insert consolidation entry")
	}
	return stored, nil
}

func (s *Store) GetConsolidationEntry(ctx context.Context, id uuid.UUID) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM consolidation_entries WHERE id = $1`, id))
	if err != nil {
		return consol.ConsolidationEntry{}, wrap(err, "consolidation entry %s", id)
	}
	return e, nil
}

// ListConsolidationEntries returns matching entries in insertion order.
func (s *Store) ListConsolidationEntries(ctx context.Context, filter consol.EntryFilter) ([]consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if filter.FinancialStatementID != uuid.Nil {
		w.add("financial_statement_id = $%d", filter.FinancialStatementID)
	}
	if len(filter.AdjustmentTypes) > 0 {
		w.add("adjustment_type = ANY($%d)", strs(filter.AdjustmentTypes))
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY($%d)", strs(filter.Statuses))
	}
	if filter.Source != "" {
		w.add("source = $%d", string(filter.Source))
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM consolidation_entries`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list consolidation entries")
	}
	defer rows.Close()
	out := make([]consol.ConsolidationEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateConsolidationEntry(ctx context.Context, e consol.ConsolidationEntry) (consol.ConsolidationEntry, error) {
	if err := s.ready(); err != nil {
		return consol.ConsolidationEntry{}, err
	}
	row := s.db.QueryRow(ctx, `UPDATE consolidation_entries SET account_id = $2, debit_account_id = $3, credit_account_id = $4, adjustment_type = $5,
amount = $6, description = $7, status = $8, hgb_reference = $9, affected_company_ids = $10, approved_by = $11, approved_at = $12,
rejection_reason = $13, reversed_by_entry_id = $14, reverses_entry_id = $15, updated_at = NOW()
WHERE id = $1
RETURNING `+entryColumns,
		e.ID, e.AccountID, e.DebitAccountID, e.CreditAccountID, string(e.AdjustmentType),
		e.Amount, e.Description, string(e.Status), hgbParam(e.HgbReference), uuids(e.AffectedCompanyIDs), e.ApprovedBy, e.ApprovedAt,
		e.RejectionReason, e.ReversedByEntryID, e.ReversesEntryID)
	stored, err := scanEntry(row)
	if err != nil {
		return consol.ConsolidationEntry{}, wrap(err, "update consolidation entry %s", e.ID)
	}
	return stored, nil
}

func (s *Store) DeleteConsolidationEntry(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM consolidation_entries WHERE id = $1`, id)
	if err != nil {
		return wrap(err, "delete consolidation entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("consolidation entry %s: %w", id, consol.ErrNotFound)
	}
	return nil
}

const deferredTaxColumns = `id, financial_statement_id, company_id, difference_type, source, description, temporary_difference_amount, tax_rate,
deferred_tax_amount, prior_year_amount, change_amount, affects_equity, expected_reversal_year, originating_entry_id, deferred_tax_entry_id,
status, hgb_note, created_at, updated_at`

func scanDeferredTax(row pgx.Row) (consol.DeferredTax, error) {
	var (
		d                    consol.DeferredTax
		diff, source, status string
	)
	err := row.Scan(&d.ID, &d.FinancialStatementID, &d.CompanyID, &diff, &source, &d.Description, &d.TemporaryDifferenceAmount, &d.TaxRate,
		&d.DeferredTaxAmount, &d.PriorYearAmount, &d.ChangeAmount, &d.AffectsEquity, &d.ExpectedReversalYear, &d.OriginatingEntryID, &d.DeferredTaxEntryID,
		&status, &d.HgbNote, &d.CreatedAt, &d.UpdatedAt)
	d.DifferenceType = consol.DifferenceType(diff)
	d.Source = consol.DeferredTaxSource(source)
	d.Status = consol.DeferredTaxStatus(status)
	return d, err
}

func (s *Store) GetDeferredTax(ctx context.Context, id uuid.UUID) (consol.DeferredTax, error) {
	if err := s.ready(); err != nil {
		return consol.DeferredTax{}, err
	}
	d, err := scanDeferredTax(s.db.QueryRow(ctx, `SELECT `+deferredTaxColumns+` FROM deferred_taxes WHERE id = $1`, id))
	if err != nil {
		return consol.DeferredTax{}, wrap(err, "deferred tax %s", id)
	}
	return d, nil
}

func (s *Store) FindDeferredTaxByOrigin(ctx context.Context, originatingEntryID uuid.UUID) (consol.DeferredTax, error) {
	if err := s.ready(); err != nil {
		return consol.DeferredTax{}, err
	}
	d, err := scanDeferredTax(s.db.QueryRow(ctx, `SELECT `+deferredTaxColumns+` FROM deferred_taxes WHERE originating_entry_id = $1`, originatingEntryID))
	if err != nil {
		return consol.DeferredTax{}, wrap(err, "deferred tax for entry %s", originatingEntryID)
	}
	return d, nil
}

func (s *Store) ListDeferredTaxes(ctx context.Context, statementID uuid.UUID) ([]consol.DeferredTax, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+deferredTaxColumns+` FROM deferred_taxes WHERE financial_statement_id = $1 ORDER BY created_at, id`, statementID)
	if err != nil {
		return nil, wrap(err, "list deferred taxes of %s", statementID)
	}
	defer rows.Close()
	out := make([]consol.DeferredTax, 0)
	for rows.Next() {
		d, err := scanDeferredTax(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDeferredTax inserts rows without id and updates existing ones. The
// unique index on the originating entry rejects a second position.
func (s *Store) UpsertDeferredTax(ctx context.Context, d consol.DeferredTax) (consol.DeferredTax, error) {
	if err := s.ready(); err != nil {
		return consol.DeferredTax{}, err
	}
	args := []any{d.FinancialStatementID, d.CompanyID, string(d.DifferenceType), string(d.Source), d.Description, d.TemporaryDifferenceAmount, d.TaxRate,
		d.DeferredTaxAmount, d.PriorYearAmount, d.ChangeAmount, d.AffectsEquity, d.ExpectedReversalYear, d.OriginatingEntryID, d.DeferredTaxEntryID,
		string(d.Status), d.HgbNote}
	var row pgx.Row
	if d.ID == uuid.Nil {
		row = s.db.QueryRow(ctx, `INSERT INTO deferred_taxes (financial_statement_id, company_id, difference_type, source, description,
temporary_difference_amount, tax_rate, deferred_tax_amount, prior_year_amount, change_amount, affects_equity, expected_reversal_year,
originating_entry_id, deferred_tax_entry_id, status, hgb_note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING `+deferredTaxColumns, args...)
	} else {
		row = s.db.QueryRow(ctx, `UPDATE deferred_taxes SET financial_statement_id = $1, company_id = $2, difference_type = $3, source = $4,
description = $5, temporary_difference_amount = $6, tax_rate = $7, deferred_tax_amount = $8, prior_year_amount = $9, change_amount = $10,
affects_equity = $11, expected_reversal_year = $12, originating_entry_id = $13, deferred_tax_entry_id = $14, status = $15, hgb_note = $16,
updated_at = NOW()
WHERE id = $17
RETURNING `+deferredTaxColumns, append(args, d.ID)...)
	}
	stored, err := scanDeferredTax(row)
	if err != nil {
		return consol.DeferredTax{}, wrap(err, "upsert deferred tax")
	}
	return stored, nil
}

func (s *Store) DeleteDeferredTax(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM deferred_taxes WHERE id = $1`, id)
	if err != nil {
		return wrap(err, "delete deferred tax %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deferred tax %s: %w", id, consol.ErrNotFound)
	}
	return nil
}

const equityColumns = `id, participation_id, statement_id, associate_id, fiscal_year, opening_value, share_of_profit, dividends_received,
amortization, other_adjustments, closing_value, net_income_source, entry_ids, created_at`

func scanEquityResult(row pgx.Row) (consol.EquityMethodResult, error) {
	var r consol.EquityMethodResult
	err := row.Scan(&r.ID, &r.ParticipationID, &r.StatementID, &r.AssociateID, &r.FiscalYear, &r.OpeningValue, &r.ShareOfProfit, &r.DividendsReceived,
		&r.Amortization, &r.OtherAdjustments, &r.ClosingValue, &r.NetIncomeSource, &r.EntryIDs, &r.CreatedAt)
	return r, err
}

// LatestEquityMethodResult returns the most recent result before the given year.
func (s *Store) LatestEquityMethodResult(ctx context.Context, participationID uuid.UUID, beforeFiscalYear int) (consol.EquityMethodResult, error) {
	if err := s.ready(); err != nil {
		return consol.EquityMethodResult{}, err
	}
	r, err := scanEquityResult(s.db.QueryRow(ctx, `SELECT `+equityColumns+` FROM equity_method_results
WHERE participation_id = $1 AND fiscal_year < $2 ORDER BY fiscal_year DESC LIMIT 1`, participationID, beforeFiscalYear))
	if err != nil {
		return consol.EquityMethodResult{}, wrap(err, "equity method result for %s", participationID)
	}
	return r, nil
}

// SaveEquityMethodResult replaces the result of the same participation and year.
func (s *Store) SaveEquityMethodResult(ctx context.Context, r consol.EquityMethodResult) (consol.EquityMethodResult, error) {
	if err := s.ready(); err != nil {
		return consol.EquityMethodResult{}, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO equity_method_results (`+equityColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (participation_id, fiscal_year) DO UPDATE SET statement_id = EXCLUDED.statement_id, associate_id = EXCLUDED.associate_id,
opening_value = EXCLUDED.opening_value, share_of_profit = EXCLUDED.share_of_profit, dividends_received = EXCLUDED.dividends_received,
amortization = EXCLUDED.amortization, other_adjustments = EXCLUDED.other_adjustments, closing_value = EXCLUDED.closing_value,
net_income_source = EXCLUDED.net_income_source, entry_ids = EXCLUDED.entry_ids, created_at = EXCLUDED.created_at
RETURNING `+equityColumns,
		r.ID, r.ParticipationID, r.StatementID, r.AssociateID, r.FiscalYear, r.OpeningValue, r.ShareOfProfit, r.DividendsReceived,
		r.Amortization, r.OtherAdjustments, r.ClosingValue, r.NetIncomeSource, uuids(r.EntryIDs), r.CreatedAt)
	stored, err := scanEquityResult(row)
	if err != nil {
		return consol.EquityMethodResult{}, wrap(err, "save equity method result")
	}
	return stored, nil
}

const goodwillColumns = `id, participation_id, statement_id, subsidiary_id, fiscal_year, goodwill, useful_life_years, amortization,
accumulated_amortization, carrying_value, entry_ids, created_at`

func scanGoodwillAmortization(row pgx.Row) (consol.GoodwillAmortization, error) {
	var r consol.GoodwillAmortization
	err := row.Scan(&r.ID, &r.ParticipationID, &r.StatementID, &r.SubsidiaryID, &r.FiscalYear, &r.Goodwill, &r.UsefulLifeYears, &r.Amortization,
		&r.AccumulatedAmortization, &r.CarryingValue, &r.EntryIDs, &r.CreatedAt)
	return r, err
}

// LatestGoodwillAmortization returns the most recent schedule row before the given year.
func (s *Store) LatestGoodwillAmortization(ctx context.Context, participationID uuid.UUID, beforeFiscalYear int) (consol.GoodwillAmortization, error) {
	if err := s.ready(); err != nil {
		return consol.GoodwillAmortization{}, err
	}
	r, err := scanGoodwillAmortization(s.db.QueryRow(ctx, `SELECT `+goodwillColumns+` FROM goodwill_amortizations
WHERE participation_id = $1 AND fiscal_year < $2 ORDER BY fiscal_year DESC LIMIT 1`, participationID, beforeFiscalYear))
	if err != nil {
		return consol.GoodwillAmortization{}, wrap(err, "goodwill amortization for %s", participationID)
	}
	return r, nil
}

// SaveGoodwillAmortization replaces the row of the same participation and year.
func (s *Store) SaveGoodwillAmortization(ctx context.Context, r consol.GoodwillAmortization) (consol.GoodwillAmortization, error) {
	if err := s.ready(); err != nil {
		return consol.GoodwillAmortization{}, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO goodwill_amortizations (`+goodwillColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (participation_id, fiscal_year) DO UPDATE SET statement_id = EXCLUDED.statement_id, subsidiary_id = EXCLUDED.subsidiary_id,
goodwill = EXCLUDED.goodwill, useful_life_years = EXCLUDED.useful_life_years, amortization = EXCLUDED.amortization,
accumulated_amortization = EXCLUDED.accumulated_amortization, carrying_value = EXCLUDED.carrying_value,
entry_ids = EXCLUDED.entry_ids, created_at = EXCLUDED.created_at
RETURNING `+goodwillColumns,
		r.ID, r.ParticipationID, r.StatementID, r.SubsidiaryID, r.FiscalYear, r.Goodwill, r.UsefulLifeYears, r.Amortization,
		r.AccumulatedAmortization, r.CarryingValue, uuids(r.EntryIDs), r.CreatedAt)
	stored, err := scanGoodwillAmortization(row)
	if err != nil {
		return consol.GoodwillAmortization{}, wrap(err, "save goodwill amortization")
	}
	return stored, nil
}
