package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/konzern/internal/consol"
)

const companyColumns = `id, name, parent_id, is_consolidated, consolidation_type, exclusion_reason, functional_currency, is_ultimate_parent`

func scanCompany(row pgx.Row) (consol.Company, error) {
	var (
		c   consol.Company
		typ string
	)
	err := row.Scan(&c.ID, &c.Name, &c.ParentID, &c.IsConsolidated, &typ, &c.ExclusionReason, &c.FunctionalCurrency, &c.IsUltimateParent)
	c.ConsolidationType = consol.ConsolidationType(typ)
	return c, err
}

func (s *Store) GetCompany(ctx context.Context, id uuid.UUID) (consol.Company, error) {
	if err := s.ready(); err != nil {
		return consol.Company{}, err
	}
	c, err := scanCompany(s.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return consol.Company{}, wrap(err, "company %s", id)
	}
	return c, nil
}

// ListChildren returns direct children ordered by name then id.
func (s *Store) ListChildren(ctx context.Context, parentID uuid.UUID) ([]consol.Company, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE parent_id = $1 ORDER BY name, id`, parentID)
	if err != nil {
		return nil, wrap(err, "children of %s", parentID)
	}
	defer rows.Close()
	out := make([]consol.Company, 0)
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCompany stores a company. A zero id is generated.
func (s *Store) InsertCompany(ctx context.Context, c consol.Company) (consol.Company, error) {
	if err := s.ready(); err != nil {
		return consol.Company{}, err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ConsolidationType == "" {
		c.ConsolidationType = consol.ConsolidationFull
	}
	if c.FunctionalCurrency == "" {
		c.FunctionalCurrency = "EUR"
	}
	_, err := s.db.Exec(ctx, `INSERT INTO companies (`+companyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.ParentID, c.IsConsolidated, string(c.ConsolidationType), c.ExclusionReason, c.FunctionalCurrency, c.IsUltimateParent)
	if err != nil {
		return consol.Company{}, wrap(err, "insert company %s", c.Name)
	}
	return c, nil
}

const statementColumns = `id, company_id, fiscal_year, period_start, period_end, status`

func scanStatement(row pgx.Row) (consol.FinancialStatement, error) {
	var (
		fs     consol.FinancialStatement
		status string
	)
	err := row.Scan(&fs.ID, &fs.CompanyID, &fs.FiscalYear, &fs.PeriodStart, &fs.PeriodEnd, &status)
	fs.Status = consol.StatementStatus(status)
	return fs, err
}

func (s *Store) GetFinancialStatement(ctx context.Context, id uuid.UUID) (consol.FinancialStatement, error) {
	if err := s.ready(); err != nil {
		return consol.FinancialStatement{}, err
	}
	fs, err := scanStatement(s.db.QueryRow(ctx, `SELECT `+statementColumns+` FROM financial_statements WHERE id = $1`, id))
	if err != nil {
		return consol.FinancialStatement{}, wrap(err, "financial statement %s", id)
	}
	return fs, nil
}

// ListFinancialStatements returns matching statements ordered by fiscal year then id.
func (s *Store) ListFinancialStatements(ctx context.Context, filter consol.StatementFilter) ([]consol.FinancialStatement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if len(filter.CompanyIDs) > 0 {
		w.add("company_id = ANY($%d)", filter.CompanyIDs)
	}
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	rows, err := s.db.Query(ctx, `SELECT `+statementColumns+` FROM financial_statements`+w.String()+` ORDER BY fiscal_year, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list financial statements")
	}
	defer rows.Close()
	out := make([]consol.FinancialStatement, 0)
	for rows.Next() {
		fs, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatementStatus(ctx context.Context, id uuid.UUID, status consol.StatementStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE financial_statements SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return wrap(err, "update statement %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("financial statement %s: %w", id, consol.ErrNotFound)
	}
	return nil
}

// InsertStatement stores a financial statement. Status defaults to finalized.
func (s *Store) InsertStatement(ctx context.Context, fs consol.FinancialStatement) (consol.FinancialStatement, error) {
	if err := s.ready(); err != nil {
		return consol.FinancialStatement{}, err
	}
	if fs.ID == uuid.Nil {
		fs.ID = uuid.New()
	}
	if fs.Status == "" {
		fs.Status = consol.StatementFinalized
	}
	_, err := s.db.Exec(ctx, `INSERT INTO financial_statements (`+statementColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		fs.ID, fs.CompanyID, fs.FiscalYear, fs.PeriodStart, fs.PeriodEnd, string(fs.Status))
	if err != nil {
		return consol.FinancialStatement{}, wrap(err, "insert statement")
	}
	return fs, nil
}

const balanceColumns = `id, financial_statement_id, company_id, account_id, account_number, account_name, account_type, debit, credit, balance, is_intercompany`

func (s *Store) ListAccountBalances(ctx context.Context, statementID uuid.UUID, filter consol.BalanceFilter) ([]consol.AccountBalance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	w.add("financial_statement_id = $%d", statementID)
	if filter.IntercompanyOnly {
		w.raw("is_intercompany")
	}
	if len(filter.AccountTypes) > 0 {
		w.add("account_type = ANY($%d)", strs(filter.AccountTypes))
	}
	rows, err := s.db.Query(ctx, `SELECT `+balanceColumns+` FROM account_balances`+w.String()+` ORDER BY account_number, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list balances of %s", statementID)
	}
	defer rows.Close()
	out := make([]consol.AccountBalance, 0)
	for rows.Next() {
		var (
			b   consol.AccountBalance
			typ string
		)
		if err := rows.Scan(&b.ID, &b.FinancialStatementID, &b.CompanyID, &b.AccountID, &b.AccountNumber, &b.AccountName, &typ, &b.Debit, &b.Credit, &b.Balance, &b.IsIntercompany); err != nil {
			return nil, err
		}
		b.AccountType = consol.AccountType(typ)
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBalances stores standalone balances in one batch.
func (s *Store) InsertBalances(ctx context.Context, balances []consol.AccountBalance) ([]consol.AccountBalance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	out := make([]consol.AccountBalance, 0, len(balances))
	for _, b := range balances {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		if b.Balance.IsZero() {
			b.Balance = b.Debit.Sub(b.Credit)
		}
		batch.Queue(`INSERT INTO account_balances (`+balanceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			b.ID, b.FinancialStatementID, b.CompanyID, b.AccountID, b.AccountNumber, b.AccountName, string(b.AccountType), b.Debit, b.Credit, b.Balance, b.IsIntercompany)
		out = append(out, b)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, wrap(err, "insert balances")
	}
	return out, nil
}

func (s *Store) ListIncomeStatementBalances(ctx context.Context, statementID uuid.UUID) ([]consol.IncomeStatementBalance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT financial_statement_id, account_id, amount, is_income FROM income_statement_balances WHERE financial_statement_id = $1`, statementID)
	if err != nil {
		return nil, wrap(err, "list income statement of %s", statementID)
	}
	defer rows.Close()
	out := make([]consol.IncomeStatementBalance, 0)
	for rows.Next() {
		var line consol.IncomeStatementBalance
		if err := rows.Scan(&line.FinancialStatementID, &line.AccountID, &line.Amount, &line.IsIncome); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

const transactionColumns = `id, financial_statement_id, from_company_id, to_company_id, account_id, account_number, account_name, amount, transaction_date, transaction_type, acquisition_cost, remaining_inventory`

func (s *Store) ListIntercompanyTransactions(ctx context.Context, filter consol.TransactionFilter) ([]consol.IntercompanyTransaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if len(filter.StatementIDs) > 0 {
		w.add("financial_statement_id = ANY($%d)", filter.StatementIDs)
	}
	if len(filter.CompanyIDs) > 0 {
		w.add("(from_company_id = ANY($%[1]d) OR to_company_id = ANY($%[1]d))", filter.CompanyIDs)
	}
	if len(filter.Types) > 0 {
		w.add("transaction_type = ANY($%d)", strs(filter.Types))
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM intercompany_transactions`+w.String()+` ORDER BY transaction_date, id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list intercompany transactions")
	}
	defer rows.Close()
	out := make([]consol.IntercompanyTransaction, 0)
	for rows.Next() {
		var (
			t   consol.IntercompanyTransaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.FinancialStatementID, &t.FromCompanyID, &t.ToCompanyID, &t.AccountID, &t.AccountNumber, &t.AccountName,
			&t.Amount, &t.TransactionDate, &typ, &t.AcquisitionCost, &t.RemainingInventory); err != nil {
			return nil, err
		}
		t.TransactionType = consol.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTransaction stores an intercompany transaction.
func (s *Store) InsertTransaction(ctx context.Context, t consol.IntercompanyTransaction) (consol.IntercompanyTransaction, error) {
	if err := s.ready(); err != nil {
		return consol.IntercompanyTransaction{}, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO intercompany_transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.FinancialStatementID, t.FromCompanyID, t.ToCompanyID, t.AccountID, t.AccountNumber, t.AccountName,
		t.Amount, t.TransactionDate, string(t.TransactionType), t.AcquisitionCost, t.RemainingInventory)
	if err != nil {
		return consol.IntercompanyTransaction{}, wrap(err, "insert transaction")
	}
	return t, nil
}

const participationColumns = `id, parent_company_id, subsidiary_company_id, percentage, voting_rights, acquisition_cost, acquisition_date, goodwill, negative_goodwill, hidden_reserves, equity_at_acquisition, useful_life_years, is_active`

func (s *Store) ListParticipations(ctx context.Context, filter consol.ParticipationFilter) ([]consol.Participation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var w where
	if len(filter.ParentCompanyIDs) > 0 {
		w.add("parent_company_id = ANY($%d)", filter.ParentCompanyIDs)
	}
	if len(filter.SubsidiaryCompanyIDs) > 0 {
		w.add("subsidiary_company_id = ANY($%d)", filter.SubsidiaryCompanyIDs)
	}
	if filter.ActiveOnly {
		w.raw("is_active")
	}
	rows, err := s.db.Query(ctx, `SELECT `+participationColumns+` FROM participations`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, wrap(err, "list participations")
	}
	defer rows.Close()
	out := make([]consol.Participation, 0)
	for rows.Next() {
		var p consol.Participation
		if err := rows.Scan(&p.ID, &p.ParentCompanyID, &p.SubsidiaryCompanyID, &p.Percentage, &p.VotingRights, &p.AcquisitionCost, &p.AcquisitionDate,
			&p.Goodwill, &p.NegativeGoodwill, &p.HiddenReserves, &p.EquityAtAcquisition, &p.UsefulLifeYears, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertParticipation stores an ownership stake.
func (s *Store) InsertParticipation(ctx context.Context, p consol.Participation) (consol.Participation, error) {
	if err := s.ready(); err != nil {
		return consol.Participation{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO participations (`+participationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.ParentCompanyID, p.SubsidiaryCompanyID, p.Percentage, p.VotingRights, p.AcquisitionCost, p.AcquisitionDate,
		p.Goodwill, p.NegativeGoodwill, p.HiddenReserves, p.EquityAtAcquisition, p.UsefulLifeYears, p.IsActive)
	if err != nil {
		return consol.Participation{}, wrap(err, "insert participation")
	}
	return p, nil
}
