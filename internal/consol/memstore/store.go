// Package memstore is an in-memory implementation of the consolidation and
// lineage stores. It backs tests and dry runs that must not touch Postgres.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/lineage"
)

// Store keeps every table in maps guarded by a single mutex. List calls
// return rows in insertion order unless documented otherwise.
type Store struct {
	mu sync.RWMutex

	companies      map[uuid.UUID]consol.Company
	statements     map[uuid.UUID]consol.FinancialStatement
	balances       []consol.AccountBalance
	incomeLines    []consol.IncomeStatementBalance
	transactions   []consol.IntercompanyTransaction
	participations []consol.Participation

	entries     map[uuid.UUID]consol.ConsolidationEntry
	entryOrder  []uuid.UUID
	taxes       map[uuid.UUID]consol.DeferredTax
	taxOrder    []uuid.UUID
	equityRuns  []consol.EquityMethodResult
	goodwill    []consol.GoodwillAmortization
	nodes       map[uuid.UUID]lineage.Node
	nodeOrder   []uuid.UUID
	traces      map[uuid.UUID]lineage.Trace
	traceOrder  []uuid.UUID
	docs        map[uuid.UUID]lineage.Documentation
	docOrder    []uuid.UUID
	failedEntry func(consol.ConsolidationEntry) error

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		companies:  make(map[uuid.UUID]consol.Company),
		statements: make(map[uuid.UUID]consol.FinancialStatement),
		entries:    make(map[uuid.UUID]consol.ConsolidationEntry),
		taxes:      make(map[uuid.UUID]consol.DeferredTax),
		nodes:      make(map[uuid.UUID]lineage.Node),
		traces:     make(map[uuid.UUID]lineage.Trace),
		docs:       make(map[uuid.UUID]lineage.Documentation),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.now = clock
	}
	return s
}

// FailEntryInserts installs a hook that can reject entry inserts.
func (s *Store) FailEntryInserts(fn func(consol.ConsolidationEntry) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedEntry = fn
}

// AddCompany seeds a company, generating an id when missing.
func (s *Store) AddCompany(c consol.Company) consol.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ConsolidationType == "" {
		c.ConsolidationType = consol.ConsolidationFull
	}
	s.companies[c.ID] = c
	return c
}

// AddStatement seeds a financial statement.
func (s *Store) AddStatement(fs consol.FinancialStatement) consol.FinancialStatement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs.ID == uuid.Nil {
		fs.ID = uuid.New()
	}
	if fs.Status == "" {
		fs.Status = consol.StatementFinalized
	}
	s.statements[fs.ID] = fs
	return fs
}

// AddBalance seeds an account balance. Balance defaults to Debit - Credit.
func (s *Store) AddBalance(b consol.AccountBalance) consol.AccountBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.AccountID == uuid.Nil {
		b.AccountID = uuid.New()
	}
	if b.Balance.IsZero() {
		b.Balance = b.Debit.Sub(b.Credit)
	}
	if fs, ok := s.statements[b.FinancialStatementID]; ok && b.CompanyID == uuid.Nil {
		b.CompanyID = fs.CompanyID
	}
	s.balances = append(s.balances, b)
	return b
}

// AddIncomeStatementBalance seeds a dedicated income statement line.
func (s *Store) AddIncomeStatementBalance(line consol.IncomeStatementBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incomeLines = append(s.incomeLines, line)
}

// AddTransaction seeds an intercompany transaction.
func (s *Store) AddTransaction(t consol.IntercompanyTransaction) consol.IntercompanyTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.transactions = append(s.transactions, t)
	return t
}

// AddParticipation seeds an ownership stake.
func (s *Store) AddParticipation(p consol.Participation) consol.Participation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.participations = append(s.participations, p)
	return p
}

func (s *Store) GetCompany(_ context.Context, id uuid.UUID) (consol.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return consol.Company{}, fmt.Errorf("company %s: %w", id, consol.ErrNotFound)
	}
	return c, nil
}

// ListChildren returns direct children ordered by name then id.
func (s *Store) ListChildren(_ context.Context, parentID uuid.UUID) ([]consol.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.Company, 0)
	for _, c := range s.companies {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetFinancialStatement(_ context.Context, id uuid.UUID) (consol.FinancialStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.statements[id]
	if !ok {
		return consol.FinancialStatement{}, fmt.Errorf("financial statement %s: %w", id, consol.ErrNotFound)
	}
	return fs, nil
}

// ListFinancialStatements returns matching statements ordered by fiscal year then id.
func (s *Store) ListFinancialStatements(_ context.Context, filter consol.StatementFilter) ([]consol.FinancialStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.FinancialStatement, 0)
	for _, fs := range s.statements {
		if len(filter.CompanyIDs) > 0 && !slices.Contains(filter.CompanyIDs, fs.CompanyID) {
			continue
		}
		if filter.FiscalYear != 0 && fs.FiscalYear != filter.FiscalYear {
			continue
		}
		if filter.Status != "" && fs.Status != filter.Status {
			continue
		}
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiscalYear != out[j].FiscalYear {
			return out[i].FiscalYear < out[j].FiscalYear
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) UpdateStatementStatus(_ context.Context, id uuid.UUID, status consol.StatementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.statements[id]
	if !ok {
		return fmt.Errorf("financial statement %s: %w", id, consol.ErrNotFound)
	}
	fs.Status = status
	s.statements[id] = fs
	return nil
}

func (s *Store) ListAccountBalances(_ context.Context, statementID uuid.UUID, filter consol.BalanceFilter) ([]consol.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.AccountBalance, 0)
	for _, b := range s.balances {
		if b.FinancialStatementID != statementID {
			continue
		}
		if filter.IntercompanyOnly && !b.IsIntercompany {
			continue
		}
		if len(filter.AccountTypes) > 0 && !slices.Contains(filter.AccountTypes, b.AccountType) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) ListIncomeStatementBalances(_ context.Context, statementID uuid.UUID) ([]consol.IncomeStatementBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.IncomeStatementBalance, 0)
	for _, line := range s.incomeLines {
		if line.FinancialStatementID == statementID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (s *Store) ListIntercompanyTransactions(_ context.Context, filter consol.TransactionFilter) ([]consol.IntercompanyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.IntercompanyTransaction, 0)
	for _, t := range s.transactions {
		if len(filter.StatementIDs) > 0 && !slices.Contains(filter.StatementIDs, t.FinancialStatementID) {
			continue
		}
		if len(filter.CompanyIDs) > 0 && !slices.Contains(filter.CompanyIDs, t.FromCompanyID) && !slices.Contains(filter.CompanyIDs, t.ToCompanyID) {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, t.TransactionType) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ListParticipations(_ context.Context, filter consol.ParticipationFilter) ([]consol.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.Participation, 0)
	for _, p := range s.participations {
		if len(filter.ParentCompanyIDs) > 0 && !slices.Contains(filter.ParentCompanyIDs, p.ParentCompanyID) {
			continue
		}
		if len(filter.SubsidiaryCompanyIDs) > 0 && !slices.Contains(filter.SubsidiaryCompanyIDs, p.SubsidiaryCompanyID) {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
