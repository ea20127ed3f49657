package ic

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type fixture struct {
	store   *memstore.Store
	parent  consol.Company
	sub     consol.Company
	target  consol.FinancialStatement
	subStmt consol.FinancialStatement
	scope   scope.Scope
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	parent := store.AddCompany(consol.Company{Name: "Holding AG", IsConsolidated: true})
	sub := store.AddCompany(consol.Company{Name: "Beta GmbH", IsConsolidated: true, ParentID: &parent.ID})
	target := store.AddStatement(consol.FinancialStatement{CompanyID: parent.ID, FiscalYear: 2024})
	subStmt := store.AddStatement(consol.FinancialStatement{CompanyID: sub.ID, FiscalYear: 2024})
	store.AddStatement(consol.FinancialStatement{CompanyID: sub.ID, FiscalYear: 2023})

	sc, err := scope.NewResolver(store, nil).Resolve(context.Background(), parent.ID)
	require.NoError(t, err)
	return fixture{store: store, parent: parent, sub: sub, target: target, subStmt: subStmt, scope: sc}
}

func (f fixture) balance(stmt consol.FinancialStatement, number, name string, amount int64) consol.AccountBalance {
	return f.store.AddBalance(consol.AccountBalance{
		FinancialStatementID: stmt.ID,
		AccountNumber:        number,
		AccountName:          name,
		Balance:              decimal.NewFromInt(amount),
		IsIntercompany:       true,
	})
}

func TestMatchFullyMatchedReceivablePayable(t *testing.T) {
	f := newFixture(t)
	recv := f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 10000)
	pay := f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -10000)

	audit := &stubAudit{}
	m := NewMatcher(f.store, audit, slog.Default(), MatcherConfig{})
	res, err := m.Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	p := res.Pairs[0]
	require.Equal(t, CategoryTrade, p.Category)
	require.Equal(t, f.sub.ID, p.CreditorID)
	require.Equal(t, f.parent.ID, p.DebtorID)
	require.Equal(t, recv.ID, p.Creditor.ID)
	require.Equal(t, pay.ID, p.Debtor.ID)
	require.True(t, p.Matched.Equal(decimal.NewFromInt(10000)))
	require.True(t, p.Difference.IsZero())
	require.True(t, p.Exact)
	require.Empty(t, res.Unmatched)
	require.Empty(t, res.MissingInfo)
	require.Len(t, res.Reconciliations, 1)
	require.Equal(t, consol.ReconciliationCleared, res.Reconciliations[0].Status)

	require.Len(t, audit.logs, 1)
	require.Equal(t, AuditAction, audit.logs[0].Action)
	require.Equal(t, f.target.ID.String(), audit.logs[0].EntityID)
}

func TestMatchPartialAmountsReportsDifference(t *testing.T) {
	f := newFixture(t)
	f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 10000)
	f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -9500)

	res, err := NewMatcher(f.store, nil, nil, MatcherConfig{}).Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	require.True(t, res.Pairs[0].Matched.Equal(decimal.NewFromInt(9500)))
	require.True(t, res.Pairs[0].Difference.Equal(decimal.NewFromInt(500)))
	require.False(t, res.Pairs[0].Exact)
	require.Len(t, res.MissingInfo, 1)
	require.Contains(t, res.MissingInfo[0], consol.FormatAmount(decimal.NewFromInt(10000)))
	require.Contains(t, res.MissingInfo[0], consol.FormatAmount(decimal.NewFromInt(9500)))
	require.Len(t, res.Unmatched, 1)
	require.True(t, res.Unmatched[0].Amount.Equal(decimal.NewFromInt(500)))
	require.Equal(t, consol.ReconciliationOpen, res.Reconciliations[0].Status)
}

func TestMatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 4000)
	f.balance(f.subStmt, "1210", "Forderungen LuL Holding AG", 2500)
	f.balance(f.subStmt, "1220", "Ausstehende Beträge Holding AG", 700)
	f.balance(f.target, "2200", "Verbindlichkeiten Beta GmbH", -2500)
	f.balance(f.target, "2210", "Verbindlichkeiten LuL Beta GmbH", -3990)

	m := NewMatcher(f.store, nil, nil, MatcherConfig{})
	first, err := m.Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)
	second, err := m.Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)

	require.Equal(t, first.Pairs, second.Pairs)
	require.Equal(t, first.Unmatched, second.Unmatched)
	require.Equal(t, first.MissingInfo, second.MissingInfo)

	require.Len(t, first.Pairs, 2)
	// 2500 pairs exactly in pass one, 4000 takes the nearest remaining payable.
	require.True(t, first.Pairs[0].Matched.Equal(decimal.NewFromInt(2500)))
	require.True(t, first.Pairs[1].Matched.Equal(decimal.NewFromInt(3990)))
	require.Len(t, first.Unmatched, 2)
	require.True(t, first.Unmatched[1].Amount.Equal(decimal.NewFromInt(700)))
}

func TestMatchSeparatesCategoriesAndFlagsProblems(t *testing.T) {
	f := newFixture(t)
	f.balance(f.subStmt, "1300", "Darlehensforderung Holding AG", 50000)
	f.balance(f.target, "2300", "Darlehensverbindlichkeit Beta GmbH", -50000)
	f.balance(f.subStmt, "8100", "Zinserträge Holding AG", -1500)
	f.balance(f.target, "7300", "Zinsaufwand Beta GmbH", 1500)
	f.balance(f.subStmt, "1400", "Forderungen an unbekannt", 300)
	f.balance(f.target, "2400", "Verbindlichkeiten Beta GmbH", 200)

	res, err := NewMatcher(f.store, nil, nil, MatcherConfig{}).Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)

	require.Len(t, res.PairsOf(CategoryLoan), 1)
	require.Len(t, res.PairsOf(CategoryInterest), 1)
	interest := res.PairsOf(CategoryInterest)[0]
	require.Equal(t, f.sub.ID, interest.CreditorID)
	require.True(t, interest.Creditor.Amount.IsNegative())
	require.Len(t, res.MissingInfo, 2)
	joined := strings.Join(res.MissingInfo, "\n")
	require.Contains(t, joined, "Geschäftspartner")
	require.Contains(t, joined, "passt nicht")
}

func TestExplicitTransactionsOverrideBalances(t *testing.T) {
	f := newFixture(t)
	recv := f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 9000)
	f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -10000)
	tx := f.store.AddTransaction(consol.IntercompanyTransaction{
		FinancialStatementID: f.subStmt.ID,
		FromCompanyID:        f.sub.ID,
		ToCompanyID:          f.parent.ID,
		AccountID:            recv.AccountID,
		AccountNumber:        "1200",
		AccountName:          "Forderungen gegen Holding AG",
		Amount:               decimal.NewFromInt(10000),
		TransactionType:      consol.TransactionReceivable,
	})
	delivery := f.store.AddTransaction(consol.IntercompanyTransaction{
		FinancialStatementID: f.subStmt.ID,
		FromCompanyID:        f.sub.ID,
		ToCompanyID:          f.parent.ID,
		AccountNumber:        "8000",
		AccountName:          "Umsatzerlöse Holding AG",
		Amount:               decimal.NewFromInt(1200),
		TransactionType:      consol.TransactionDelivery,
	})

	res, err := NewMatcher(f.store, nil, nil, MatcherConfig{}).Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)

	trade := res.PairsOf(CategoryTrade)
	require.Len(t, trade, 1)
	require.Equal(t, tx.ID, trade[0].Creditor.ID)
	require.Equal(t, OriginTransaction, trade[0].Creditor.Origin)
	require.True(t, trade[0].Exact)
	require.Len(t, res.Deliveries, 1)
	require.Equal(t, delivery.ID, res.Deliveries[0].ID)
}

func TestMatchCandidatesRejectsSelfPairs(t *testing.T) {
	a := consol.Company{ID: uuid.New(), Name: "Alpha"}
	cand := Candidate{
		ID:             uuid.New(),
		CompanyID:      a.ID,
		CounterpartyID: a.ID,
		Amount:         decimal.NewFromInt(100),
		Side:           SideReceivable,
		Category:       CategoryTrade,
	}
	pairs, unmatched, recon, missing := MatchCandidates([]consol.Company{a}, []Candidate{cand}, consol.DefaultTolerance)
	require.Empty(t, pairs)
	require.Empty(t, unmatched)
	require.Empty(t, recon)
	require.Empty(t, missing)

	_, diag, ok := ClassifyTransaction(consol.IntercompanyTransaction{
		FromCompanyID:   a.ID,
		ToCompanyID:     a.ID,
		Amount:          decimal.NewFromInt(5),
		TransactionType: consol.TransactionLoan,
	})
	require.True(t, ok)
	require.NotEmpty(t, diag)
}

func TestIdentifyCounterpartyPrefersLongestName(t *testing.T) {
	holder := consol.Company{ID: uuid.New(), Name: "Holding"}
	short := consol.Company{ID: uuid.New(), Name: "Beta"}
	long := consol.Company{ID: uuid.New(), Name: "Beta Logistik GmbH"}
	id, ok := identifyCounterparty("Forderungen Beta Logistik GmbH", holder.ID, []consol.Company{holder, short, long})
	require.True(t, ok)
	require.Equal(t, long.ID, id)

	_, ok = identifyCounterparty("Forderungen Holding", holder.ID, []consol.Company{holder})
	require.False(t, ok)
}

func TestMatchLeavesJointVenturesToQuotaConsolidation(t *testing.T) {
	f := newFixture(t)
	jv := f.store.AddCompany(consol.Company{
		Name:              "Delta JV GmbH",
		IsConsolidated:    true,
		ParentID:          &f.parent.ID,
		ConsolidationType: consol.ConsolidationProportional,
	})
	jvStmt := f.store.AddStatement(consol.FinancialStatement{CompanyID: jv.ID, FiscalYear: 2024})
	f.balance(jvStmt, "2200", "Verbindlichkeiten gegenüber Holding AG", -8000)
	f.balance(f.target, "1200", "Forderungen gegen Delta JV GmbH", 8000)
	sc, err := scope.NewResolver(f.store, nil).Resolve(context.Background(), f.parent.ID)
	require.NoError(t, err)
	require.True(t, sc.Contains(jv.ID))

	res, err := NewMatcher(f.store, nil, nil, MatcherConfig{}).Match(context.Background(), f.target, sc)
	require.NoError(t, err)
	require.Empty(t, res.Pairs)
	require.Empty(t, res.Unmatched)
	require.Empty(t, res.MissingInfo)
}
