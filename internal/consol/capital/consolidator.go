package capital

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
)

var participationAccountPattern = regexp.MustCompile(`(?i)beteiligung|participation|anteile an`)

// Consolidator runs full, equity-method and proportional consolidation.
type Consolidator struct {
	repo       Repository
	emitter    *consol.Emitter
	logger     *slog.Logger
	usefulLife int
}

// NewConsolidator wires the consolidator. Lineage may be nil.
func NewConsolidator(repo Repository, entries consol.EntryWriter, lineage consol.LineageTracker, logger *slog.Logger, cfg Config) *Consolidator {
	life := cfg.UsefulLifeYears
	if life <= 0 {
		life = consol.DefaultUsefulLifeYears
	}
	return &Consolidator{
		repo:       repo,
		emitter:    consol.NewEmitter(entries, lineage, logger, "capital"),
		logger:     logger,
		usefulLife: life,
	}
}

// Run performs full consolidation, the equity method and quota consolidation
// in that order. Each method only touches the companies it applies to.
func (c *Consolidator) Run(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) (Result, error) {
	res := newResult()
	full, err := c.ConsolidateFull(ctx, target, sc)
	res.Merge(full)
	if err != nil {
		return res, err
	}
	equity, err := c.ApplyEquityMethod(ctx, target, sc)
	res.Merge(equity)
	if err != nil {
		return res, err
	}
	quota, err := c.ConsolidateProportional(ctx, target, sc)
	res.Merge(quota)
	if err != nil {
		return res, err
	}
	c.log().Info("capital consolidation finished",
		slog.String("statement_id", target.ID.String()),
		slog.Int("entries", len(res.Entries)),
		slog.String("goodwill", res.TotalGoodwill.StringFixed(2)),
		slog.Int("missing_info", len(res.MissingInfo)))
	return res, nil
}

func (c *Consolidator) ready() error {
	if c == nil || c.repo == nil || c.emitter == nil {
		return fmt.Errorf("capital consolidator not initialised")
	}
	return nil
}

// emit stores an entry, counting failures instead of aborting the pass.
func (c *Consolidator) emit(ctx context.Context, res *Result, entry consol.ConsolidationEntry, sources ...consol.LineageSource) (consol.ConsolidationEntry, bool) {
	stored, err := c.emitter.Emit(ctx, entry, sources...)
	if err != nil {
		res.FailedInserts++
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: Konsolidierungsbuchung konnte nicht gespeichert werden", entry.Description))
		return consol.ConsolidationEntry{}, false
	}
	res.Entries = append(res.Entries, stored)
	return stored, true
}

// statementFor returns the statement of a company for the fiscal year.
func (c *Consolidator) statementFor(ctx context.Context, companyID uuid.UUID, year int) (consol.FinancialStatement, bool, error) {
	rows, err := c.repo.ListFinancialStatements(ctx, consol.StatementFilter{
		CompanyIDs: []uuid.UUID{companyID},
		FiscalYear: year,
	})
	if err != nil {
		return consol.FinancialStatement{}, false, fmt.Errorf("list statements of %s: %w", companyID, err)
	}
	if len(rows) == 0 {
		return consol.FinancialStatement{}, false, nil
	}
	return rows[0], true, nil
}

// participationFor picks the active stake in a company, preferring the direct
// parent and then any holder inside the scope.
func (c *Consolidator) participationFor(ctx context.Context, company consol.Company, sc scope.Scope) (consol.Participation, bool, error) {
	rows, err := c.repo.ListParticipations(ctx, consol.ParticipationFilter{
		SubsidiaryCompanyIDs: []uuid.UUID{company.ID},
		ActiveOnly:           true,
	})
	if err != nil {
		return consol.Participation{}, false, fmt.Errorf("list participations in %s: %w", company.ID, err)
	}
	if len(rows) == 0 {
		return consol.Participation{}, false, nil
	}
	if company.ParentID != nil {
		for _, p := range rows {
			if p.ParentCompanyID == *company.ParentID {
				return p, true, nil
			}
		}
	}
	for _, p := range rows {
		if p.ParentCompanyID == sc.Parent.ID || sc.Contains(p.ParentCompanyID) {
			return p, true, nil
		}
	}
	return rows[0], true, nil
}

// participationAccount finds the holder's investment account for a company.
// Accounts naming the company win over the first generic match.
func (c *Consolidator) participationAccount(ctx context.Context, holderID uuid.UUID, year int, companyName string) (consol.AccountBalance, bool, error) {
	stmt, ok, err := c.statementFor(ctx, holderID, year)
	if err != nil || !ok {
		return consol.AccountBalance{}, false, err
	}
	rows, err := c.repo.ListAccountBalances(ctx, stmt.ID, consol.BalanceFilter{
		AccountTypes: []consol.AccountType{consol.AccountAsset},
	})
	if err != nil {
		return consol.AccountBalance{}, false, fmt.Errorf("list asset balances of %s: %w", holderID, err)
	}
	var (
		first consol.AccountBalance
		found bool
	)
	name := strings.ToLower(companyName)
	for _, b := range rows {
		if !participationAccountPattern.MatchString(b.AccountName) {
			continue
		}
		if name != "" && strings.Contains(strings.ToLower(b.AccountName), name) {
			return b, true, nil
		}
		if !found {
			first = b
			found = true
		}
	}
	return first, found, nil
}

// companyName resolves a name from the scope, falling back to the repository.
func (c *Consolidator) companyName(ctx context.Context, sc scope.Scope, id uuid.UUID) string {
	if sc.Parent.ID == id {
		return sc.Parent.Name
	}
	if company, ok := sc.Company(id); ok {
		return company.Name
	}
	company, err := c.repo.GetCompany(ctx, id)
	if err != nil {
		if !errors.Is(err, consol.ErrNotFound) {
			c.log().Warn("resolve company name", slog.String("company_id", id.String()), slog.Any("error", err))
		}
		return id.String()
	}
	return company.Name
}

func (c *Consolidator) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "capital"))
	}
	return slog.Default().With(slog.String("component", "capital"))
}
