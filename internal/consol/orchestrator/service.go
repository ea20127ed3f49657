// Package orchestrator sequences one consolidation run of a financial
// statement: scope, matching, eliminations, capital consolidation, deferred
// taxes and the final lineage of the consolidated figures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/capital"
	"github.com/odyssey-erp/konzern/internal/consol/deferredtax"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// AuditEntity names the audited entity of a run.
	AuditEntity = "financial_statements"
	// AuditActionRun marks a completed consolidation run.
	AuditActionRun = "consolidation_run"
	// AuditActionStatus marks a manual statement status change.
	AuditActionStatus = "statement_status"

	// DefaultStepTimeout bounds every step when neither config nor options set one.
	DefaultStepTimeout = 2 * time.Minute
)

// Store is the persistence surface of a full run.
type Store interface {
	consol.Store
	lineage.Store
}

// Locker hands out per-key locks. shared.RedisLocker and shared.LocalLocker
// both satisfy it.
type Locker interface {
	Acquire(ctx context.Context, key string) (*shared.Lock, error)
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config carries the defaults of every run.
type Config struct {
	Tolerance       decimal.Decimal
	TaxRate         decimal.Decimal
	UsefulLifeYears int
	StepTimeout     time.Duration
}

// RunOptions tune a single run.
type RunOptions struct {
	TaxRate     *decimal.Decimal
	StepTimeout time.Duration
	Actor       string
}

// Summary counts the entries a run produced.
type Summary struct {
	TotalEntries             int
	IntercompanyEliminations int
	DebtConsolidations       int
	CapitalConsolidations    int
	EquityMethod             int
	Proportional             int
	DeferredTax              int
	MinorityInterest         int
	TotalAmount              decimal.Decimal
	UnmatchedTransactions    int
	FailedInserts            int
}

// RunResult is everything one consolidation run produced.
type RunResult struct {
	StatementID        uuid.UUID
	Entries            []consol.ConsolidationEntry
	Summary            Summary
	Scope              scope.Scope
	Match              ic.Result
	Elimination        elimination.Summary
	Capital            capital.Result
	DeferredTax        deferredtax.Result
	ConsolidatedValues []lineage.Node
	MissingInfo        []string
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Service wires the pipeline components around one store.
type Service struct {
	store       Store
	locker      Locker
	audit       AuditRecorder
	logger      *slog.Logger
	resolver    *scope.Resolver
	matcher     *ic.Matcher
	eliminator  *elimination.Eliminator
	capital     *capital.Consolidator
	deferredTax *deferredtax.Calculator
	tracker     *lineage.Tracker
	recorder    *lineage.Recorder
	exporter    *lineage.Exporter
	stepTimeout time.Duration
	now         func() time.Time
}

// NewService constructs the orchestrator. A nil locker falls back to an
// in-process lock; audit may be nil.
func NewService(store Store, locker Locker, audit AuditRecorder, logger *slog.Logger, cfg Config) *Service {
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	tracker := lineage.NewTracker(store, logger)
	return &Service{
		store:       store,
		locker:      locker,
		audit:       audit,
		logger:      logger,
		resolver:    scope.NewResolver(store, logger),
		matcher:     ic.NewMatcher(store, audit, logger, ic.MatcherConfig{Tolerance: cfg.Tolerance}),
		eliminator:  elimination.NewEliminator(store, tracker, logger),
		capital:     capital.NewConsolidator(store, store, tracker, logger, capital.Config{UsefulLifeYears: cfg.UsefulLifeYears}),
		deferredTax: deferredtax.NewCalculator(store, tracker, audit, logger, deferredtax.Config{TaxRate: cfg.TaxRate}),
		tracker:     tracker,
		recorder:    lineage.NewRecorder(store, logger).WithCompanies(store),
		exporter:    lineage.NewExporter(store, store, logger),
		stepTimeout: timeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if s != nil && clock != nil {
		s.now = clock
		s.exporter.WithClock(clock)
	}
	return s
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("consolidation orchestrator not initialised")
	}
	return nil
}

// ResolveScope returns the consolidation group of a parent company. An empty
// group is reported as consol.ErrInvalidScope.
func (s *Service) ResolveScope(ctx context.Context, parentID uuid.UUID) (scope.Scope, error) {
	if err := s.ready(); err != nil {
		return scope.Scope{}, err
	}
	sc, err := s.resolver.Resolve(ctx, parentID)
	if err != nil {
		return sc, err
	}
	return sc, sc.Err()
}

// Run consolidates one financial statement. The statement is locked for the
// duration of the run; a concurrent run fails with ErrConcurrencyConflict.
// Entries written by completed steps stay in place when a later step fails.
func (s *Service) Run(ctx context.Context, statementID uuid.UUID, opts RunOptions) (RunResult, error) {
	if err := s.ready(); err != nil {
		return RunResult{}, err
	}
	res := RunResult{StatementID: statementID, StartedAt: s.now()}
	target, err := s.store.GetFinancialStatement(ctx, statementID)
	if err != nil {
		return res, fmt.Errorf("load statement %s: %w", statementID, err)
	}
	if target.Status == consol.StatementConsolidated {
		return res, fmt.Errorf("statement %s already consolidated: %w", statementID, consol.ErrInvalidTransition)
	}
	if err := consol.ValidateStatementTransition(target.Status, consol.StatementConsolidated, false); err != nil {
		return res, err
	}

	held, release, err := s.lock(ctx, statementID)
	if err != nil {
		return res, err
	}
	defer release()

	timeout := s.stepTimeout
	if opts.StepTimeout > 0 {
		timeout = opts.StepTimeout
	}
	// The lock is extended before every step, so one step must fit in its ttl.
	if ttl := held.TTL(); ttl > 0 && timeout >= ttl {
		return res, fmt.Errorf("step timeout %s must stay below the lock ttl %s: %w", timeout, ttl, consol.ErrValidation)
	}

	err = s.step(ctx, held, "scope", timeout, func(ctx context.Context) error {
		sc, err := s.ResolveScope(ctx, target.CompanyID)
		res.Scope = sc
		res.MissingInfo = append(res.MissingInfo, sc.Diagnostics...)
		return err
	})
	if err != nil {
		return res, err
	}

	err = s.step(ctx, held, "match", timeout, func(ctx context.Context) error {
		match, err := s.matcher.Match(ctx, target, res.Scope)
		res.Match = match
		return err
	})
	if err != nil {
		return res, err
	}
	res.MissingInfo = append(res.MissingInfo, res.Match.MissingInfo...)

	err = s.step(ctx, held, "eliminate", timeout, func(ctx context.Context) error {
		summary, err := s.eliminator.Run(ctx, target, res.Scope, res.Match)
		res.Elimination = summary
		return err
	})
	res.Entries = append(res.Entries, res.Elimination.Entries...)
	res.MissingInfo = append(res.MissingInfo, res.Elimination.MissingInfo...)
	if err != nil {
		return res, err
	}

	err = s.step(ctx, held, "capital", timeout, func(ctx context.Context) error {
		result, err := s.capital.Run(ctx, target, res.Scope)
		res.Capital = result
		return err
	})
	res.Entries = append(res.Entries, res.Capital.Entries...)
	res.MissingInfo = append(res.MissingInfo, res.Capital.MissingInfo...)
	if err != nil {
		return res, err
	}

	err = s.step(ctx, held, "deferred_tax", timeout, func(ctx context.Context) error {
		result, err := s.deferredTax.Calculate(ctx, target.ID, opts.TaxRate)
		res.DeferredTax = result
		return err
	})
	res.Entries = append(res.Entries, res.DeferredTax.Entries...)
	res.MissingInfo = append(res.MissingInfo, res.DeferredTax.MissingInfo...)
	if err != nil {
		return res, err
	}

	err = s.step(ctx, held, "lineage", timeout, func(ctx context.Context) error {
		values, err := s.consolidatedValues(ctx, target, res.Scope)
		if err != nil {
			return err
		}
		nodes, err := s.tracker.TrackConsolidatedValues(ctx, target.ID, values)
		res.ConsolidatedValues = nodes
		return err
	})
	if errors.Is(err, shared.ErrLockLost) {
		return res, err
	}
	if err != nil {
		// Lineage of the final figures never invalidates the booked entries.
		s.log().Warn("track consolidated values", slog.String("statement_id", target.ID.String()), slog.Any("error", err))
		res.MissingInfo = append(res.MissingInfo, "Herleitung der Konzernwerte konnte nicht vollständig gespeichert werden")
	}

	if err := s.store.UpdateStatementStatus(ctx, target.ID, consol.StatementConsolidated); err != nil {
		return res, fmt.Errorf("mark statement consolidated: %w", err)
	}

	res.Summary = Summarize(res.Entries)
	res.Summary.UnmatchedTransactions = res.Elimination.UnmatchedTransactions
	res.Summary.FailedInserts = res.Elimination.FailedInserts + res.Capital.FailedInserts + res.DeferredTax.FailedWrites
	res.FinishedAt = s.now()

	s.log().Info("consolidation run finished",
		slog.String("statement_id", target.ID.String()),
		slog.Int("companies", len(res.Scope.Companies)),
		slog.Int("entries", res.Summary.TotalEntries),
		slog.Int("missing_info", len(res.MissingInfo)),
		slog.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
	s.recordAudit(ctx, opts.Actor, target.ID, res)
	return res, nil
}

// MatchTransactions pairs the intercompany rows of a statement's group
// without writing entries.
func (s *Service) MatchTransactions(ctx context.Context, statementID uuid.UUID) (ic.Result, error) {
	if err := s.ready(); err != nil {
		return ic.Result{}, err
	}
	target, err := s.store.GetFinancialStatement(ctx, statementID)
	if err != nil {
		return ic.Result{}, fmt.Errorf("load statement %s: %w", statementID, err)
	}
	sc, err := s.ResolveScope(ctx, target.CompanyID)
	if err != nil {
		return ic.Result{}, err
	}
	return s.matcher.Match(ctx, target, sc)
}

// CalculateDeferredTax recalculates the deferred taxes of a statement under
// the statement lock. A nil rate uses the configured default.
func (s *Service) CalculateDeferredTax(ctx context.Context, statementID uuid.UUID, rate *decimal.Decimal) (deferredtax.Result, error) {
	if err := s.ready(); err != nil {
		return deferredtax.Result{}, err
	}
	if _, err := s.store.GetFinancialStatement(ctx, statementID); err != nil {
		return deferredtax.Result{}, fmt.Errorf("load statement %s: %w", statementID, err)
	}
	_, release, err := s.lock(ctx, statementID)
	if err != nil {
		return deferredtax.Result{}, err
	}
	defer release()
	return s.deferredTax.Calculate(ctx, statementID, rate)
}

// DeferredTaxes lists the deferred tax positions of a statement.
func (s *Service) DeferredTaxes(ctx context.Context, statementID uuid.UUID) ([]consol.DeferredTax, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.deferredTax.List(ctx, statementID)
}

// DeferredTaxSummary aggregates the positions of a statement.
func (s *Service) DeferredTaxSummary(ctx context.Context, statementID uuid.UUID) (deferredtax.Summary, error) {
	if err := s.ready(); err != nil {
		return deferredtax.Summary{}, err
	}
	return s.deferredTax.Summary(ctx, statementID)
}

// DeleteDeferredTax removes a position and its generated entry under the
// lock of the owning statement.
func (s *Service) DeleteDeferredTax(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	row, err := s.store.GetDeferredTax(ctx, id)
	if err != nil {
		return fmt.Errorf("load deferred tax %s: %w", id, err)
	}
	_, release, err := s.lock(ctx, row.FinancialStatementID)
	if err != nil {
		return err
	}
	defer release()
	return s.deferredTax.Delete(ctx, id)
}

// BuildLineageGraph returns the lineage graph of a statement.
func (s *Service) BuildLineageGraph(ctx context.Context, statementID uuid.UUID) (lineage.Graph, error) {
	if err := s.ready(); err != nil {
		return lineage.Graph{}, err
	}
	return s.recorder.BuildGraph(ctx, statementID)
}

// ExportAuditTrail exports nodes, traces and documentation of a statement.
func (s *Service) ExportAuditTrail(ctx context.Context, statementID uuid.UUID) (lineage.AuditTrail, error) {
	if err := s.ready(); err != nil {
		return lineage.AuditTrail{}, err
	}
	return s.exporter.Export(ctx, statementID)
}

// SetStatementStatus moves a statement through draft and finalized. The
// consolidated status is reached only through Run; reopen allows the step
// back from consolidated to finalized.
func (s *Service) SetStatementStatus(ctx context.Context, statementID uuid.UUID, status consol.StatementStatus, reopen bool, actor string) (consol.FinancialStatement, error) {
	if err := s.ready(); err != nil {
		return consol.FinancialStatement{}, err
	}
	if status == consol.StatementConsolidated {
		return consol.FinancialStatement{}, fmt.Errorf("statement %s: consolidate through a run: %w", statementID, consol.ErrInvalidTransition)
	}
	_, release, err := s.lock(ctx, statementID)
	if err != nil {
		return consol.FinancialStatement{}, err
	}
	defer release()

	stmt, err := s.store.GetFinancialStatement(ctx, statementID)
	if err != nil {
		return consol.FinancialStatement{}, fmt.Errorf("load statement %s: %w", statementID, err)
	}
	if err := consol.ValidateStatementTransition(stmt.Status, status, reopen); err != nil {
		return stmt, err
	}
	previous := stmt.Status
	if previous == status {
		return stmt, nil
	}
	if err := s.store.UpdateStatementStatus(ctx, statementID, status); err != nil {
		return stmt, fmt.Errorf("update statement %s: %w", statementID, err)
	}
	stmt.Status = status
	if s.audit != nil {
		if actor == "" {
			actor = shared.SystemActor
		}
		err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   AuditActionStatus,
			Entity:   AuditEntity,
			EntityID: statementID.String(),
			Meta:     map[string]any{"from": string(previous), "to": string(status)},
		})
		if err != nil {
			s.log().Warn("record status audit", slog.Any("error", err))
		}
	}
	return stmt, nil
}

// lock takes the statement lock and returns it with its release func.
func (s *Service) lock(ctx context.Context, statementID uuid.UUID) (*shared.Lock, func(), error) {
	lock, err := s.locker.Acquire(ctx, shared.StatementLockKey(statementID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, nil, fmt.Errorf("statement %s: %w", statementID, consol.ErrConcurrencyConflict)
		}
		return nil, nil, fmt.Errorf("lock statement %s: %w", statementID, err)
	}
	return lock, func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.log().Warn("release statement lock", slog.String("key", lock.Key()), slog.Any("error", err))
		}
	}, nil
}

// step extends the statement lock, runs fn under its own timeout and tags
// failures with the step name.
func (s *Service) step(ctx context.Context, held *shared.Lock, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := held.Extend(ctx); err != nil {
		s.log().Error("statement lock lost", slog.String("step", name), slog.Any("error", err))
		return fmt.Errorf("%s: %w", name, err)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := s.now()
	if err := fn(stepCtx); err != nil {
		s.log().Error("consolidation step failed", slog.String("step", name), slog.Any("error", err))
		return fmt.Errorf("%s: %w", name, err)
	}
	s.log().Debug("consolidation step finished", slog.String("step", name), slog.Duration("duration", s.now().Sub(start)))
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor string, statementID uuid.UUID, res RunResult) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.SystemActor
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   AuditActionRun,
		Entity:   AuditEntity,
		EntityID: statementID.String(),
		Meta: map[string]any{
			"companies":      len(res.Scope.Companies),
			"entries":        res.Summary.TotalEntries,
			"total_amount":   res.Summary.TotalAmount.StringFixed(2),
			"failed_inserts": res.Summary.FailedInserts,
			"missing_info":   len(res.MissingInfo),
		},
	})
	if err != nil {
		s.log().Warn("record consolidation audit", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol_orchestrator"))
	}
	return slog.Default().With(slog.String("component", "consol_orchestrator"))
}
