package consol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineageSource describes a value that contributed to an entry. When NodeID is
// set the existing lineage node is reused instead of creating a source node.
type LineageSource struct {
	NodeID      *uuid.UUID
	EntityType  string
	EntityID    uuid.UUID
	Name        string
	Value       decimal.Decimal
	CompanyID   *uuid.UUID
	AccountCode string
}

// Source entity types used for lineage nodes.
const (
	EntityAccountBalance     = "account_balance"
	EntityTransaction        = "intercompany_transaction"
	EntityParticipation      = "participation"
	EntityConsolidationEntry = "consolidation_entry"
	EntityDeferredTax        = "deferred_tax"
)

// BalanceSource builds a lineage source for an account balance.
func BalanceSource(b AccountBalance) LineageSource {
	company := b.CompanyID
	return LineageSource{
		EntityType:  EntityAccountBalance,
		EntityID:    b.ID,
		Name:        fmt.Sprintf("%s: %s", b.AccountNumber, b.AccountName),
		Value:       b.Balance,
		CompanyID:   &company,
		AccountCode: b.AccountNumber,
	}
}

// TransactionSource builds a lineage source for an intercompany transaction.
func TransactionSource(t IntercompanyTransaction) LineageSource {
	company := t.FromCompanyID
	return LineageSource{
		EntityType:  EntityTransaction,
		EntityID:    t.ID,
		Name:        fmt.Sprintf("%s: %s", t.AccountNumber, t.AccountName),
		Value:       t.Amount,
		CompanyID:   &company,
		AccountCode: t.AccountNumber,
	}
}

// ParticipationSource builds a lineage source for an ownership stake.
func ParticipationSource(p Participation, name string) LineageSource {
	company := p.ParentCompanyID
	return LineageSource{
		EntityType: EntityParticipation,
		EntityID:   p.ID,
		Name:       name,
		Value:      p.AcquisitionCost,
		CompanyID:  &company,
	}
}

// EntrySourceOf builds a lineage source for an existing consolidation entry.
func EntrySourceOf(e ConsolidationEntry) LineageSource {
	src := LineageSource{
		EntityType: EntityConsolidationEntry,
		EntityID:   e.ID,
		Name:       e.Description,
		Value:      e.Amount,
	}
	if len(e.AffectedCompanyIDs) > 0 {
		company := e.AffectedCompanyIDs[0]
		src.CompanyID = &company
	}
	return src
}

// LineageTracker records lineage for generated entries.
type LineageTracker interface {
	TrackEntry(ctx context.Context, entry ConsolidationEntry, sources []LineageSource) (uuid.UUID, error)
}

// Emitter persists generated entries and registers their lineage.
type Emitter struct {
	entries   EntryWriter
	lineage   LineageTracker
	logger    *slog.Logger
	component string
}

// NewEmitter wires the entry writer and the optional lineage tracker.
func NewEmitter(entries EntryWriter, lineage LineageTracker, logger *slog.Logger, component string) *Emitter {
	return &Emitter{entries: entries, lineage: lineage, logger: logger, component: component}
}

// Emit inserts an automatic, approved entry and tracks its lineage. Lineage
// failures are logged and never fail the entry.
func (e *Emitter) Emit(ctx context.Context, entry ConsolidationEntry, sources ...LineageSource) (ConsolidationEntry, error) {
	if e == nil || e.entries == nil {
		return ConsolidationEntry{}, fmt.Errorf("entry emitter not initialised")
	}
	if entry.Status == "" {
		entry.Status = EntryApproved
	}
	if entry.Source == "" {
		entry.Source = SourceAutomatic
	}
	entry.Amount = Round2(entry.Amount)
	stored, err := e.entries.InsertConsolidationEntry(ctx, entry)
	if err != nil {
		e.log().Error("insert consolidation entry",
			slog.String("adjustment_type", string(entry.AdjustmentType)),
			slog.String("amount", entry.Amount.StringFixed(2)),
			slog.Any("error", err))
		return ConsolidationEntry{}, err
	}
	if e.lineage != nil {
		if _, err := e.lineage.TrackEntry(ctx, stored, sources); err != nil {
			e.log().Warn("track entry lineage", slog.String("entry_id", stored.ID.String()), slog.Any("error", err))
		}
	}
	return stored, nil
}

func (e *Emitter) log() *slog.Logger {
	component := "consol_emitter"
	if e != nil && e.component != "" {
		component = e.component
	}
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", component))
	}
	return slog.Default().With(slog.String("component", component))
}

// Ref returns a pointer to a copy of v.
func Ref[T any](v T) *T {
	return &v
}
