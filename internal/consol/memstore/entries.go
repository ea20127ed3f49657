package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
)

func (s *Store) InsertConsolidationEntry(_ context.Context, entry consol.ConsolidationEntry) (consol.ConsolidationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedEntry != nil {
		if err := s.failedEntry(entry); err != nil {
			return consol.ConsolidationEntry{}, err
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := s.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.AffectedCompanyIDs = slices.Clone(entry.AffectedCompanyIDs)
	s.entries[entry.ID] = entry
	s.entryOrder = append(s.entryOrder, entry.ID)
	return entry, nil
}

func (s *Store) GetConsolidationEntry(_ context.Context, id uuid.UUID) (consol.ConsolidationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return consol.ConsolidationEntry{}, fmt.Errorf("consolidation entry %s: %w", id, consol.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) ListConsolidationEntries(_ context.Context, filter consol.EntryFilter) ([]consol.ConsolidationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.ConsolidationEntry, 0)
	for _, id := range s.entryOrder {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		if filter.FinancialStatementID != uuid.Nil && entry.FinancialStatementID != filter.FinancialStatementID {
			continue
		}
		if len(filter.AdjustmentTypes) > 0 && !slices.Contains(filter.AdjustmentTypes, entry.AdjustmentType) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, entry.Status) {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) UpdateConsolidationEntry(_ context.Context, entry consol.ConsolidationEntry) (consol.ConsolidationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[entry.ID]
	if !ok {
		return consol.ConsolidationEntry{}, fmt.Errorf("consolidation entry %s: %w", entry.ID, consol.ErrNotFound)
	}
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = s.now()
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) DeleteConsolidationEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("consolidation entry %s: %w", id, consol.ErrNotFound)
	}
	delete(s.entries, id)
	s.entryOrder = slices.DeleteFunc(s.entryOrder, func(v uuid.UUID) bool { return v == id })
	return nil
}

func (s *Store) GetDeferredTax(_ context.Context, id uuid.UUID) (consol.DeferredTax, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.taxes[id]
	if !ok {
		return consol.DeferredTax{}, fmt.Errorf("deferred tax %s: %w", id, consol.ErrNotFound)
	}
	return row, nil
}

func (s *Store) FindDeferredTaxByOrigin(_ context.Context, originatingEntryID uuid.UUID) (consol.DeferredTax, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.taxOrder {
		row := s.taxes[id]
		if row.OriginatingEntryID != nil && *row.OriginatingEntryID == originatingEntryID {
			return row, nil
		}
	}
	return consol.DeferredTax{}, fmt.Errorf("deferred tax for entry %s: %w", originatingEntryID, consol.ErrNotFound)
}

func (s *Store) ListDeferredTaxes(_ context.Context, statementID uuid.UUID) ([]consol.DeferredTax, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consol.DeferredTax, 0)
	for _, id := range s.taxOrder {
		row := s.taxes[id]
		if row.FinancialStatementID == statementID {
			out = append(out, row)
		}
	}
	return out, nil
}

// UpsertDeferredTax inserts rows without id and replaces existing ones. A
// second active row for the same originating entry is rejected.
func (s *Store) UpsertDeferredTax(_ context.Context, row consol.DeferredTax) (consol.DeferredTax, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if row.ID == uuid.Nil {
		if row.OriginatingEntryID != nil {
			for _, id := range s.taxOrder {
				existing := s.taxes[id]
				if existing.OriginatingEntryID != nil && *existing.OriginatingEntryID == *row.OriginatingEntryID {
					return consol.DeferredTax{}, fmt.Errorf("deferred tax for entry %s already exists", *row.OriginatingEntryID)
				}
			}
		}
		row.ID = uuid.New()
		row.CreatedAt = now
		s.taxOrder = append(s.taxOrder, row.ID)
	} else if current, ok := s.taxes[row.ID]; ok {
		row.CreatedAt = current.CreatedAt
	} else {
		return consol.DeferredTax{}, fmt.Errorf("deferred tax %s: %w", row.ID, consol.ErrNotFound)
	}
	row.UpdatedAt = now
	s.taxes[row.ID] = row
	return row, nil
}

func (s *Store) DeleteDeferredTax(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taxes[id]; !ok {
		return fmt.Errorf("deferred tax %s: %w", id, consol.ErrNotFound)
	}
	delete(s.taxes, id)
	s.taxOrder = slices.DeleteFunc(s.taxOrder, func(v uuid.UUID) bool { return v == id })
	return nil
}

// LatestEquityMethodResult returns the most recent result before the given year.
func (s *Store) LatestEquityMethodResult(_ context.Context, participationID uuid.UUID, beforeFiscalYear int) (consol.EquityMethodResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  consol.EquityMethodResult
		found bool
	)
	for _, r := range s.equityRuns {
		if r.ParticipationID != participationID || r.FiscalYear >= beforeFiscalYear {
			continue
		}
		if !found || r.FiscalYear >= best.FiscalYear {
			best = r
			found = true
		}
	}
	if !found {
		return consol.EquityMethodResult{}, fmt.Errorf("equity method result for %s: %w", participationID, consol.ErrNotFound)
	}
	return best, nil
}

// SaveEquityMethodResult replaces the result of the same participation and year.
func (s *Store) SaveEquityMethodResult(_ context.Context, result consol.EquityMethodResult) (consol.EquityMethodResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.CreatedAt = s.now()
	for i, r := range s.equityRuns {
		if r.ParticipationID == result.ParticipationID && r.FiscalYear == result.FiscalYear {
			result.ID = r.ID
			s.equityRuns[i] = result
			return result, nil
		}
	}
	s.equityRuns = append(s.equityRuns, result)
	return result, nil
}

// EquityMethodResults returns every stored roll-forward.
func (s *Store) EquityMethodResults() []consol.EquityMethodResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.equityRuns)
}

// LatestGoodwillAmortization returns the most recent schedule row before the given year.
func (s *Store) LatestGoodwillAmortization(_ context.Context, participationID uuid.UUID, beforeFiscalYear int) (consol.GoodwillAmortization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  consol.GoodwillAmortization
		found bool
	)
	for _, r := range s.goodwill {
		if r.ParticipationID != participationID || r.FiscalYear >= beforeFiscalYear {
			continue
		}
		if !found || r.FiscalYear >= best.FiscalYear {
			best = r
			found = true
		}
	}
	if !found {
		return consol.GoodwillAmortization{}, fmt.Errorf("goodwill amortization for %s: %w", participationID, consol.ErrNotFound)
	}
	return best, nil
}

// SaveGoodwillAmortization replaces the row of the same participation and year.
func (s *Store) SaveGoodwillAmortization(_ context.Context, row consol.GoodwillAmortization) (consol.GoodwillAmortization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = s.now()
	for i, r := range s.goodwill {
		if r.ParticipationID == row.ParticipationID && r.FiscalYear == row.FiscalYear {
			row.ID = r.ID
			s.goodwill[i] = row
			return row, nil
		}
	}
	s.goodwill = append(s.goodwill, row)
	return row, nil
}

// GoodwillAmortizations returns every stored schedule row.
func (s *Store) GoodwillAmortizations() []consol.GoodwillAmortization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.goodwill)
}
