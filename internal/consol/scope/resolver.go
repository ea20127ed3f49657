// Package scope resolves the consolidation group of a parent company.
package scope

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// Scope is the ordered set of companies consolidated under a parent. The
// parent comes first, descendants follow in breadth-first order.
type Scope struct {
	Parent      consol.Company
	Companies   []consol.Company
	Diagnostics []string
	visited     int
}

// Empty reports whether no company qualified for consolidation.
func (s Scope) Empty() bool {
	return len(s.Companies) == 0
}

// Reason explains an empty scope. It returns consol.ScopeOK otherwise.
func (s Scope) Reason() consol.ScopeReason {
	switch {
	case !s.Empty():
		return consol.ScopeOK
	case s.visited <= 1:
		return consol.ScopeNotMarked
	default:
		return consol.ScopeNoConsolidatedChildren
	}
}

// Err converts an empty scope into a wrapped consol.ErrInvalidScope.
func (s Scope) Err() error {
	if !s.Empty() {
		return nil
	}
	return fmt.Errorf("%s (%s): %w", s.Parent.Name, s.Reason(), consol.ErrInvalidScope)
}

// IDs returns the company ids in scope order.
func (s Scope) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Companies))
	for _, c := range s.Companies {
		ids = append(ids, c.ID)
	}
	return ids
}

// Contains reports whether the company is part of the scope.
func (s Scope) Contains(id uuid.UUID) bool {
	_, ok := s.Company(id)
	return ok
}

// Company looks up a scoped company by id.
func (s Scope) Company(id uuid.UUID) (consol.Company, bool) {
	for _, c := range s.Companies {
		if c.ID == id {
			return c, true
		}
	}
	return consol.Company{}, false
}

// Subsidiaries returns every scoped company except the parent.
func (s Scope) Subsidiaries() []consol.Company {
	out := make([]consol.Company, 0, len(s.Companies))
	for _, c := range s.Companies {
		if c.ID != s.Parent.ID {
			out = append(out, c)
		}
	}
	return out
}

// Resolver walks the company hierarchy.
type Resolver struct {
	companies consol.CompanyReader
	logger    *slog.Logger
}

// NewResolver constructs a resolver over the company reader.
func NewResolver(companies consol.CompanyReader, logger *slog.Logger) *Resolver {
	return &Resolver{companies: companies, logger: logger}
}

// Resolve collects the parent and its consolidated descendants. Companies not
// marked for consolidation are left out but their children are still visited.
// A missing parent returns consol.ErrNotFound; an empty result is returned
// as-is and callers decide whether to raise consol.ErrInvalidScope.
func (r *Resolver) Resolve(ctx context.Context, parentID uuid.UUID) (Scope, error) {
	if r == nil || r.companies == nil {
		return Scope{}, fmt.Errorf("scope resolver not initialised")
	}
	parent, err := r.companies.GetCompany(ctx, parentID)
	if err != nil {
		return Scope{}, err
	}

	result := Scope{Parent: parent}
	visited := map[uuid.UUID]struct{}{parent.ID: {}}
	queue := []consol.Company{parent}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return Scope{}, err
		}
		current := queue[0]
		queue = queue[1:]
		result.visited++
		if current.IsConsolidated {
			result.Companies = append(result.Companies, current)
		}

		children, err := r.companies.ListChildren(ctx, current.ID)
		if err != nil {
			if current.ID == parent.ID {
				return Scope{}, fmt.Errorf("list children of %s: %w", parent.Name, err)
			}
			r.log().Warn("child lookup failed, continuing with partial scope",
				slog.String("company_id", current.ID.String()),
				slog.Any("error", err))
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("Tochterunternehmen von %s konnten nicht geladen werden: %v", current.Name, err))
			continue
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			queue = append(queue, child)
		}
	}

	r.log().Debug("resolved consolidation scope",
		slog.String("parent_id", parent.ID.String()),
		slog.Int("companies", len(result.Companies)),
		slog.Int("visited", result.visited))
	return result, nil
}

func (r *Resolver) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger.With(slog.String("component", "consol_scope"))
	}
	return slog.Default().With(slog.String("component", "consol_scope"))
}
