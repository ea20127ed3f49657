package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/lineage"
)

func (s *Store) InsertLineageNode(_ context.Context, node lineage.Node) (lineage.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertNodeLocked(node), nil
}

func (s *Store) InsertLineageNodes(_ context.Context, nodes []lineage.Node) ([]lineage.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lineage.Node, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, s.insertNodeLocked(node))
	}
	return out, nil
}

func (s *Store) insertNodeLocked(node lineage.Node) lineage.Node {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	now := s.now()
	node.CreatedAt = now
	node.UpdatedAt = now
	s.nodes[node.ID] = node
	s.nodeOrder = append(s.nodeOrder, node.ID)
	return node
}

func (s *Store) GetLineageNode(_ context.Context, id uuid.UUID) (lineage.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return lineage.Node{}, fmt.Errorf("lineage node %s: %w", id, consol.ErrNotFound)
	}
	return node, nil
}

func (s *Store) ListLineageNodes(_ context.Context, filter lineage.NodeFilter) ([]lineage.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lineage.Node, 0)
	for _, id := range s.nodeOrder {
		node := s.nodes[id]
		if !matchNode(node, filter) {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

func matchNode(node lineage.Node, f lineage.NodeFilter) bool {
	switch {
	case f.FinancialStatementID != nil && node.FinancialStatementID != *f.FinancialStatementID:
		return false
	case f.CompanyID != nil && (node.CompanyID == nil || *node.CompanyID != *f.CompanyID):
		return false
	case f.NodeType != "" && node.NodeType != f.NodeType:
		return false
	case f.AccountID != nil && (node.AccountID == nil || *node.AccountID != *f.AccountID):
		return false
	case f.HgbSection != "" && node.HgbSection != f.HgbSection:
		return false
	case f.SourceEntityType != "" && node.SourceEntityType != f.SourceEntityType:
		return false
	case f.SourceEntityID != nil && (node.SourceEntityID == nil || *node.SourceEntityID != *f.SourceEntityID):
		return false
	case f.ConsolidationEntryID != nil && (node.ConsolidationEntryID == nil || *node.ConsolidationEntryID != *f.ConsolidationEntryID):
		return false
	case f.IsAudited != nil && node.IsAudited != *f.IsAudited:
		return false
	case f.IsFinal != nil && node.IsFinal != *f.IsFinal:
		return false
	}
	return true
}

func (s *Store) UpdateLineageNodeFlags(_ context.Context, id uuid.UUID, audited, final bool) (lineage.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return lineage.Node{}, fmt.Errorf("lineage node %s: %w", id, consol.ErrNotFound)
	}
	node.IsAudited = audited
	node.IsFinal = final
	node.UpdatedAt = s.now()
	s.nodes[id] = node
	return node, nil
}

func (s *Store) InsertLineageTrace(_ context.Context, trace lineage.Trace) (lineage.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTraceLocked(trace), nil
}

func (s *Store) InsertLineageTraces(_ context.Context, traces []lineage.Trace) ([]lineage.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lineage.Trace, 0, len(traces))
	for _, trace := range traces {
		out = append(out, s.insertTraceLocked(trace))
	}
	return out, nil
}

func (s *Store) insertTraceLocked(trace lineage.Trace) lineage.Trace {
	if trace.ID == uuid.Nil {
		trace.ID = uuid.New()
	}
	trace.CreatedAt = s.now()
	s.traces[trace.ID] = trace
	s.traceOrder = append(s.traceOrder, trace.ID)
	return trace
}

func (s *Store) GetLineageTrace(_ context.Context, id uuid.UUID) (lineage.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trace, ok := s.traces[id]
	if !ok {
		return lineage.Trace{}, fmt.Errorf("lineage trace %s: %w", id, consol.ErrNotFound)
	}
	return trace, nil
}

// ListLineageTraces returns matching traces ordered by sequence order, then insertion.
func (s *Store) ListLineageTraces(_ context.Context, filter lineage.TraceFilter) ([]lineage.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lineage.Trace, 0)
	for _, id := range s.traceOrder {
		trace := s.traces[id]
		if !filter.IncludeReversed && !trace.Active() {
			continue
		}
		if filter.SourceNodeID != nil && trace.SourceNodeID != *filter.SourceNodeID {
			continue
		}
		if filter.TargetNodeID != nil && trace.TargetNodeID != *filter.TargetNodeID {
			continue
		}
		if len(filter.NodeIDs) > 0 && !slices.Contains(filter.NodeIDs, trace.SourceNodeID) && !slices.Contains(filter.NodeIDs, trace.TargetNodeID) {
			continue
		}
		if filter.TransformationType != "" && trace.TransformationType != filter.TransformationType {
			continue
		}
		if filter.ConsolidationEntryID != nil && (trace.ConsolidationEntryID == nil || *trace.ConsolidationEntryID != *filter.ConsolidationEntryID) {
			continue
		}
		out = append(out, trace)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceOrder < out[j].SequenceOrder
	})
	return out, nil
}

func (s *Store) UpdateLineageTrace(_ context.Context, trace lineage.Trace) (lineage.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.traces[trace.ID]
	if !ok {
		return lineage.Trace{}, fmt.Errorf("lineage trace %s: %w", trace.ID, consol.ErrNotFound)
	}
	trace.CreatedAt = current.CreatedAt
	s.traces[trace.ID] = trace
	return trace, nil
}

func (s *Store) InsertDocumentation(_ context.Context, doc lineage.Documentation) (lineage.Documentation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Evidence = slices.Clone(doc.Evidence)
	s.docs[doc.ID] = doc
	s.docOrder = append(s.docOrder, doc.ID)
	return doc, nil
}

func (s *Store) GetDocumentation(_ context.Context, id uuid.UUID) (lineage.Documentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return lineage.Documentation{}, fmt.Errorf("documentation %s: %w", id, consol.ErrNotFound)
	}
	return doc, nil
}

func (s *Store) ListDocumentation(_ context.Context, f lineage.DocumentationFilter) ([]lineage.Documentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lineage.Documentation, 0)
	for _, id := range s.docOrder {
		doc := s.docs[id]
		switch {
		case f.FinancialStatementID != nil && doc.FinancialStatementID != *f.FinancialStatementID:
			continue
		case f.EntityType != "" && doc.EntityType != f.EntityType:
			continue
		case f.EntityID != nil && doc.EntityID != *f.EntityID:
			continue
		case f.Status != "" && doc.Status != f.Status:
			continue
		case f.HgbSection != "" && doc.HgbSection != f.HgbSection:
			continue
		case f.WorkingPaperRef != "" && doc.WorkingPaperRef != f.WorkingPaperRef:
			continue
		case f.RiskLevel != "" && doc.RiskLevel != f.RiskLevel:
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) UpdateDocumentation(_ context.Context, doc lineage.Documentation) (lineage.Documentation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[doc.ID]
	if !ok {
		return lineage.Documentation{}, fmt.Errorf("documentation %s: %w", doc.ID, consol.ErrNotFound)
	}
	doc.CreatedAt = current.CreatedAt
	doc.UpdatedAt = s.now()
	doc.Evidence = slices.Clone(doc.Evidence)
	s.docs[doc.ID] = doc
	return doc, nil
}

var (
	_ consol.Store  = (*Store)(nil)
	_ lineage.Store = (*Store)(nil)
)
