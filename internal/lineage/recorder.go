package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// GraphStore is the persistence the recorder needs.
type GraphStore interface {
	NodeStore
	TraceStore
}

// Recorder creates lineage nodes and traces and answers traversal queries.
type Recorder struct {
	store     GraphStore
	companies consol.CompanyReader
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder constructs a recorder.
func NewRecorder(store GraphStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		validator: validator.New(),
		logger:    logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the timestamp source used for reversals.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *Recorder) ready() error {
	if r == nil || r.store == nil {
		return fmt.Errorf("lineage recorder not initialised")
	}
	return nil
}

// CreateNode validates and stores one node.
func (r *Recorder) CreateNode(ctx context.Context, req CreateNodeRequest) (Node, error) {
	if err := r.ready(); err != nil {
		return Node{}, err
	}
	if err := r.validator.Struct(req); err != nil {
		return Node{}, validationError(err)
	}
	node, err := r.store.InsertLineageNode(ctx, req.node())
	if err != nil {
		return Node{}, fmt.Errorf("insert lineage node: %w", err)
	}
	return node, nil
}

// CreateNodes validates every request before storing the batch.
func (r *Recorder) CreateNodes(ctx context.Context, reqs []CreateNodeRequest) ([]Node, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return []Node{}, nil
	}
	nodes := make([]Node, 0, len(reqs))
	for i, req := range reqs {
		if err := r.validator.Struct(req); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, validationError(err))
		}
		nodes = append(nodes, req.node())
	}
	stored, err := r.store.InsertLineageNodes(ctx, nodes)
	if err != nil {
		return nil, fmt.Errorf("insert lineage nodes: %w", err)
	}
	return stored, nil
}

// Node fetches one node.
func (r *Recorder) Node(ctx context.Context, id uuid.UUID) (Node, error) {
	if err := r.ready(); err != nil {
		return Node{}, err
	}
	return r.store.GetLineageNode(ctx, id)
}

// Nodes lists nodes matching the filter.
func (r *Recorder) Nodes(ctx context.Context, filter NodeFilter) ([]Node, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.store.ListLineageNodes(ctx, filter)
}

// MarkAudited flags a node as audited, keeping its final flag.
func (r *Recorder) MarkAudited(ctx context.Context, id uuid.UUID) (Node, error) {
	if err := r.ready(); err != nil {
		return Node{}, err
	}
	node, err := r.store.GetLineageNode(ctx, id)
	if err != nil {
		return Node{}, err
	}
	return r.store.UpdateLineageNodeFlags(ctx, id, true, node.IsFinal)
}

// MarkFinal flags a node as a terminal consolidated figure.
func (r *Recorder) MarkFinal(ctx context.Context, id uuid.UUID) (Node, error) {
	if err := r.ready(); err != nil {
		return Node{}, err
	}
	node, err := r.store.GetLineageNode(ctx, id)
	if err != nil {
		return Node{}, err
	}
	return r.store.UpdateLineageNodeFlags(ctx, id, node.IsAudited, true)
}

func (r *Recorder) checkTrace(req CreateTraceRequest) error {
	if err := r.validator.Struct(req); err != nil {
		return validationError(err)
	}
	if req.SourceNodeID == req.TargetNodeID {
		return fmt.Errorf("%w: trace source and target must differ", consol.ErrValidation)
	}
	return nil
}

// CreateTrace validates and stores one edge.
func (r *Recorder) CreateTrace(ctx context.Context, req CreateTraceRequest) (Trace, error) {
	if err := r.ready(); err != nil {
		return Trace{}, err
	}
	if err := r.checkTrace(req); err != nil {
		return Trace{}, err
	}
	trace, err := r.store.InsertLineageTrace(ctx, req.trace())
	if err != nil {
		return Trace{}, fmt.Errorf("insert lineage trace: %w", err)
	}
	return trace, nil
}

// CreateTraces validates every request before storing the batch.
func (r *Recorder) CreateTraces(ctx context.Context, reqs []CreateTraceRequest) ([]Trace, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return []Trace{}, nil
	}
	traces := make([]Trace, 0, len(reqs))
	for i, req := range reqs {
		if err := r.checkTrace(req); err != nil {
			return nil, fmt.Errorf("trace %d: %w", i, err)
		}
		traces = append(traces, req.trace())
	}
	stored, err := r.store.InsertLineageTraces(ctx, traces)
	if err != nil {
		return nil, fmt.Errorf("insert lineage traces: %w", err)
	}
	return stored, nil
}

// Traces lists traces matching the filter.
func (r *Recorder) Traces(ctx context.Context, filter TraceFilter) ([]Trace, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.store.ListLineageTraces(ctx, filter)
}

// NodeTraces holds the active edges around one node.
type NodeTraces struct {
	Incoming []Trace
	Outgoing []Trace
}

// NodeTraces loads incoming and outgoing active traces of a node.
func (r *Recorder) NodeTraces(ctx context.Context, id uuid.UUID) (NodeTraces, error) {
	if err := r.ready(); err != nil {
		return NodeTraces{}, err
	}
	var out NodeTraces
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := r.store.ListLineageTraces(ctx, TraceFilter{TargetNodeID: &id})
		if err != nil {
			return fmt.Errorf("incoming traces: %w", err)
		}
		out.Incoming = rows
		return nil
	})
	g.Go(func() error {
		rows, err := r.store.ListLineageTraces(ctx, TraceFilter{SourceNodeID: &id})
		if err != nil {
			return fmt.Errorf("outgoing traces: %w", err)
		}
		out.Outgoing = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return NodeTraces{}, err
	}
	return out, nil
}

// ReverseTrace soft-reverses an edge. The trace stays stored with its
// reversal timestamp and drops out of traversal.
func (r *Recorder) ReverseTrace(ctx context.Context, id uuid.UUID, reversedBy *uuid.UUID) (Trace, error) {
	if err := r.ready(); err != nil {
		return Trace{}, err
	}
	trace, err := r.store.GetLineageTrace(ctx, id)
	if err != nil {
		return Trace{}, err
	}
	if !trace.IsReversible {
		return Trace{}, fmt.Errorf("trace %s is not reversible: %w", id, consol.ErrInvalidTransition)
	}
	if !trace.Active() {
		return Trace{}, fmt.Errorf("trace %s already reversed: %w", id, consol.ErrInvalidTransition)
	}
	now := r.now()
	trace.ReversedAt = &now
	trace.ReversedByTraceID = reversedBy
	updated, err := r.store.UpdateLineageTrace(ctx, trace)
	if err != nil {
		return Trace{}, fmt.Errorf("reverse trace: %w", err)
	}
	r.log().Info("reversed lineage trace", slog.String("trace_id", id.String()))
	return updated, nil
}

// TraceToSources walks incoming edges from the start node and returns every
// reachable node without incoming active traces, each at most once.
func (r *Recorder) TraceToSources(ctx context.Context, startID uuid.UUID) ([]Node, error) {
	return r.walk(ctx, startID, func(id uuid.UUID) TraceFilter {
		return TraceFilter{TargetNodeID: &id}
	}, func(t Trace) uuid.UUID {
		return t.SourceNodeID
	})
}

// TraceToTargets walks outgoing edges from the start node and returns every
// reachable node without outgoing active traces, each at most once.
func (r *Recorder) TraceToTargets(ctx context.Context, startID uuid.UUID) ([]Node, error) {
	return r.walk(ctx, startID, func(id uuid.UUID) TraceFilter {
		return TraceFilter{SourceNodeID: &id}
	}, func(t Trace) uuid.UUID {
		return t.TargetNodeID
	})
}

func (r *Recorder) walk(ctx context.Context, startID uuid.UUID, edges func(uuid.UUID) TraceFilter, next func(Trace) uuid.UUID) ([]Node, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if _, err := r.store.GetLineageNode(ctx, startID); err != nil {
		return nil, err
	}
	visited := map[uuid.UUID]struct{}{startID: {}}
	queue := []uuid.UUID{startID}
	var ends []Node
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		traces, err := r.store.ListLineageTraces(ctx, edges(id))
		if err != nil {
			return nil, fmt.Errorf("list traces of %s: %w", id, err)
		}
		if len(traces) == 0 {
			node, err := r.store.GetLineageNode(ctx, id)
			if errors.Is(err, consol.ErrNotFound) {
				r.log().Warn("trace points to missing node", slog.String("node_id", id.String()))
				continue
			}
			if err != nil {
				return nil, err
			}
			ends = append(ends, node)
			continue
		}
		for _, t := range traces {
			n := next(t)
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	if ends == nil {
		ends = []Node{}
	}
	return ends, nil
}

func (r *Recorder) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger.With(slog.String("component", "lineage_recorder"))
	}
	return slog.Default().With(slog.String("component", "lineage_recorder"))
}
