package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
)

const viewGraph = "graph"

type reverseTraceRequest struct {
	ReversedByTraceID *uuid.UUID `json:"reversed_by_trace_id,omitempty"`
}

type updateDocumentationRequest struct {
	Content lineage.DocumentationContent `json:"content"`
	Editor  lineage.SignOffRequest       `json:"editor"`
}

type flagRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason"`
}

// handleGraph serves the lineage graph of a statement from the view cache.
func (h *Handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	graph, err := h.views.Load(r.Context(), viewGraph, id, func(ctx context.Context) (any, error) {
		return h.service.BuildLineageGraph(ctx, id)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, graph)
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := lineage.NodeFilter{
		FinancialStatementID: &id,
		NodeType:             lineage.NodeType(r.URL.Query().Get("node_type")),
		HgbSection:           r.URL.Query().Get("hgb_section"),
	}
	if filter.CompanyID, err = uuidQuery(r, "company_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.AccountID, err = uuidQuery(r, "account_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.IsAudited, err = boolQuery(r, "is_audited"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.IsFinal, err = boolQuery(r, "is_final"); err != nil {
		h.fail(w, r, err)
		return
	}
	nodes, err := h.recorder.Nodes(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []lineage.Node{}
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "nodeID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.recorder.Node(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	traces, err := h.recorder.NodeTraces(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vm := NodeDetailVM{Node: node, Incoming: traces.Incoming, Outgoing: traces.Outgoing}
	if vm.Incoming == nil {
		vm.Incoming = []lineage.Trace{}
	}
	if vm.Outgoing == nil {
		vm.Outgoing = []lineage.Trace{}
	}
	httpx.JSON(w, http.StatusOK, vm)
}

func (h *Handler) handleUpstream(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, h.recorder.TraceToSources)
}

func (h *Handler) handleDownstream(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, h.recorder.TraceToTargets)
}

func (h *Handler) walk(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) ([]lineage.Node, error)) {
	id, err := uuidParam(r, "nodeID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	nodes, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []lineage.Node{}
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) handleMarkAudited(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "nodeID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.recorder.MarkAudited(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(node.FinancialStatementID)
	httpx.JSON(w, http.StatusOK, node)
}

func (h *Handler) handleReverseTrace(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "traceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseTraceRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	trace, err := h.recorder.ReverseTrace(r.Context(), id, req.ReversedByTraceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.Bust()
	httpx.JSON(w, http.StatusOK, trace)
}

func (h *Handler) handleCreateDocumentation(w http.ResponseWriter, r *http.Request) {
	var req lineage.CreateDocumentationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Preparer.UserID = actorOf(r, req.Preparer.UserID)
	doc, err := h.pruefpfad.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleGetDocumentation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "docID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.pruefpfad.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdateDocumentation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "docID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateDocumentationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Editor.UserID = actorOf(r, req.Editor.UserID)
	doc, err := h.pruefpfad.Update(r.Context(), id, req.Content, req.Editor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleReviewDocumentation(w http.ResponseWriter, r *http.Request) {
	h.signOff(w, r, h.pruefpfad.Review)
}

func (h *Handler) handleVerifyDocumentation(w http.ResponseWriter, r *http.Request) {
	h.signOff(w, r, h.pruefpfad.Verify)
}

func (h *Handler) signOff(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, lineage.SignOffRequest) (lineage.Documentation, error)) {
	id, err := uuidParam(r, "docID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req lineage.SignOffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.UserID = actorOf(r, req.UserID)
	doc, err := fn(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleFlagDocumentation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "docID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req flagRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actor := actorOf(r, req.Actor)
	if actor == "" {
		h.fail(w, r, fmt.Errorf("%w: actor required", consol.ErrValidation))
		return
	}
	doc, err := h.pruefpfad.FlagForReview(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleListDocumentation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := lineage.DocumentationFilter{
		FinancialStatementID: &id,
		EntityType:           q.Get("entity_type"),
		Status:               lineage.DocStatus(q.Get("status")),
		HgbSection:           q.Get("hgb_section"),
		WorkingPaperRef:      q.Get("working_paper_ref"),
		RiskLevel:            lineage.RiskLevel(q.Get("risk_level")),
	}
	if filter.EntityID, err = uuidQuery(r, "entity_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	docs, err := h.pruefpfad.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []lineage.Documentation{}
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) handleDocumentationStats(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.pruefpfad.Stats(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

// handleAuditTrail exports nodes, traces and documentation of a statement
// as JSON or, with format=csv, as a CSV attachment.
func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format != "" && format != "json" && format != "csv" {
		h.fail(w, r, fmt.Errorf("%w: unsupported format %q", consol.ErrValidation, format))
		return
	}
	trail, err := h.service.ExportAuditTrail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if format != "csv" {
		httpx.JSON(w, http.StatusOK, trail)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"pruefpfad-%s.csv\"", id))
	w.Header().Set("X-Checksum", trail.Checksum)
	w.WriteHeader(http.StatusOK)
	if err := WriteAuditTrailCSV(w, trail); err != nil {
		h.log().Error("write audit trail csv", slog.String("statement_id", id.String()), slog.Any("error", err))
	}
}
