package http

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/entries"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const maxPerPage = 500

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := consol.EntryFilter{
		FinancialStatementID: id,
		Source:               consol.EntrySource(q.Get("source")),
	}
	for _, s := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, consol.EntryStatus(s))
	}
	for _, t := range splitList(q.Get("type")) {
		filter.AdjustmentTypes = append(filter.AdjustmentTypes, consol.AdjustmentType(t))
	}
	page, err := intQuery(r, "page", 1)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perPage, err := intQuery(r, "per_page", 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	rows, err := h.entries.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, p := shared.Paginate(rows, page, perPage)
	httpx.JSON(w, http.StatusOK, EntryPageVM{Items: items, Pagination: p})
}

func (h *Handler) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entries.CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.CreatedBy = actorOf(r, req.CreatedBy)
	entry, err := h.entries.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(entry.FinancialStatementID)
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req entries.UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.UpdatedBy = actorOf(r, req.UpdatedBy)
	entry, err := h.entries.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(entry.FinancialStatementID)
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actor := actorOf(r, "")
	if actor == "" {
		h.fail(w, r, fmt.Errorf("%w: %s header required", consol.ErrValidation, shared.ActorHeader))
		return
	}
	if err := h.entries.Delete(r.Context(), id, actor); err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.Bust()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEntryApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.entries.Approvals(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

// decision reads the optional decision body and stamps the request actor.
func decision(r *http.Request) (entries.Decision, error) {
	var d entries.Decision
	if err := decodeOptional(r, &d); err != nil {
		return entries.Decision{}, err
	}
	d.Actor = actorOf(r, d.Actor)
	if d.Actor == "" {
		return entries.Decision{}, fmt.Errorf("%w: actor required", consol.ErrValidation)
	}
	return d, nil
}

type entryAction func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error)

func (h *Handler) entryTransition(w http.ResponseWriter, r *http.Request, action entryAction) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := decision(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := action(id, d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(entry.FinancialStatementID)
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	h.entryTransition(w, r, func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error) {
		return h.entries.Submit(r.Context(), id, d.Actor)
	})
}

func (h *Handler) handleApproveEntry(w http.ResponseWriter, r *http.Request) {
	h.entryTransition(w, r, func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error) {
		return h.entries.Approve(r.Context(), id, d)
	})
}

func (h *Handler) handleRejectEntry(w http.ResponseWriter, r *http.Request) {
	h.entryTransition(w, r, func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error) {
		return h.entries.Reject(r.Context(), id, d)
	})
}

func (h *Handler) handleReopenEntry(w http.ResponseWriter, r *http.Request) {
	h.entryTransition(w, r, func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error) {
		return h.entries.Reopen(r.Context(), id, d.Actor)
	})
}

// handleReverseEntry answers with the reversal entry.
func (h *Handler) handleReverseEntry(w http.ResponseWriter, r *http.Request) {
	h.entryTransition(w, r, func(id uuid.UUID, d entries.Decision) (consol.ConsolidationEntry, error) {
		return h.entries.Reverse(r.Context(), id, d)
	})
}
