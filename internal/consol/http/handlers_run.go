package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
)

type runRequest struct {
	TaxRate *decimal.Decimal `json:"tax_rate,omitempty"`
}

type statusRequest struct {
	Status consol.StatementStatus `json:"status"`
	Reopen bool                   `json:"reopen,omitempty"`
}

func (h *Handler) handleScope(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuidParam(r, "companyID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sc, err := h.service.ResolveScope(r.Context(), companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ScopeFromDomain(sc))
}

func (h *Handler) handleGetStatement(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stmt, err := h.statements.GetFinancialStatement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stmt)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Status == "" {
		h.fail(w, r, fmt.Errorf("%w: status required", consol.ErrValidation))
		return
	}
	stmt, err := h.service.SetStatementStatus(r.Context(), id, req.Status, req.Reopen, actorOf(r, ""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(id)
	httpx.JSON(w, http.StatusOK, stmt)
}

// handleRun consolidates synchronously. With an Idempotency-Key header a
// retried request is answered with 409 instead of a second run; the key is
// released again when the run fails.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req runRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				err = fmt.Errorf("idempotency key %q: %w", key, httpx.ErrDuplicate)
			}
			h.fail(w, r, err)
			return
		}
	}

	res, err := h.service.Run(r.Context(), id, orchestrator.RunOptions{
		TaxRate: req.TaxRate,
		Actor:   actorOf(r, ""),
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key); delErr != nil {
				h.log().Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(id)
	httpx.JSON(w, http.StatusOK, RunFromDomain(res))
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background runs are not configured")
		return
	}
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req runRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.statements.GetFinancialStatement(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	payload := jobs.ConsolRunPayload{StatementID: id.String(), Actor: actorOf(r, "")}
	if req.TaxRate != nil {
		payload.TaxRate = req.TaxRate.String()
	}
	info, err := h.enqueuer.EnqueueRun(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, EnqueueVM{TaskID: info.ID, Queue: info.Queue})
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.MatchTransactions(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, MatchFromDomain(res))
}

func (h *Handler) handleCalculateDeferredTax(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req runRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.CalculateDeferredTax(r.Context(), id, req.TaxRate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.BustStatement(id)
	httpx.JSON(w, http.StatusOK, DeferredTaxFromDomain(res))
}

func (h *Handler) handleListDeferredTaxes(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.DeferredTaxes(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []consol.DeferredTax{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleDeferredTaxSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "statementID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.service.DeferredTaxSummary(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, DeferredTaxSummaryFromDomain(summary))
}

func (h *Handler) handleDeleteDeferredTax(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "deferredTaxID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteDeferredTax(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.Bust()
	w.WriteHeader(http.StatusNoContent)
}
