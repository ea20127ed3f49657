package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// AuditDocumentationEntity describes the audit entity for Prüfpfad changes.
	AuditDocumentationEntity = "pruefpfad_documentation"

	AuditDocumentationCreate = "pruefpfad_create"
	AuditDocumentationUpdate = "pruefpfad_update"
	AuditDocumentationReview = "pruefpfad_review"
	AuditDocumentationVerify = "pruefpfad_verify"
	AuditDocumentationFlag   = "pruefpfad_flag"
)

// docTransitions lists the states a documentation may move to.
var docTransitions = map[DocStatus][]DocStatus{
	DocUndocumented:        {DocUndocumented, DocPartiallyDocumented, DocDocumented},
	DocPartiallyDocumented: {DocUndocumented, DocPartiallyDocumented, DocDocumented, DocRequiresReview},
	DocDocumented:          {DocPartiallyDocumented, DocDocumented, DocVerified, DocRequiresReview},
	DocVerified:            {DocRequiresReview},
	DocRequiresReview:      {DocUndocumented, DocPartiallyDocumented, DocDocumented},
}

// CanTransition reports whether documentation may move from one state to another.
func CanTransition(from, to DocStatus) bool {
	return slices.Contains(docTransitions[from], to)
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SignOffRequest identifies the person signing a step.
type SignOffRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Name   string `json:"name" validate:"required,max=255"`
	Notes  string `json:"notes,omitempty" validate:"max=2000"`
}

// DocumentationContent carries the editable narrative of a documentation.
type DocumentationContent struct {
	HgbSection          string     `json:"hgb_section,omitempty" validate:"max=32"`
	HgbRequirement      string     `json:"hgb_requirement,omitempty"`
	ComplianceNotes     string     `json:"compliance_notes,omitempty"`
	WorkingPaperRef     string     `json:"working_paper_ref,omitempty" validate:"max=64"`
	AuditProgramRef     string     `json:"audit_program_ref,omitempty" validate:"max=64"`
	Summary             string     `json:"summary,omitempty"`
	DetailedDescription string     `json:"detailed_description,omitempty"`
	CalculationBasis    string     `json:"calculation_basis,omitempty"`
	Assumptions         string     `json:"assumptions,omitempty"`
	Evidence            []Evidence `json:"evidence,omitempty" validate:"dive"`
	RiskLevel           RiskLevel  `json:"risk_level,omitempty" validate:"omitempty,oneof=low medium high"`
	MaterialRiskFactors string     `json:"material_risk_factors,omitempty"`
}

// CreateDocumentationRequest opens a documentation for a lineage entity.
type CreateDocumentationRequest struct {
	FinancialStatementID uuid.UUID            `json:"financial_statement_id" validate:"required"`
	EntityType           string               `json:"entity_type" validate:"required,max=64"`
	EntityID             uuid.UUID            `json:"entity_id" validate:"required"`
	Content              DocumentationContent `json:"content"`
	Preparer             SignOffRequest       `json:"preparer"`
}

// DocumentationStats counts documentation of a statement.
type DocumentationStats struct {
	Total        int               `json:"total"`
	ByStatus     map[DocStatus]int `json:"by_status"`
	ByHgbSection map[string]int    `json:"by_hgb_section"`
	ByRiskLevel  map[RiskLevel]int `json:"by_risk_level"`
}

// Pruefpfad manages audit documentation and its four-eyes sign-off chain:
// preparer, reviewer and verifier must be three different identities.
type Pruefpfad struct {
	store     DocumentationStore
	audit     AuditRecorder
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruefpfad constructs the documentation service.
func NewPruefpfad(store DocumentationStore, audit AuditRecorder, logger *slog.Logger) *Pruefpfad {
	return &Pruefpfad{
		store:     store,
		audit:     audit,
		validator: validator.New(),
		logger:    logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the sign-off timestamp source.
func (p *Pruefpfad) WithClock(clock func() time.Time) *Pruefpfad {
	if clock != nil {
		p.now = clock
	}
	return p
}

func (p *Pruefpfad) ready() error {
	if p == nil || p.store == nil {
		return fmt.Errorf("pruefpfad service not initialised")
	}
	return nil
}

// contentStatus derives the documentation state from its content.
func contentStatus(c DocumentationContent) DocStatus {
	hasSummary := strings.TrimSpace(c.Summary) != ""
	switch {
	case hasSummary && len(c.Evidence) > 0:
		return DocDocumented
	case hasSummary || strings.TrimSpace(c.DetailedDescription) != "" || len(c.Evidence) > 0:
		return DocPartiallyDocumented
	default:
		return DocUndocumented
	}
}

func applyContent(doc *Documentation, c DocumentationContent) {
	doc.HgbSection = c.HgbSection
	doc.HgbRequirement = c.HgbRequirement
	doc.ComplianceNotes = c.ComplianceNotes
	doc.WorkingPaperRef = c.WorkingPaperRef
	doc.AuditProgramRef = c.AuditProgramRef
	doc.Summary = c.Summary
	doc.DetailedDescription = c.DetailedDescription
	doc.CalculationBasis = c.CalculationBasis
	doc.Assumptions = c.Assumptions
	doc.Evidence = slices.Clone(c.Evidence)
	doc.RiskLevel = c.RiskLevel
	doc.MaterialRiskFactors = c.MaterialRiskFactors
}

func (p *Pruefpfad) signOff(req SignOffRequest) SignOff {
	at := p.now()
	return SignOff{UserID: req.UserID, Name: req.Name, At: &at, Notes: req.Notes}
}

// Create stores a new documentation signed by its preparer.
func (p *Pruefpfad) Create(ctx context.Context, req CreateDocumentationRequest) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	if err := p.validator.Struct(req); err != nil {
		return Documentation{}, validationError(err)
	}
	doc := Documentation{
		FinancialStatementID: req.FinancialStatementID,
		EntityType:           req.EntityType,
		EntityID:             req.EntityID,
		Preparer:             p.signOff(req.Preparer),
	}
	applyContent(&doc, req.Content)
	doc.Status = contentStatus(req.Content)
	stored, err := p.store.InsertDocumentation(ctx, doc)
	if err != nil {
		return Documentation{}, fmt.Errorf("insert documentation: %w", err)
	}
	p.recordAudit(ctx, req.Preparer.UserID, AuditDocumentationCreate, stored)
	return stored, nil
}

// Update replaces the narrative. Verified documentation must be flagged for
// review first; any change drops earlier review and verification.
func (p *Pruefpfad) Update(ctx context.Context, id uuid.UUID, content DocumentationContent, editor SignOffRequest) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	if err := p.validator.Struct(content); err != nil {
		return Documentation{}, validationError(err)
	}
	if err := p.validator.Struct(editor); err != nil {
		return Documentation{}, validationError(err)
	}
	doc, err := p.store.GetDocumentation(ctx, id)
	if err != nil {
		return Documentation{}, err
	}
	next := contentStatus(content)
	if !CanTransition(doc.Status, next) {
		return Documentation{}, fmt.Errorf("update documentation in state %s: %w", doc.Status, consol.ErrInvalidTransition)
	}
	applyContent(&doc, content)
	doc.Status = next
	doc.Preparer = p.signOff(editor)
	doc.Reviewer = SignOff{}
	doc.Verifier = SignOff{}
	updated, err := p.store.UpdateDocumentation(ctx, doc)
	if err != nil {
		return Documentation{}, fmt.Errorf("update documentation: %w", err)
	}
	p.recordAudit(ctx, editor.UserID, AuditDocumentationUpdate, updated)
	return updated, nil
}

// Review signs a documented item as reviewed. The reviewer must differ from
// the preparer.
func (p *Pruefpfad) Review(ctx context.Context, id uuid.UUID, reviewer SignOffRequest) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	if err := p.validator.Struct(reviewer); err != nil {
		return Documentation{}, validationError(err)
	}
	doc, err := p.store.GetDocumentation(ctx, id)
	if err != nil {
		return Documentation{}, err
	}
	if doc.Status != DocDocumented {
		return Documentation{}, fmt.Errorf("review documentation in state %s: %w", doc.Status, consol.ErrInvalidTransition)
	}
	if reviewer.UserID == doc.Preparer.UserID {
		return Documentation{}, fmt.Errorf("reviewer %s prepared the documentation: %w", reviewer.UserID, consol.ErrFourEyes)
	}
	doc.Reviewer = p.signOff(reviewer)
	updated, err := p.store.UpdateDocumentation(ctx, doc)
	if err != nil {
		return Documentation{}, fmt.Errorf("review documentation: %w", err)
	}
	p.recordAudit(ctx, reviewer.UserID, AuditDocumentationReview, updated)
	return updated, nil
}

// Verify moves a reviewed item to verified. The verifier must differ from
// both preparer and reviewer.
func (p *Pruefpfad) Verify(ctx context.Context, id uuid.UUID, verifier SignOffRequest) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	if err := p.validator.Struct(verifier); err != nil {
		return Documentation{}, validationError(err)
	}
	doc, err := p.store.GetDocumentation(ctx, id)
	if err != nil {
		return Documentation{}, err
	}
	if !CanTransition(doc.Status, DocVerified) || !doc.Reviewer.Signed() {
		return Documentation{}, fmt.Errorf("verify documentation in state %s: %w", doc.Status, consol.ErrInvalidTransition)
	}
	if verifier.UserID == doc.Preparer.UserID || verifier.UserID == doc.Reviewer.UserID {
		return Documentation{}, fmt.Errorf("verifier %s already signed the documentation: %w", verifier.UserID, consol.ErrFourEyes)
	}
	doc.Verifier = p.signOff(verifier)
	doc.Status = DocVerified
	updated, err := p.store.UpdateDocumentation(ctx, doc)
	if err != nil {
		return Documentation{}, fmt.Errorf("verify documentation: %w", err)
	}
	p.recordAudit(ctx, verifier.UserID, AuditDocumentationVerify, updated)
	return updated, nil
}

// FlagForReview sends an item back for rework and clears its sign-offs
// except the preparer's.
func (p *Pruefpfad) FlagForReview(ctx context.Context, id uuid.UUID, actor, reason string) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return Documentation{}, fmt.Errorf("%w: reason is required", consol.ErrValidation)
	}
	doc, err := p.store.GetDocumentation(ctx, id)
	if err != nil {
		return Documentation{}, err
	}
	if !CanTransition(doc.Status, DocRequiresReview) {
		return Documentation{}, fmt.Errorf("flag documentation in state %s: %w", doc.Status, consol.ErrInvalidTransition)
	}
	doc.Status = DocRequiresReview
	doc.Reviewer = SignOff{}
	doc.Verifier = SignOff{}
	if doc.ComplianceNotes != "" {
		doc.ComplianceNotes += "\n"
	}
	doc.ComplianceNotes += fmt.Sprintf("[%s] Zur Überprüfung markiert: %s", p.now().Format("2006-01-02"), reason)
	updated, err := p.store.UpdateDocumentation(ctx, doc)
	if err != nil {
		return Documentation{}, fmt.Errorf("flag documentation: %w", err)
	}
	p.recordAudit(ctx, actor, AuditDocumentationFlag, updated)
	return updated, nil
}

// Get fetches one documentation.
func (p *Pruefpfad) Get(ctx context.Context, id uuid.UUID) (Documentation, error) {
	if err := p.ready(); err != nil {
		return Documentation{}, err
	}
	return p.store.GetDocumentation(ctx, id)
}

// List returns documentation matching the filter.
func (p *Pruefpfad) List(ctx context.Context, filter DocumentationFilter) ([]Documentation, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.store.ListDocumentation(ctx, filter)
}

// Stats counts the documentation of a statement by status, HGB section and
// risk level.
func (p *Pruefpfad) Stats(ctx context.Context, statementID uuid.UUID) (DocumentationStats, error) {
	if err := p.ready(); err != nil {
		return DocumentationStats{}, err
	}
	docs, err := p.store.ListDocumentation(ctx, DocumentationFilter{FinancialStatementID: &statementID})
	if err != nil {
		return DocumentationStats{}, fmt.Errorf("list documentation: %w", err)
	}
	stats := DocumentationStats{
		Total:        len(docs),
		ByStatus:     make(map[DocStatus]int),
		ByHgbSection: make(map[string]int),
		ByRiskLevel:  make(map[RiskLevel]int),
	}
	for _, d := range docs {
		stats.ByStatus[d.Status]++
		if d.HgbSection != "" {
			stats.ByHgbSection[d.HgbSection]++
		}
		if d.RiskLevel != "" {
			stats.ByRiskLevel[d.RiskLevel]++
		}
	}
	return stats, nil
}

func (p *Pruefpfad) recordAudit(ctx context.Context, actor, action string, doc Documentation) {
	if p.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.SystemActor
	}
	if err := p.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   AuditDocumentationEntity,
		EntityID: doc.ID.String(),
		Meta: map[string]any{
			"financial_statement_id": doc.FinancialStatementID.String(),
			"entity_type":            doc.EntityType,
			"status":                 string(doc.Status),
		},
	}); err != nil {
		p.log().Warn("record pruefpfad audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (p *Pruefpfad) log() *slog.Logger {
	if p != nil && p.logger != nil {
		return p.logger.With(slog.String("component", "pruefpfad"))
	}
	return slog.Default().With(slog.String("component", "pruefpfad"))
}
