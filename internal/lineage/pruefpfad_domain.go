package lineage

import (
	"time"

	"github.com/google/uuid"
)

// DocStatus is the Prüfpfad documentation state.
type DocStatus string

const (
	DocUndocumented        DocStatus = "undocumented"
	DocPartiallyDocumented DocStatus = "partially_documented"
	DocDocumented          DocStatus = "documented"
	DocVerified            DocStatus = "verified"
	DocRequiresReview      DocStatus = "requires_review"
)

// EvidenceType classifies audit evidence.
type EvidenceType string

const (
	EvidenceSourceDocument      EvidenceType = "source_document"
	EvidenceCalculation         EvidenceType = "calculation"
	EvidenceSystemLog           EvidenceType = "system_log"
	EvidenceReconciliation      EvidenceType = "reconciliation"
	EvidenceConfirmation        EvidenceType = "confirmation"
	EvidenceManagementAssertion EvidenceType = "management_assertion"
	EvidenceAnalyticalReview    EvidenceType = "analytical_review"
	EvidenceSampling            EvidenceType = "sampling"
	EvidenceWalkthrough         EvidenceType = "walkthrough"
)

// RiskLevel rates the audit risk of a documented item.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Evidence references a piece of audit evidence.
type Evidence struct {
	Type        EvidenceType `json:"type" validate:"required,oneof=source_document calculation system_log reconciliation confirmation management_assertion analytical_review sampling walkthrough"`
	Reference   string       `json:"reference" validate:"required"`
	Description string       `json:"description,omitempty"`
	Date        *time.Time   `json:"date,omitempty"`
}

// SignOff records who signed a documentation step.
type SignOff struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name"`
	At     *time.Time `json:"at,omitempty"`
	Notes  string     `json:"notes"`
}

// Signed reports whether the step carries a signature.
func (s SignOff) Signed() bool {
	return s.UserID != ""
}

// Documentation is the audit-trail narrative attached to an entity.
type Documentation struct {
	ID                   uuid.UUID  `json:"id"`
	FinancialStatementID uuid.UUID  `json:"financial_statement_id"`
	EntityType           string     `json:"entity_type"`
	EntityID             uuid.UUID  `json:"entity_id"`
	Status               DocStatus  `json:"status"`
	HgbSection           string     `json:"hgb_section"`
	HgbRequirement       string     `json:"hgb_requirement"`
	ComplianceNotes      string     `json:"compliance_notes"`
	WorkingPaperRef      string     `json:"working_paper_ref"`
	AuditProgramRef      string     `json:"audit_program_ref"`
	Summary              string     `json:"summary"`
	DetailedDescription  string     `json:"detailed_description"`
	CalculationBasis     string     `json:"calculation_basis"`
	Assumptions          string     `json:"assumptions"`
	Evidence             []Evidence `json:"evidence"`
	RiskLevel            RiskLevel  `json:"risk_level"`
	MaterialRiskFactors  string     `json:"material_risk_factors"`
	Preparer             SignOff    `json:"preparer"`
	Reviewer             SignOff    `json:"reviewer"`
	Verifier             SignOff    `json:"verifier"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// DocumentationFilter narrows documentation queries.
type DocumentationFilter struct {
	FinancialStatementID *uuid.UUID
	EntityType           string
	EntityID             *uuid.UUID
	Status               DocStatus
	HgbSection           string
	WorkingPaperRef      string
	RiskLevel            RiskLevel
}
