package lineage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// CreateNodeRequest carries the input for a new lineage node.
type CreateNodeRequest struct {
	FinancialStatementID uuid.UUID        `json:"financial_statement_id" validate:"required"`
	CompanyID            *uuid.UUID       `json:"company_id,omitempty"`
	NodeType             NodeType         `json:"node_type" validate:"required,oneof=source_data account_balance aggregation intercompany_elimination capital_consolidation debt_consolidation currency_translation minority_interest deferred_tax consolidated_value reclassification valuation_adjustment proportional_share equity_method"`
	NodeCode             string           `json:"node_code,omitempty" validate:"max=64"`
	NodeName             string           `json:"node_name" validate:"required,max=255"`
	ValueAmount          decimal.Decimal  `json:"value_amount"`
	ValueCurrency        string           `json:"value_currency,omitempty" validate:"omitempty,len=3"`
	ValueInGroupCurrency *decimal.Decimal `json:"value_in_group_currency,omitempty"`
	AccountID            *uuid.UUID       `json:"account_id,omitempty"`
	AccountCode          string           `json:"account_code,omitempty" validate:"max=32"`
	SourceEntityType     string           `json:"source_entity_type,omitempty" validate:"max=64"`
	SourceEntityID       *uuid.UUID       `json:"source_entity_id,omitempty"`
	ConsolidationEntryID *uuid.UUID       `json:"consolidation_entry_id,omitempty"`
	HgbSection           string           `json:"hgb_section,omitempty" validate:"max=32"`
	FiscalYear           int              `json:"fiscal_year,omitempty" validate:"omitempty,gte=1900,lte=2999"`
	ReportingPeriod      string           `json:"reporting_period,omitempty" validate:"max=32"`
	IsFinal              bool             `json:"is_final,omitempty"`
}

func (r CreateNodeRequest) node() Node {
	currency := r.ValueCurrency
	if currency == "" {
		currency = DefaultCurrency
	}
	return Node{
		FinancialStatementID: r.FinancialStatementID,
		CompanyID:            r.CompanyID,
		NodeType:             r.NodeType,
		NodeCode:             r.NodeCode,
		NodeName:             r.NodeName,
		ValueAmount:          consol.Round2(r.ValueAmount),
		ValueCurrency:        strings.ToUpper(currency),
		ValueInGroupCurrency: r.ValueInGroupCurrency,
		AccountID:            r.AccountID,
		AccountCode:          r.AccountCode,
		SourceEntityType:     r.SourceEntityType,
		SourceEntityID:       r.SourceEntityID,
		ConsolidationEntryID: r.ConsolidationEntryID,
		HgbSection:           r.HgbSection,
		FiscalYear:           r.FiscalYear,
		ReportingPeriod:      r.ReportingPeriod,
		IsFinal:              r.IsFinal,
	}
}

// CreateTraceRequest carries the input for a new edge between two nodes.
type CreateTraceRequest struct {
	SourceNodeID           uuid.UUID          `json:"source_node_id" validate:"required"`
	TargetNodeID           uuid.UUID          `json:"target_node_id" validate:"required"`
	TransformationType     TransformationType `json:"transformation_type" validate:"required,oneof=import manual_entry sum subtract multiply percentage elimination offset allocation reversal carry_forward pro_rata mapping"`
	Description            string             `json:"description,omitempty" validate:"max=500"`
	Factor                 *decimal.Decimal   `json:"factor,omitempty"`
	Formula                string             `json:"formula,omitempty" validate:"max=500"`
	ContributionAmount     *decimal.Decimal   `json:"contribution_amount,omitempty"`
	ContributionPercentage *decimal.Decimal   `json:"contribution_percentage,omitempty"`
	ConsolidationEntryID   *uuid.UUID         `json:"consolidation_entry_id,omitempty"`
	SequenceOrder          int                `json:"sequence_order,omitempty" validate:"gte=0"`
	IsReversible           *bool              `json:"is_reversible,omitempty"`
}

func (r CreateTraceRequest) trace() Trace {
	reversible := true
	if r.IsReversible != nil {
		reversible = *r.IsReversible
	}
	t := Trace{
		SourceNodeID:         r.SourceNodeID,
		TargetNodeID:         r.TargetNodeID,
		TransformationType:   r.TransformationType,
		Description:          r.Description,
		Formula:              r.Formula,
		ConsolidationEntryID: r.ConsolidationEntryID,
		SequenceOrder:        r.SequenceOrder,
		IsReversible:         reversible,
	}
	if r.Factor != nil {
		t.Factor = consol.Ref(consol.Round6(*r.Factor))
	}
	if r.ContributionAmount != nil {
		t.ContributionAmount = consol.Ref(consol.Round2(*r.ContributionAmount))
	}
	if r.ContributionPercentage != nil {
		t.ContributionPercentage = consol.Ref(consol.Round4(*r.ContributionPercentage))
	}
	return t
}

// validationError flattens validator output into a consol.ErrValidation.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", consol.ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	sort.Strings(fields)
	return fmt.Errorf("%w: %s", consol.ErrValidation, strings.Join(fields, ", "))
}
