package entries

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// CreateRequest carries a manual consolidation entry.
type CreateRequest struct {
	FinancialStatementID uuid.UUID             `json:"financial_statement_id" validate:"required"`
	AccountID            *uuid.UUID            `json:"account_id,omitempty"`
	DebitAccountID       *uuid.UUID            `json:"debit_account_id,omitempty"`
	CreditAccountID      *uuid.UUID            `json:"credit_account_id,omitempty"`
	AdjustmentType       consol.AdjustmentType `json:"adjustment_type" validate:"required,oneof=elimination reclassification capital_consolidation debt_consolidation intercompany_profit income_expense currency_translation deferred_tax minority_interest other"`
	Amount               decimal.Decimal       `json:"amount"`
	Description          string                `json:"description" validate:"required,max=500"`
	HgbReference         *consol.HgbReference  `json:"hgb_reference,omitempty" validate:"omitempty,oneof=§301 §303 §304 §305 §306 §307 §308 §308a §309 §310 §312 Sonstige"`
	AffectedCompanyIDs   []uuid.UUID           `json:"affected_company_ids,omitempty" validate:"dive,required"`
	CreatedBy            string                `json:"created_by" validate:"required,max=128"`
}

// UpdateRequest replaces the editable fields of a draft entry.
type UpdateRequest struct {
	AccountID          *uuid.UUID           `json:"account_id,omitempty"`
	DebitAccountID     *uuid.UUID           `json:"debit_account_id,omitempty"`
	CreditAccountID    *uuid.UUID           `json:"credit_account_id,omitempty"`
	Amount             decimal.Decimal      `json:"amount"`
	Description        string               `json:"description" validate:"required,max=500"`
	HgbReference       *consol.HgbReference `json:"hgb_reference,omitempty" validate:"omitempty,oneof=§301 §303 §304 §305 §306 §307 §308 §308a §309 §310 §312 Sonstige"`
	AffectedCompanyIDs []uuid.UUID          `json:"affected_company_ids,omitempty" validate:"dive,required"`
	UpdatedBy          string               `json:"updated_by" validate:"required,max=128"`
}

// Decision carries an approval or rejection.
type Decision struct {
	Actor  string `json:"actor" validate:"required,max=128"`
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}
