package consol

import "fmt"

// ValidateStatementTransition checks a statement status change. Only a
// finalized statement can be consolidated, and a consolidated statement is
// reopened to finalized only with an explicit override.
func ValidateStatementTransition(current, target StatementStatus, override bool) error {
	if current == target {
		return nil
	}
	switch current {
	case StatementDraft:
		if target == StatementFinalized {
			return nil
		}
	case StatementFinalized:
		if target == StatementDraft || target == StatementConsolidated {
			return nil
		}
	case StatementConsolidated:
		if target == StatementFinalized && override {
			return nil
		}
	}
	return fmt.Errorf("statement %s -> %s: %w", current, target, ErrInvalidTransition)
}
