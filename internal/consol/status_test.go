package consol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateStatementTransition(t *testing.T) {
	cases := []struct {
		name     string
		current  StatementStatus
		target   StatementStatus
		override bool
		ok       bool
	}{
		{"same", StatementDraft, StatementDraft, false, true},
		{"finalize", StatementDraft, StatementFinalized, false, true},
		{"draft cannot consolidate", StatementDraft, StatementConsolidated, false, false},
		{"back to draft", StatementFinalized, StatementDraft, false, true},
		{"consolidate", StatementFinalized, StatementConsolidated, false, true},
		{"reopen without override", StatementConsolidated, StatementFinalized, false, false},
		{"reopen with override", StatementConsolidated, StatementFinalized, true, true},
		{"consolidated to draft", StatementConsolidated, StatementDraft, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStatementTransition(tc.current, tc.target, tc.override)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}
