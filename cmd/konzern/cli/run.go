package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/konzern/internal/consol"
	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
)

// RunOptions configures the synchronous run command.
type RunOptions struct {
	Output
	StatementID string
	TaxRate     string
	Actor       string
}

// RunCommand consolidates one statement in-process and prints the summary.
// It returns ExitWarnings when the run left unmatched transactions or
// missing information.
func (c *ConsolOpsCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	out := opts.Output.withDefaults()
	if c == nil || c.runner == nil {
		return out.failf("run", "orchestrator not configured")
	}
	id, err := parseStatementID(opts.StatementID)
	if err != nil {
		return out.failf("run", "%v", err)
	}
	rate, err := parseTaxRate(opts.TaxRate)
	if err != nil {
		return out.failf("run", "%v", err)
	}
	res, err := c.runner.Run(ctx, id, orchestrator.RunOptions{TaxRate: rate, Actor: strings.TrimSpace(opts.Actor)})
	if err != nil {
		return out.fail("run", err)
	}

	if out.JSONOutput {
		if code := out.json("run", consolhttp.RunFromDomain(res)); code != ExitOK {
			return code
		}
	} else {
		renderRunHuman(out, res)
	}
	if res.Summary.UnmatchedTransactions > 0 || len(res.MissingInfo) > 0 {
		return ExitWarnings
	}
	return ExitOK
}

func renderRunHuman(out Output, res orchestrator.RunResult) {
	s := res.Summary
	_, _ = fmt.Fprintf(out.Stdout, "Statement %s consolidated in %s\n", res.StatementID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	_, _ = fmt.Fprintf(out.Stdout, "  Companies in scope:          %d\n", len(res.Scope.Companies))
	_, _ = fmt.Fprintf(out.Stdout, "  Entries:                     %d (%s)\n", s.TotalEntries, consol.FormatAmount(s.TotalAmount))
	_, _ = fmt.Fprintf(out.Stdout, "  Intercompany eliminations:   %d\n", s.IntercompanyEliminations)
	_, _ = fmt.Fprintf(out.Stdout, "  Debt consolidations:         %d\n", s.DebtConsolidations)
	_, _ = fmt.Fprintf(out.Stdout, "  Capital consolidations:      %d\n", s.CapitalConsolidations)
	_, _ = fmt.Fprintf(out.Stdout, "  Equity method:               %d\n", s.EquityMethod)
	_, _ = fmt.Fprintf(out.Stdout, "  Proportional:                %d\n", s.Proportional)
	_, _ = fmt.Fprintf(out.Stdout, "  Minority interest:           %d\n", s.MinorityInterest)
	_, _ = fmt.Fprintf(out.Stdout, "  Deferred tax:                %d\n", s.DeferredTax)
	_, _ = fmt.Fprintf(out.Stdout, "  Unmatched transactions:      %d\n", s.UnmatchedTransactions)
	if s.FailedInserts > 0 {
		_, _ = fmt.Fprintf(out.Stdout, "  Failed inserts:              %d\n", s.FailedInserts)
	}
	for _, info := range res.MissingInfo {
		_, _ = fmt.Fprintf(out.Stdout, "  ! %s\n", info)
	}
}
