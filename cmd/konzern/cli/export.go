package cli

import (
	"context"
	"strings"

	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
)

// ExportOptions configures the audit trail export.
type ExportOptions struct {
	Output
	StatementID string
	// Format is json (default) or csv.
	Format string
}

// ExportCommand writes the Prüfpfad of a statement to Stdout.
func (c *ConsolOpsCLI) ExportCommand(ctx context.Context, opts ExportOptions) int {
	out := opts.Output.withDefaults()
	if c == nil || c.exporter == nil {
		return out.failf("export", "exporter not configured")
	}
	id, err := parseStatementID(opts.StatementID)
	if err != nil {
		return out.failf("export", "%v", err)
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return out.failf("export", "unsupported format %q", opts.Format)
	}
	trail, err := c.exporter.ExportAuditTrail(ctx, id)
	if err != nil {
		return out.fail("export", err)
	}
	if format == "json" {
		return out.json("export", trail)
	}
	if err := consolhttp.WriteAuditTrailCSV(out.Stdout, trail); err != nil {
		return out.failf("export", "write csv: %v", err)
	}
	return ExitOK
}
