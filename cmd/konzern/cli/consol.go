package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/jobs"
)

// Exit codes shared by the consolidation commands.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitConflict = 3
	// ExitWarnings reports a completed run that left unmatched transactions
	// or missing information behind.
	ExitWarnings = 10
)

// Enqueuer submits consolidation jobs. *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, payload jobs.ConsolRunPayload) (*asynq.TaskInfo, error)
	EnqueueRefresh(ctx context.Context, fiscalYear int) (*asynq.TaskInfo, error)
}

// AuditExporter builds the Prüfpfad export of a statement.
type AuditExporter interface {
	ExportAuditTrail(ctx context.Context, statementID uuid.UUID) (lineage.AuditTrail, error)
}

// Deps wires the helpers. Every field is optional; commands whose
// dependency is missing fail with ExitError.
type Deps struct {
	Runner    jobs.ConsolidationRunner
	Exporter  AuditExporter
	Enqueuer  Enqueuer
	Inspector jobs.Inspector
}

// ConsolOpsCLI exposes the operational consolidation commands.
type ConsolOpsCLI struct {
	runner    jobs.ConsolidationRunner
	exporter  AuditExporter
	enqueuer  Enqueuer
	inspector jobs.Inspector
}

// NewConsolOpsCLI constructs the helper.
func NewConsolOpsCLI(deps Deps) *ConsolOpsCLI {
	return &ConsolOpsCLI{
		runner:    deps.Runner,
		exporter:  deps.Exporter,
		enqueuer:  deps.Enqueuer,
		inspector: deps.Inspector,
	}
}

// Output holds the writers and format shared by every command.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o Output) withDefaults() Output {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

func (o Output) failf(cmd, format string, args ...any) int {
	_, _ = fmt.Fprintf(o.Stderr, cmd+": "+format+"\n", args...)
	return ExitError
}

// fail prints err and maps it to an exit code.
func (o Output) fail(cmd string, err error) int {
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	if errors.Is(err, consol.ErrConcurrencyConflict) {
		return ExitConflict
	}
	return ExitError
}

func (o Output) json(cmd string, v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.failf(cmd, "encode json: %v", err)
	}
	return ExitOK
}

func parseStatementID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, errors.New("--statement is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid statement id %q", raw)
	}
	return id, nil
}

func parseTaxRate(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tax rate %q", raw)
	}
	if rate.IsNegative() || rate.GreaterThan(consol.Hundred()) {
		return nil, fmt.Errorf("tax rate %s must be between 0 and 100", rate)
	}
	return &rate, nil
}

// EnqueueOptions configures the enqueue command.
type EnqueueOptions struct {
	Output
	StatementID string
	TaxRate     string
	Actor       string
}

// EnqueueCommand queues a run of one statement for the worker.
func (c *ConsolOpsCLI) EnqueueCommand(ctx context.Context, opts EnqueueOptions) int {
	out := opts.Output.withDefaults()
	if c == nil || c.enqueuer == nil {
		return out.failf("enqueue", "queue client not configured")
	}
	id, err := parseStatementID(opts.StatementID)
	if err != nil {
		return out.failf("enqueue", "%v", err)
	}
	rate, err := parseTaxRate(opts.TaxRate)
	if err != nil {
		return out.failf("enqueue", "%v", err)
	}
	payload := jobs.ConsolRunPayload{StatementID: id.String(), Actor: strings.TrimSpace(opts.Actor)}
	if rate != nil {
		payload.TaxRate = rate.String()
	}
	info, err := c.enqueuer.EnqueueRun(ctx, payload)
	if err != nil {
		return out.fail("enqueue", err)
	}
	return out.taskInfo("enqueue", info)
}

// RefreshOptions configures the refresh command.
type RefreshOptions struct {
	Output
	FiscalYear int
}

// RefreshCommand queues a refresh of every finalized group statement.
func (c *ConsolOpsCLI) RefreshCommand(ctx context.Context, opts RefreshOptions) int {
	out := opts.Output.withDefaults()
	if c == nil || c.enqueuer == nil {
		return out.failf("refresh", "queue client not configured")
	}
	if opts.FiscalYear < 0 {
		return out.failf("refresh", "--year must not be negative")
	}
	info, err := c.enqueuer.EnqueueRefresh(ctx, opts.FiscalYear)
	if err != nil {
		return out.fail("refresh", err)
	}
	return out.taskInfo("refresh", info)
}

func (o Output) taskInfo(cmd string, info *asynq.TaskInfo) int {
	if info == nil {
		return o.failf(cmd, "queue returned no task")
	}
	if o.JSONOutput {
		return o.json(cmd, map[string]string{"task_id": info.ID, "queue": info.Queue, "type": info.Type})
	}
	_, _ = fmt.Fprintf(o.Stdout, "queued %s on %s (task %s)\n", info.Type, info.Queue, info.ID)
	return ExitOK
}

// QueueCommand prints the state of the consolidation queues.
func (c *ConsolOpsCLI) QueueCommand(_ context.Context, opts Output) int {
	out := opts.withDefaults()
	if c == nil || c.inspector == nil {
		return out.failf("queue", "inspector not configured")
	}
	stats := make([]jobs.QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		s, err := jobs.QueueInfo(c.inspector, queue)
		if err != nil {
			return out.fail("queue", fmt.Errorf("%s: %w", queue, err))
		}
		stats = append(stats, s)
	}
	if out.JSONOutput {
		return out.json("queue", stats)
	}
	_, _ = fmt.Fprintf(out.Stdout, "%-10s %8s %8s %10s %8s %9s\n", "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(out.Stdout, "%-10s %8d %8d %10d %8d %9d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	return ExitOK
}
