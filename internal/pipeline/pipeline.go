// Package pipeline orchestrates a file import end to end: read and profile
// the file, resolve the target schema (registry fast path, matcher,
// approval workflow, or synthesis), map columns, and run every row through
// the upsert engine under advisory locks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nbrandao/schemaflow/internal/audit"
	"github.com/nbrandao/schemaflow/internal/fingerprint"
	"github.com/nbrandao/schemaflow/internal/identity"
	"github.com/nbrandao/schemaflow/internal/inference"
	"github.com/nbrandao/schemaflow/internal/lock"
	"github.com/nbrandao/schemaflow/internal/notify"
	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
	"github.com/nbrandao/schemaflow/internal/tabular"
	"github.com/nbrandao/schemaflow/internal/upsert"
	"github.com/nbrandao/schemaflow/pkg/config"
	"github.com/nbrandao/schemaflow/pkg/metrics"
)

// reservedSchemas hold pipeline bookkeeping and never receive imports or
// participate in matching.
var reservedSchemas = map[string]bool{
	RegistrySchema:  true,
	ApprovalSchema:  true,
	audit.LogSchema: true,
}

// Pipeline wires the import stages together.
type Pipeline struct {
	cfg       *config.Config
	records   store.Batcher
	schemas   store.SchemaStore
	matcher   *schema.Matcher
	synth     *schema.Synthesizer
	auditor   *audit.Logger
	locks     *lock.Manager
	notifier  *notify.Notifier
	metrics   *metrics.Metrics
	registry  *Registry
	approvals *approvalStore
	logger    *slog.Logger
	fpOpts    fingerprint.Options
}

func New(
	cfg *config.Config,
	records store.Batcher,
	schemas store.SchemaStore,
	locks *lock.Manager,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		records:   records,
		schemas:   schemas,
		matcher:   schema.NewMatcher(cfg.Import.MatchThreshold, logger),
		synth:     schema.NewSynthesizer(logger),
		auditor:   audit.NewLogger(records, logger),
		locks:     locks,
		notifier:  notifier,
		metrics:   m,
		registry:  NewRegistry(records, logger),
		approvals: &approvalStore{records: records},
		logger:    logger.With(slog.String("component", "pipeline")),
		fpOpts:    fingerprint.Options{ContentOnly: cfg.Import.ContentOnlyFingerprint},
	}
}

// ProcessFile imports one file. Unreadable files are routed to the error
// directory; files needing schema approval are parked and surface
// ErrAwaitingApproval; everything else lands in the processed directory
// with a per-row report.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*RunSummary, error) {
	fileLock, err := p.locks.Acquire(ctx, "file-"+filepath.Base(path))
	if err != nil {
		return nil, err
	}
	defer fileLock.Unlock()

	tbl, err := tabular.Read(path)
	if err != nil {
		p.logger.ErrorContext(ctx, "unreadable file",
			slog.String("path", path), slog.Any("error", err))
		p.metrics.FilesProcessed.WithLabelValues("unreadable").Inc()
		if moveErr := moveFile(path, p.cfg.Directories.Errored); moveErr != nil {
			p.logger.ErrorContext(ctx, "failed to route unreadable file",
				slog.String("path", path), slog.Any("error", moveErr))
		}
		return nil, err
	}

	profiles := profileTable(tbl)
	headerFP := fingerprint.Headers(tbl.Headers)

	s, err := p.resolveSchema(ctx, path, tbl, profiles, headerFP)
	if err != nil {
		return nil, err
	}
	return p.importTable(ctx, s, tbl, path)
}

// Resume re-enters the pipeline for a parked approval request.
func (p *Pipeline) Resume(ctx context.Context, requestID string, decision Decision, target string) (*RunSummary, error) {
	req, err := p.approvals.load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if decision == DecisionReject {
		if err := moveFile(req.SourceFile, p.cfg.Directories.Errored); err != nil {
			return nil, err
		}
		p.metrics.FilesProcessed.WithLabelValues("rejected").Inc()
		p.logger.InfoContext(ctx, "schema request rejected",
			slog.String("request", requestID),
			slog.String("suggested", req.SuggestedName))
		return nil, p.approvals.resolve(ctx, requestID)
	}

	tbl, err := tabular.Read(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("reread parked file: %w", err)
	}

	var s *schema.Schema
	switch decision {
	case DecisionApprove:
		s = p.synth.Synthesize(profileTable(tbl), req.SuggestedName)
		if err := p.schemas.CreateSchema(ctx, s); err != nil {
			return nil, fmt.Errorf("create approved schema: %w", err)
		}
		p.metrics.SchemasCreated.Inc()
	case DecisionRedirect:
		s, err = p.schemas.GetSchema(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("redirect target: %w", err)
		}
		if err := p.ensureFingerprintField(ctx, s); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	if err := p.registry.Register(ctx, req.HeaderFingerprint, s.Name); err != nil {
		return nil, err
	}
	if err := p.approvals.resolve(ctx, requestID); err != nil {
		return nil, err
	}
	return p.importTable(ctx, s, tbl, req.SourceFile)
}

// resolveSchema finds or creates the schema a file belongs to.
func (p *Pipeline) resolveSchema(
	ctx context.Context,
	path string,
	tbl *tabular.Table,
	profiles []inference.Profile,
	headerFP string,
) (*schema.Schema, error) {
	// Fast path: this exact header layout was imported before.
	if name, err := p.registry.Lookup(ctx, headerFP); err != nil {
		return nil, err
	} else if name != "" {
		s, err := p.schemas.GetSchema(ctx, name)
		if err == nil {
			p.logger.InfoContext(ctx, "layout known, reusing schema",
				slog.String("schema", name))
			return s, nil
		}
		if !errors.Is(err, store.ErrSchemaNotFound) {
			return nil, err
		}
		// Registered schema was deleted since; fall through to matching.
	}

	candidates, err := p.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}

	result := p.matcher.FindMatch(tbl.Headers, candidates)
	if !result.ShouldCreate() {
		s := result.Schema
		p.logger.InfoContext(ctx, "matched existing schema",
			slog.String("schema", s.Name),
			slog.Float64("confidence", result.Confidence))
		if err := p.ensureFingerprintField(ctx, s); err != nil {
			return nil, err
		}
		if err := p.registry.Register(ctx, headerFP, s.Name); err != nil {
			return nil, err
		}
		return s, nil
	}

	suggested := schema.SuggestName(path)
	suggested = schema.ResolveAlias(suggested, func(name string) bool {
		_, err := p.schemas.GetSchema(ctx, name)
		return err == nil
	})

	// The alias table may redirect straight to an existing schema, as when
	// vendors.csv belongs in Supplier.
	if s, err := p.schemas.GetSchema(ctx, suggested); err == nil {
		p.logger.InfoContext(ctx, "alias resolved to existing schema",
			slog.String("schema", s.Name))
		if err := p.ensureFingerprintField(ctx, s); err != nil {
			return nil, err
		}
		if err := p.registry.Register(ctx, headerFP, s.Name); err != nil {
			return nil, err
		}
		return s, nil
	} else if !errors.Is(err, store.ErrSchemaNotFound) {
		return nil, err
	}

	rejectedName, rejectedScore := bestRejected(result.Scores)
	creation := &schema.SchemaCreationRequest{
		SuggestedName:      suggested,
		Columns:            tbl.Headers,
		SampleRow:          tbl.RowMap(0),
		RejectedMatch:      rejectedName,
		RejectedConfidence: rejectedScore,
	}

	if p.cfg.Approval.Required {
		return nil, p.parkForApproval(ctx, path, creation, headerFP)
	}

	s := p.synth.Synthesize(profiles, suggested)
	if err := p.schemas.CreateSchema(ctx, s); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	p.metrics.SchemasCreated.Inc()
	p.logger.InfoContext(ctx, "schema synthesized",
		slog.String("schema", s.Name),
		slog.Int("fields", len(s.Fields)))
	if err := p.registry.Register(ctx, headerFP, s.Name); err != nil {
		return nil, err
	}
	return s, nil
}

// parkForApproval persists the creation request, moves the file out of the
// inbox so sweeps skip it, and notifies the approver.
func (p *Pipeline) parkForApproval(ctx context.Context, path string, creation *schema.SchemaCreationRequest, headerFP string) error {
	pendingDir := filepath.Join(p.cfg.Directories.Inbox, "pending")
	if err := moveFile(path, pendingDir); err != nil {
		return err
	}
	parked := filepath.Join(pendingDir, filepath.Base(path))

	req := newPendingRequest(creation, parked, headerFP)
	if err := p.approvals.save(ctx, req); err != nil {
		return err
	}

	p.notifier.SchemaApprovalRequested(ctx, filepath.Base(path), creation)
	p.logger.InfoContext(ctx, "awaiting schema approval",
		slog.String("request", req.ID),
		slog.String("suggested", creation.SuggestedName))
	return fmt.Errorf("%w: request %s", ErrAwaitingApproval, req.ID)
}

// importTable runs every row through the upsert engine under the schema's
// operation lock and routes the file when done. Rows are processed in
// batches of BatchSize; each batch commits as a unit and a batch-level
// failure rolls that batch back.
func (p *Pipeline) importTable(ctx context.Context, s *schema.Schema, tbl *tabular.Table, path string) (*RunSummary, error) {
	opLock, err := p.locks.Acquire(ctx, "schema-"+s.Name)
	if err != nil {
		return nil, err
	}
	defer opLock.Unlock()

	started := time.Now()
	mapping := schema.MapFields(tbl.Headers, s)
	runID := uuid.NewString()[:8]

	summary := &RunSummary{SourceFile: path, Schema: s.Name}
	rows := make([]reportRow, 0, len(tbl.Rows))

	p.logger.InfoContext(ctx, "import started",
		slog.String("schema", s.Name),
		slog.String("run", runID),
		slog.Int("rows", len(tbl.Rows)),
		slog.Int("mapped_columns", len(mapping)))

	size := p.cfg.Import.BatchSize
	if size < 1 {
		size = 1
	}
	for start := 0; start < len(tbl.Rows); start += size {
		end := min(start+size, len(tbl.Rows))
		batchNo := start/size + 1
		label := fmt.Sprintf("%s-%d", runID, batchNo)

		results := make([]upsert.RowResult, 0, end-start)
		err := p.records.Batch(ctx, func(records store.RecordStore) error {
			// The engine and resolver are scoped to the batch so the
			// resolver's uniqueness ratios track the store as rows land.
			resolver := identity.NewResolver(records, p.cfg.Import.IdentityCutoff, p.logger)
			engine := upsert.NewEngine(records, resolver, p.logger)

			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				ordinal := i + 1
				raw := tbl.RowMap(i)
				in := upsert.RowInput{
					Ordinal:     ordinal,
					Raw:         raw,
					Mapping:     mapping,
					Fingerprint: p.rowFingerprint(ordinal, raw, mapping),
					Source:      filepath.Base(path),
					Batch:       label,
				}
				results = append(results, engine.ProcessRow(ctx, s, in))
			}
			return nil
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "batch rolled back",
				slog.String("run", runID),
				slog.Int("batch", batchNo),
				slog.Any("error", err))
			summary.Duration = time.Since(started)
			return summary, err
		}

		for _, res := range results {
			p.tally(summary, &rows, res)
			p.metrics.ObserveRow(s.Name, string(res.Outcome))

			entry := audit.Entry{
				Fingerprint: res.Fingerprint,
				SourceFile:  filepath.Base(path),
				Schema:      s.Name,
				RecordName:  res.RecordName,
				Action:      string(res.Outcome),
			}
			if res.Err != nil {
				entry.Error = res.Err.Error()
			}
			if err := p.auditor.Record(ctx, entry); err != nil {
				p.logger.WarnContext(ctx, "audit log failed",
					slog.Int("row", res.Ordinal), slog.Any("error", err))
			}
		}
	}

	summary.Duration = time.Since(started)
	p.metrics.RunDuration.Observe(summary.Duration.Seconds())

	if _, err := WriteReport(p.cfg.Directories.Reports, summary, rows); err != nil {
		p.logger.ErrorContext(ctx, "report write failed", slog.Any("error", err))
	}
	if err := moveFile(path, p.cfg.Directories.Processed); err != nil {
		p.logger.ErrorContext(ctx, "failed to route processed file",
			slog.String("path", path), slog.Any("error", err))
	}
	p.metrics.FilesProcessed.WithLabelValues("processed").Inc()

	p.logger.InfoContext(ctx, "import finished", slog.String("summary", summary.String()))
	return summary, nil
}

func (p *Pipeline) tally(summary *RunSummary, rows *[]reportRow, res upsert.RowResult) {
	row := reportRow{
		Row:        res.Ordinal,
		Outcome:    string(res.Outcome),
		RecordName: res.RecordName,
	}
	switch res.Outcome {
	case upsert.OutcomeInserted:
		summary.Inserted++
	case upsert.OutcomeUpdated:
		summary.Updated++
	case upsert.OutcomeSkipped:
		summary.Skipped++
	case upsert.OutcomeFailed:
		summary.Failed++
		row.Error = res.Err.Error()
		summary.Errors = append(summary.Errors, RowError{Row: res.Ordinal, Message: res.Err.Error()})
	}
	*rows = append(*rows, row)
}

// rowFingerprint hashes the row over mapped schema field names, so the same
// data fingerprints identically regardless of source header spelling.
func (p *Pipeline) rowFingerprint(ordinal int, raw map[string]string, mapping map[string]string) string {
	fields := make([]string, 0, len(mapping))
	values := make([]string, 0, len(mapping))
	for column, fieldName := range mapping {
		fields = append(fields, fieldName)
		values = append(values, raw[column])
	}
	return fingerprint.Row(ordinal, fields, values, p.fpOpts)
}

func (p *Pipeline) loadCandidates(ctx context.Context) ([]*schema.Schema, error) {
	names, err := p.schemas.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	candidates := make([]*schema.Schema, 0, len(names))
	for _, name := range names {
		if reservedSchemas[name] {
			continue
		}
		s, err := p.schemas.GetSchema(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
		candidates = append(candidates, s)
	}
	return candidates, nil
}

// ensureFingerprintField retrofits row_hash onto schemas created before
// imports existed.
func (p *Pipeline) ensureFingerprintField(ctx context.Context, s *schema.Schema) error {
	if !s.EnsureFingerprintField() {
		return nil
	}
	f := s.Field(schema.FingerprintField)
	if err := p.schemas.AddField(ctx, s.Name, *f); err != nil {
		return fmt.Errorf("retrofit fingerprint field: %w", err)
	}
	p.logger.InfoContext(ctx, "fingerprint field added",
		slog.String("schema", s.Name))
	return nil
}

func bestRejected(scores map[string]float64) (string, float64) {
	var name string
	best := -1.0
	for n, score := range scores {
		if score > best || (score == best && n < name) {
			name, best = n, score
		}
	}
	if name == "" {
		return "", 0
	}
	return name, best
}

// moveFile renames into destDir, falling back to copy+remove across
// filesystems.
func moveFile(path, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))

	if err := os.Rename(path, dest); err == nil {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("move %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func profileTable(tbl *tabular.Table) []inference.Profile {
	profiles := make([]inference.Profile, 0, len(tbl.Headers))
	for _, h := range tbl.Headers {
		profiles = append(profiles, inference.ProfileColumn(h, tbl.Column(h)))
	}
	return profiles
}
