package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
)

// ApprovalSchema is the reserved schema holding pending creation requests.
const ApprovalSchema = "pending_schema_request"

// ErrAwaitingApproval is returned by ProcessFile when a file needs a new
// schema and approval is required. The file is parked until Resume.
var ErrAwaitingApproval = errors.New("pipeline: awaiting schema approval")

// ErrUnknownRequest is returned by Resume for an unknown request id.
var ErrUnknownRequest = errors.New("pipeline: unknown approval request")

// Decision is the approver's answer to a schema creation request.
type Decision string

const (
	// DecisionApprove creates the proposed schema and imports the file.
	DecisionApprove Decision = "approve"
	// DecisionRedirect imports the file into an existing schema instead.
	DecisionRedirect Decision = "redirect"
	// DecisionReject discards the request and routes the file to errors.
	DecisionReject Decision = "reject"
)

const columnSeparator = "|"

// PendingRequest is a persisted schema creation request.
type PendingRequest struct {
	ID                 string
	SuggestedName      string
	Columns            []string
	SourceFile         string
	HeaderFingerprint  string
	RejectedMatch      string
	RejectedConfidence float64
}

func (w *approvalStore) save(ctx context.Context, req *PendingRequest) error {
	rec := store.Record{
		"suggested_name":      store.String(req.SuggestedName),
		"columns":             store.String(strings.Join(req.Columns, columnSeparator)),
		"source_file":         store.String(req.SourceFile),
		"header_fingerprint":  store.String(req.HeaderFingerprint),
		"rejected_match":      store.String(req.RejectedMatch),
		"rejected_confidence": store.Float(req.RejectedConfidence),
		"requested_at":        store.Time(time.Now()),
	}
	if err := w.records.Insert(ctx, ApprovalSchema, req.ID, rec); err != nil {
		return fmt.Errorf("persist approval request: %w", err)
	}
	return nil
}

func (w *approvalStore) load(ctx context.Context, id string) (*PendingRequest, error) {
	rec, err := w.records.Get(ctx, ApprovalSchema, store.Predicate{"name": store.String(id)}, nil)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load approval request: %w", err)
	}
	if resolved, _ := rec.Fields["resolved"].AsBool(); resolved {
		return nil, fmt.Errorf("%w: %s already resolved", ErrUnknownRequest, id)
	}

	req := &PendingRequest{
		ID:                rec.Name,
		SuggestedName:     rec.Fields["suggested_name"].Text(),
		SourceFile:        rec.Fields["source_file"].Text(),
		HeaderFingerprint: rec.Fields["header_fingerprint"].Text(),
		RejectedMatch:     rec.Fields["rejected_match"].Text(),
	}
	if cols := rec.Fields["columns"].Text(); cols != "" {
		req.Columns = strings.Split(cols, columnSeparator)
	}
	if f, ok := rec.Fields["rejected_confidence"].AsFloat(); ok {
		req.RejectedConfidence = f
	}
	return req, nil
}

func (w *approvalStore) resolve(ctx context.Context, id string) error {
	return w.records.Update(ctx, ApprovalSchema, id, store.Record{
		"resolved_at": store.Time(time.Now()),
		"resolved":    store.Bool(true),
	})
}

// approvalStore persists pending requests in the record store.
type approvalStore struct {
	records store.RecordStore
}

func newPendingRequest(creation *schema.SchemaCreationRequest, sourceFile, headerFP string) *PendingRequest {
	return &PendingRequest{
		ID:                 uuid.NewString()[:8],
		SuggestedName:      creation.SuggestedName,
		Columns:            creation.Columns,
		SourceFile:         sourceFile,
		HeaderFingerprint:  headerFP,
		RejectedMatch:      creation.RejectedMatch,
		RejectedConfidence: creation.RejectedConfidence,
	}
}
