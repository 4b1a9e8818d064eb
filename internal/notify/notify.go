// Package notify emails an approver when an import needs a new schema
// created. Delivery failures are logged and swallowed; an import must never
// fail because email is down.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/nbrandao/schemaflow/internal/schema"
)

// Notifier sends schema-approval requests through resend. A nil client is
// allowed and turns every send into a logged no-op.
type Notifier struct {
	client    *resend.Client
	logger    *slog.Logger
	toEmail   string
	fromEmail string
}

func New(apiKey, toEmail, fromEmail string, logger *slog.Logger) *Notifier {
	var client *resend.Client
	if apiKey != "" {
		client = resend.NewClient(apiKey)
	}
	if fromEmail == "" {
		fromEmail = "Schemaflow <imports@schemaflow.dev>"
	}

	return &Notifier{
		client:    client,
		logger:    logger.With(slog.String("component", "notify")),
		toEmail:   toEmail,
		fromEmail: fromEmail,
	}
}

// SchemaApprovalRequested emails the approver about a pending schema
// creation request. Errors are logged, never returned.
func (n *Notifier) SchemaApprovalRequested(ctx context.Context, sourceFile string, req *schema.SchemaCreationRequest) {
	if n.client == nil || n.toEmail == "" {
		n.logger.WarnContext(ctx, "notifier not configured, skipping approval email",
			slog.String("suggested_schema", req.SuggestedName))
		return
	}

	_, err := n.client.Emails.Send(&resend.SendEmailRequest{
		From:    n.fromEmail,
		To:      []string{n.toEmail},
		Subject: fmt.Sprintf("Schema approval needed: %s", req.SuggestedName),
		Html:    approvalBody(sourceFile, req),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to send approval email",
			slog.String("suggested_schema", req.SuggestedName),
			slog.Any("error", err),
		)
		return
	}

	n.logger.InfoContext(ctx, "approval email sent",
		slog.String("to", n.toEmail),
		slog.String("suggested_schema", req.SuggestedName),
	)
}

func approvalBody(sourceFile string, req *schema.SchemaCreationRequest) string {
	var rows strings.Builder
	for _, col := range req.Columns {
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td></tr>",
			html.EscapeString(col), html.EscapeString(req.SampleRow[col]))
	}

	rejected := "none of the existing schemas came close"
	if req.RejectedMatch != "" {
		rejected = fmt.Sprintf("closest existing schema was %s at %.0f%% confidence",
			html.EscapeString(req.RejectedMatch), req.RejectedConfidence*100)
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body>
  <p>The file <b>%s</b> does not fit any existing schema (%s).</p>
  <p>Proposed new schema: <b>%s</b></p>
  <table border="1" cellpadding="4">
    <tr><th>Column</th><th>Sample value</th></tr>
    %s
  </table>
  <p>Move the file back into the inbox after approving, or delete it to reject.</p>
</body>
</html>
`, html.EscapeString(sourceFile), rejected, html.EscapeString(req.SuggestedName), rows.String())
}
