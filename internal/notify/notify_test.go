package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nbrandao/schemaflow/internal/schema"
)

func TestUnconfiguredNotifierIsNoOp(t *testing.T) {
	n := New("", "", "", slog.New(slog.DiscardHandler))

	// Must not panic or attempt delivery without an API key.
	n.SchemaApprovalRequested(context.Background(), "orders.csv", &schema.SchemaCreationRequest{
		SuggestedName: "Sales Order",
		Columns:       []string{"order_no", "customer"},
	})
}

func TestApprovalBody(t *testing.T) {
	body := approvalBody("orders.csv", &schema.SchemaCreationRequest{
		SuggestedName:      "Sales Order",
		Columns:            []string{"order_no", "amount"},
		SampleRow:          map[string]string{"order_no": "SO-1", "amount": "<100>"},
		RejectedMatch:      "Invoice",
		RejectedConfidence: 0.62,
	})

	assert.Contains(t, body, "Sales Order")
	assert.Contains(t, body, "orders.csv")
	assert.Contains(t, body, "Invoice")
	assert.Contains(t, body, "62%")
	assert.Contains(t, body, "&lt;100&gt;")
	assert.NotContains(t, body, "<100>")
}

func TestApprovalBodyWithoutRejectedMatch(t *testing.T) {
	body := approvalBody("orders.csv", &schema.SchemaCreationRequest{
		SuggestedName: "Sales Order",
		Columns:       []string{"order_no"},
	})
	assert.Contains(t, body, "none of the existing schemas")
}
