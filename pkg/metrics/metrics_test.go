package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAppearInExposition(t *testing.T) {
	m := New()
	m.ObserveRow("Contact", "inserted")
	m.ObserveRow("Contact", "inserted")
	m.ObserveRow("Contact", "skipped")
	m.FilesProcessed.WithLabelValues("processed").Inc()
	m.SchemasCreated.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `schemaflow_rows_processed_total{outcome="inserted",schema="Contact"} 2`)
	assert.Contains(t, body, `schemaflow_rows_processed_total{outcome="skipped",schema="Contact"} 1`)
	assert.Contains(t, body, `schemaflow_files_processed_total{result="processed"} 1`)
	assert.Contains(t, body, "schemaflow_schemas_created_total 1")
}
