package apiv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specPath = "../../../public/docs/v1/openapi.yml"

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromFile(specPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDocumentsRoutes(t *testing.T) {
	doc := loadSpec(t)
	routes := map[string]string{
		"/v1/ping":                                               "GET",
		"/v1/health":                                             "GET",
		"/webhooks/daimo-pay":                                    "POST",
		"/webhooks/crowdsplit":                                   "POST",
		"/v1/admin/campaigns/{campaignId}/reconciliation":        "GET",
		"/v1/admin/campaigns/{campaignId}/on-chain-transactions": "GET",
		"/v1/admin/payments/{id}/retry-pledge":                   "POST",
		"/cron/reprocess-webhooks":                               "GET",
		"/cron/retry-failed-pledges":                             "GET",
	}
	for path, method := range routes {
		item := doc.Paths.Value(path)
		require.NotNil(t, item, path)
		assert.NotNil(t, item.GetOperation(method), "%s %s", method, path)
	}
}

func TestOpenAPIResponseSchemas(t *testing.T) {
	doc := loadSpec(t)
	app := newApp(NewAPIServer(nil, nil, ""))

	tests := []struct {
		path   string
		schema string
	}{
		{"/api/v1/ping", "Pong"},
		{"/api/v1/health", "Health"},
	}
	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			var body interface{}
			require.NoError(t, json.Unmarshal(raw, &body))
			ref := doc.Components.Schemas[tt.schema]
			require.NotNil(t, ref)
			assert.NoError(t, ref.Value.VisitJSON(body))
		})
	}
}
