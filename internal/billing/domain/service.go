package domain

import (
	"context"
	"net/http"
)

// Service ingests provider webhooks. The receiving endpoint must acknowledge
// fast; ingestion only verifies, records and returns, leaving processing to
// the worker.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
