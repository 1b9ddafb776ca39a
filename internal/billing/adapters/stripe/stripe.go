// Package stripe implements the billing adapter for a Stripe-style provider.
package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
)

const signatureHeader = "Stripe-Signature"

// Config carries the credentials and limits for the adapter.
type Config struct {
	APIBase       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// Adapter talks to the provider's REST API and verifies its webhooks.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New builds the adapter. The HTTP client timeout bounds every mutation so a
// slow provider fails the call instead of stalling the decision path.
func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) ApplyPause(ctx context.Context, providerRef string, months int) error {
	form := url.Values{}
	form.Set("pause_collection[behavior]", "void")
	form.Set("pause_collection[resumes_at]", strconv.FormatInt(time.Now().UTC().AddDate(0, months, 0).Unix(), 10))
	return a.post(ctx, "/v1/subscriptions/"+url.PathEscape(providerRef), form)
}

func (a *Adapter) ApplyDowngrade(ctx context.Context, providerRef string, targetPlan string) error {
	form := url.Values{}
	form.Set("items[0][price]", targetPlan)
	form.Set("proration_behavior", "create_prorations")
	return a.post(ctx, "/v1/subscriptions/"+url.PathEscape(providerRef), form)
}

func (a *Adapter) ApplyDiscount(ctx context.Context, providerRef string, percent int, durationMonths int) error {
	form := url.Values{}
	form.Set("coupon[percent_off]", strconv.Itoa(percent))
	form.Set("coupon[duration_in_months]", strconv.Itoa(durationMonths))
	return a.post(ctx, "/v1/subscriptions/"+url.PathEscape(providerRef), form)
}

func (a *Adapter) post(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.APIBase, "/")+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBillingMutationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider returned %d", domain.ErrBillingMutationFailed, resp.StatusCode)
	}
	return nil
}

// Verify checks the webhook signature header: "t=<unix>,v1=<hmac-sha256>"
// over "<t>.<payload>" with the shared webhook secret.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.cfg.WebhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	header := strings.TrimSpace(headers.Get(signatureHeader))
	if header == "" {
		return domain.ErrInvalidSignature
	}

	var timestamp, signature string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signature = value
		}
	}
	if timestamp == "" || signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// webhookEnvelope is the subset of the provider payload the engine consumes.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID               string  `json:"id"`
			Subscription     string  `json:"subscription"`
			Status           string  `json:"status"`
			Plan             string  `json:"plan"`
			AmountCents      int64   `json:"amount_cents"`
			CurrentPeriodEnd int64   `json:"current_period_end"`
		} `json:"object"`
	} `json:"data"`
}

// Parse normalizes the provider payload. Unknown event types are ignored, not
// errors: the provider sends far more than the engine consumes.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.ProviderEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := &domain.ProviderEvent{
		Provider:        a.Name(),
		ProviderEventID: envelope.ID,
		SubscriptionRef: envelope.Data.Object.ID,
		Status:          envelope.Data.Object.Status,
		PlanTier:        envelope.Data.Object.Plan,
		ValueCents:      envelope.Data.Object.AmountCents,
		OccurredAt:      time.Unix(envelope.Created, 0).UTC(),
	}
	if event.SubscriptionRef == "" {
		event.SubscriptionRef = envelope.Data.Object.Subscription
	}
	if end := envelope.Data.Object.CurrentPeriodEnd; end > 0 {
		at := time.Unix(end, 0).UTC()
		event.PeriodEnd = &at
	}

	switch envelope.Type {
	case "customer.subscription.updated":
		event.Type = domain.EventTypeSubscriptionUpdated
	case "customer.subscription.deleted":
		event.Type = domain.EventTypeSubscriptionCancelled
	case "invoice.paid":
		event.Type = domain.EventTypeInvoicePaid
	case "customer.subscription.trial_will_end":
		event.Type = domain.EventTypeTrialEnding
	default:
		return nil, domain.ErrEventIgnored
	}

	if event.SubscriptionRef == "" || envelope.Created == 0 {
		return nil, domain.ErrInvalidEvent
	}
	return event, nil
}
