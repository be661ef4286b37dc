package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zapcrm/internal/config"

	"github.com/google/uuid"
)

var ErrPriceNotConfigured = errors.New("plan price not configured")

// Client creates checkout sessions at the payment processor.
type Client struct {
	SecretKey  string
	APIURL     string
	AppURL     string
	Catalog    Catalog
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		SecretKey:  cfg.StripeSecretKey,
		APIURL:     cfg.StripeAPIURL,
		AppURL:     cfg.AppURL,
		Catalog:    NewCatalog(cfg.StripePrices),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type CheckoutRequest struct {
	PlanKey string `json:"plan_key" binding:"required"`
	OrgID   string `json:"-"`
	Email   string `json:"-"`
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession validates the plan before any network call.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	plan, err := c.Catalog.Lookup(req.PlanKey)
	if err != nil {
		return nil, err
	}
	if plan.PriceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotConfigured, plan.Key)
	}

	form := url.Values{}
	form.Set("mode", plan.Mode)
	form.Set("line_items[0][price]", plan.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", c.AppURL+"/billing?status=success&session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.AppURL+"/billing?status=canceled")
	form.Set("client_reference_id", req.OrgID)
	form.Set("metadata[organization_id]", req.OrgID)
	form.Set("metadata[plan_key]", plan.Key)
	if req.Email != "" {
		form.Set("customer_email", req.Email)
	}
	if plan.Mode == ModeSubscription {
		form.Set("subscription_data[metadata][organization_id]", req.OrgID)
		form.Set("subscription_data[metadata][plan_key]", plan.Key)
	}

	endpoint := strings.TrimRight(c.APIURL, "/") + "/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("Payment processor returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("payment processor error, status: %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	if session.URL == "" {
		return nil, errors.New("payment processor returned no checkout url")
	}
	log.Printf("Checkout session %s created for org %s plan %s", session.ID, req.OrgID, plan.Key)
	return &session, nil
}
