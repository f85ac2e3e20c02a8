package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// ==================== Gateway types ====================

type LineItem struct {
	Name        string
	Description string
	Image       string
	UnitCents   int64
	Quantity    int
}

type SessionRequest struct {
	CustomerEmail string
	LineItems     []LineItem
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
	Customer      string `json:"customer"`

	ShippingDetails *struct {
		Name    string `json:"name"`
		Address struct {
			Line1      string `json:"line1"`
			Line2      string `json:"line2"`
			City       string `json:"city"`
			State      string `json:"state"`
			PostalCode string `json:"postal_code"`
			Country    string `json:"country"`
		} `json:"address"`
	} `json:"shipping_details"`
}

// WebhookEvent verified provider event; Object is decoded per type.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PaymentGateway hosted checkout provider.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error)
	VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error)
}

// ==================== Stripe ====================

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	BaseURL          string
	SuccessURL       string
	CancelURL        string
	Timeout          time.Duration
	Tolerance        time.Duration
	AllowedCountries []string
}

type StripeGateway struct {
	cfg  *StripeConfig
	http *resty.Client
	now  func() time.Time
	log  *zap.SugaredLogger
}

func NewStripeGateway(cfg *StripeConfig) *StripeGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if len(cfg.AllowedCountries) == 0 {
		cfg.AllowedCountries = []string{"US", "CA", "GB", "AU"}
	}
	return &StripeGateway{
		cfg: cfg,
		http: vnet.NewClient(vnet.ClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}).SetBasicAuth(cfg.SecretKey, ""),
		now: time.Now,
		log: logger.Named("[Stripe]"),
	}
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", g.cfg.SuccessURL)
	form.Set("cancel_url", g.cfg.CancelURL)
	form.Set("customer_email", req.CustomerEmail)
	for i, c := range g.cfg.AllowedCountries {
		form.Set(fmt.Sprintf("shipping_address_collection[allowed_countries][%d]", i), c)
	}
	for i, li := range req.LineItems {
		p := fmt.Sprintf("line_items[%d]", i)
		form.Set(p+"[quantity]", strconv.Itoa(li.Quantity))
		form.Set(p+"[price_data][currency]", "usd")
		form.Set(p+"[price_data][unit_amount]", strconv.FormatInt(li.UnitCents, 10))
		form.Set(p+"[price_data][product_data][name]", li.Name)
		if li.Description != "" {
			form.Set(p+"[price_data][product_data][description]", li.Description)
		}
		if li.Image != "" {
			form.Set(p+"[price_data][product_data][images][0]", li.Image)
		}
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var session CheckoutSession
	var apiErr stripeError
	resp, err := g.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		ForceContentType("application/json").
		SetResult(&session).
		SetError(&apiErr).
		Post("/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stripe create session: http %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	g.log.Infow("checkout session created", "session", session.ID, "items", len(req.LineItems))
	return &session, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	var apiErr stripeError
	resp, err := g.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		ForceContentType("application/json").
		SetResult(&session).
		SetError(&apiErr).
		Get("/checkout/sessions/{id}")
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stripe retrieve session: http %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	return &session, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	if err := VerifySignature(payload, sigHeader, g.cfg.WebhookSecret, g.cfg.Tolerance, g.now()); err != nil {
		return nil, err
	}
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &ev, nil
}

// ==================== Signatures ====================

// SignPayload builds a "t=<unix>,v1=<hex>" signature header.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), computeSignature(payload, secret, ts.Unix()))
}

func computeSignature(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an HMAC-SHA256 signature header against the payload.
// Any v1 entry may match; the timestamp must be within tolerance of now.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := []byte(computeSignature(payload, secret, ts))
	for _, s := range sigs {
		if hmac.Equal(expected, []byte(s)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}
