package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"videoshop/internal/model"
	"videoshop/pkg/logger"
	"videoshop/pkg/metrics"
	vnet "videoshop/pkg/net"
	"videoshop/pkg/ratelimit"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrCooldown a supplier call was skipped because the cooldown window is still open.
	ErrCooldown     = errors.New("supplier cooldown active")
	ErrSupplierAuth = errors.New("supplier authentication failed")
	ErrSupplierAPI  = errors.New("supplier api error")
)

// CooldownError carries the remaining wait of a skipped call. errors.Is(err, ErrCooldown) holds.
type CooldownError struct {
	Supplier   string
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %v, retry in %s", e.Supplier, ErrCooldown, ratelimit.FormatRetry(e.RetryAfter))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// ==================== SupplierState ====================

// SupplierState mutable per-integration state: bearer token, expiry and the
// search cooldown. One instance per supplier, shared by every component that
// talks to it.
type SupplierState struct {
	Name     string
	Interval time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time

	// authMu serializes token refreshes so concurrent callers authenticate once.
	authMu   sync.Mutex
	cooldown *ratelimit.Cooldown
	now      func() time.Time
}

// SupplierStatus read-only view for health reports
type SupplierStatus struct {
	Name       string        `json:"name"`
	Ready      bool          `json:"ready"`
	RetryAfter time.Duration `json:"retry_after"`
	TokenValid bool          `json:"token_valid"`
}

func NewSupplierState(name string, interval time.Duration) *SupplierState {
	return &SupplierState{
		Name:     name,
		Interval: interval,
		cooldown: ratelimit.NewCooldown(),
		now:      time.Now,
	}
}

// WithClock swaps the time source for token expiry and cooldown.
func (s *SupplierState) WithClock(now func() time.Time) *SupplierState {
	s.now = now
	s.cooldown.WithClock(now)
	return s
}

// Token returns the cached token while now < expiry.
func (s *SupplierState) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expiry) {
		return "", false
	}
	return s.token, true
}

func (s *SupplierState) SetToken(token string, expiry time.Time) {
	s.mu.Lock()
	s.token, s.expiry = token, expiry
	s.mu.Unlock()
}

func (s *SupplierState) ClearToken() {
	s.SetToken("", time.Time{})
}

// Acquire claims the cooldown window for one external search. The window is
// stamped before the call is made, so a failing call still spends it.
func (s *SupplierState) Acquire() error {
	r := s.cooldown.Check(s.Name, s.Interval)
	if !r.Allowed {
		return &CooldownError{Supplier: s.Name, RetryAfter: r.RetryAfter}
	}
	return nil
}

func (s *SupplierState) Status() SupplierStatus {
	r := s.cooldown.CheckOnly(s.Name, s.Interval)
	_, valid := s.Token()
	return SupplierStatus{Name: s.Name, Ready: r.Allowed, RetryAfter: r.RetryAfter, TokenValid: valid}
}

// ==================== CJ wire types ====================

// cjEnvelope every CJ response: result=false is an error regardless of HTTP status.
type cjEnvelope[T any] struct {
	Code    int    `json:"code"`
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e *cjEnvelope[T]) envelopeErr() error {
	if !e.Result {
		msg := e.Message
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("%w: code %d: %s", ErrSupplierAPI, e.Code, msg)
	}
	return nil
}

type envelope interface {
	envelopeErr() error
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) Float() float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	return v
}

type cjToken struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiryDate string `json:"accessTokenExpiryDate"`
}

type cjProductPage struct {
	PageNum  int         `json:"pageNum"`
	PageSize int         `json:"pageSize"`
	Total    int         `json:"total"`
	List     []cjProduct `json:"list"`
}

type cjProduct struct {
	PID           string     `json:"pid"`
	ProductNameEn string     `json:"productNameEn"`
	ProductImage  string     `json:"productImage"`
	SellPrice     flexString `json:"sellPrice"`
	CategoryName  string     `json:"categoryName"`
	Remark        string     `json:"remark"`
	Description   string     `json:"description"`
	ProductURL    string     `json:"productUrl"`
	SellCount     flexString `json:"sellCount"`
	ProductWeight flexString `json:"productWeight"`
	ProductType   string     `json:"productType"`
}

type cjVariant struct {
	VID              string     `json:"vid"`
	VariantNameEn    string     `json:"variantNameEn"`
	VariantSku       string     `json:"variantSku"`
	VariantSellPrice flexString `json:"variantSellPrice"`
	VariantImage     string     `json:"variantImage"`
	VariantKey       string     `json:"variantKey"`
	VariantWeight    flexString `json:"variantWeight"`
	VariantStandard  string     `json:"variantStandard"`
	InventoryNum     flexString `json:"inventoryNum"`
}

type cjOrderProduct struct {
	PID      string `json:"pid,omitempty"`
	VID      string `json:"vid,omitempty"`
	Quantity int    `json:"quantity"`
}

type cjShippingAddress struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
	Province string `json:"province"`
	City     string `json:"city"`
	Address  string `json:"address"`
	Address2 string `json:"address2"`
	Zip      string `json:"zip"`
}

type cjCreateOrder struct {
	OrderNumber     string            `json:"orderNumber"`
	Products        []cjOrderProduct  `json:"products"`
	ShippingAddress cjShippingAddress `json:"shippingAddress"`
	Remark          string            `json:"remark"`
}

type cjOrderResult struct {
	OrderID string `json:"orderId"`
	ID      string `json:"id"`
}

type cjOrderInfo struct {
	OrderID        string `json:"orderId"`
	OrderStatus    string `json:"orderStatus"`
	TrackingNumber string `json:"trackNumber"`
	TrackingNo     string `json:"trackingNumber"`
}

// ==================== CJClient ====================

type CJConfig struct {
	BaseURL  string
	Email    string
	Password string
	Cooldown time.Duration
	Timeout  time.Duration
	// DefaultPhone used when the customer left none; CJ rejects orders without one.
	DefaultPhone string
}

// CJClient CJ Dropshipping integration. Searches are subject to the shared
// cooldown; auth, variant lookups and order calls are not.
type CJClient struct {
	cfg   *CJConfig
	http  *resty.Client
	state *SupplierState
	log   *zap.SugaredLogger
}

// NewCJClient state may be nil, in which case a private one is created.
func NewCJClient(cfg *CJConfig, state *SupplierState) *CJClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://developers.cjdropshipping.com/api2.0/v1"
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 310 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultPhone == "" {
		cfg.DefaultPhone = "555-0123"
	}
	if state == nil {
		state = NewSupplierState(model.PlatformCJ, cfg.Cooldown)
	}

	return &CJClient{
		cfg: cfg,
		http: vnet.NewClient(vnet.ClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}).SetHeader("Content-Type", "application/json"),
		state: state,
		log:   logger.Named("[CJ]"),
	}
}

func (c *CJClient) Platform() string {
	return model.PlatformCJ
}

func (c *CJClient) State() *SupplierState {
	return c.state
}

// ensureToken returns a valid token, authenticating when the cached one expired.
func (c *CJClient) ensureToken(ctx context.Context) (string, error) {
	if tok, ok := c.state.Token(); ok {
		return tok, nil
	}

	c.state.authMu.Lock()
	defer c.state.authMu.Unlock()
	if tok, ok := c.state.Token(); ok {
		return tok, nil
	}

	var env cjEnvelope[cjToken]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}).
		ForceContentType("application/json").
		SetResult(&env).
		Post("/authentication/getAccessToken")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSupplierAuth, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: http %d", ErrSupplierAuth, resp.StatusCode())
	}
	if err := env.envelopeErr(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSupplierAuth, err)
	}
	if env.Data.AccessToken == "" {
		return "", fmt.Errorf("%w: empty token", ErrSupplierAuth)
	}

	expiry := parseCJTime(env.Data.AccessTokenExpiryDate, c.state.now().Add(time.Hour))
	c.state.SetToken(env.Data.AccessToken, expiry)
	c.log.Infow("access token obtained", "expires", expiry)
	return env.Data.AccessToken, nil
}

func parseCJTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// call performs an authenticated request and validates the envelope.
func (c *CJClient) call(ctx context.Context, method, path string, query map[string]string, body interface{}, out envelope) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("CJ-Access-Token", token).
		ForceContentType("application/json").
		SetResult(out)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("cj %s: %w", path, err)
	}
	if resp.StatusCode() == 401 {
		c.state.ClearToken()
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s http %d", ErrSupplierAPI, path, resp.StatusCode())
	}
	return out.envelopeErr()
}

// SearchProducts walks ranked result pages and hands each listing to visit
// until visit returns true or pages run out. One cooldown window covers the
// whole walk.
func (c *CJClient) SearchProducts(ctx context.Context, terms string, maxPages int, visit func(SupplierListing) bool) error {
	if err := c.state.Acquire(); err != nil {
		metrics.SupplierSkip(c.state.Name)
		return err
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	for page := 1; page <= maxPages; page++ {
		var env cjEnvelope[cjProductPage]
		err := c.call(ctx, resty.MethodGet, "/product/list", map[string]string{
			"productNameEn": terms,
			"pageNum":       strconv.Itoa(page),
			"pageSize":      "20",
		}, nil, &env)
		if err != nil {
			return err
		}
		for _, p := range env.Data.List {
			if visit(p.toListing()) {
				return nil
			}
		}
		if len(env.Data.List) == 0 || page*20 >= env.Data.Total {
			return nil
		}
	}
	return nil
}

func (p cjProduct) toListing() SupplierListing {
	desc := p.Remark
	if desc == "" {
		desc = p.Description
	}
	sellCount, _ := strconv.Atoi(string(p.SellCount))
	return SupplierListing{
		Platform:    model.PlatformCJ,
		ID:          p.PID,
		Name:        p.ProductNameEn,
		Image:       p.ProductImage,
		PriceText:   string(p.SellPrice),
		Category:    p.CategoryName,
		Description: desc,
		URL:         p.ProductURL,
		SellCount:   sellCount,
		Weight:      p.ProductWeight.Float(),
		ProductType: p.ProductType,
	}
}

// ProductVariants variant and detail lookup for one product.
func (c *CJClient) ProductVariants(ctx context.Context, productID string) ([]SupplierVariant, error) {
	var env cjEnvelope[[]cjVariant]
	err := c.call(ctx, resty.MethodGet, "/product/variant/query", map[string]string{"pid": productID}, nil, &env)
	if err != nil {
		return nil, err
	}

	variants := make([]SupplierVariant, 0, len(env.Data))
	for _, v := range env.Data {
		stock, err := strconv.Atoi(string(v.InventoryNum))
		if err != nil {
			stock = 999
		}
		variants = append(variants, SupplierVariant{
			ID:         v.VID,
			Name:       v.VariantNameEn,
			SKU:        v.VariantSku,
			Price:      v.VariantSellPrice.Float(),
			Image:      v.VariantImage,
			Key:        v.VariantKey,
			Weight:     v.VariantWeight.Float(),
			Dimensions: v.VariantStandard,
			Stock:      stock,
		})
	}
	return variants, nil
}

// CreateOrder places one supplier order for one order item.
func (c *CJClient) CreateOrder(ctx context.Context, req SupplierOrderRequest) (*SupplierOrderResult, error) {
	phone := req.Address.Phone
	if phone == "" {
		phone = c.cfg.DefaultPhone
	}
	payload := cjCreateOrder{
		OrderNumber: req.Reference,
		Products: []cjOrderProduct{{
			PID:      req.ProductID,
			VID:      req.VariantID,
			Quantity: req.Quantity,
		}},
		ShippingAddress: cjShippingAddress{
			Name:     req.Address.Name,
			Phone:    phone,
			Country:  req.Address.Country,
			Province: req.Address.State,
			City:     req.Address.City,
			Address:  req.Address.Line1,
			Address2: req.Address.Line2,
			Zip:      req.Address.PostalCode,
		},
		Remark: req.Remark,
	}

	var env cjEnvelope[cjOrderResult]
	if err := c.call(ctx, resty.MethodPost, "/shopping/order", nil, payload, &env); err != nil {
		return nil, fmt.Errorf("cj fulfillment failed: %w", err)
	}
	id := env.Data.OrderID
	if id == "" {
		id = env.Data.ID
	}
	if id == "" {
		return nil, fmt.Errorf("cj fulfillment failed: %w: no order id", ErrSupplierAPI)
	}

	raw, _ := json.Marshal(env)
	return &SupplierOrderResult{
		SupplierOrderID: id,
		Raw:             string(raw),
	}, nil
}

// OrderStatus supplier-side status and tracking of a placed order.
func (c *CJClient) OrderStatus(ctx context.Context, supplierOrderID string) (*SupplierOrderStatus, error) {
	var env cjEnvelope[cjOrderInfo]
	if err := c.call(ctx, resty.MethodGet, "/shopping/order/"+supplierOrderID, nil, nil, &env); err != nil {
		return nil, err
	}
	tracking := env.Data.TrackingNumber
	if tracking == "" {
		tracking = env.Data.TrackingNo
	}
	st := &SupplierOrderStatus{
		SupplierOrderID: supplierOrderID,
		Status:          env.Data.OrderStatus,
		TrackingNumber:  tracking,
	}
	if tracking != "" {
		st.TrackingURL = "https://www.17track.net/en/track#nums=" + tracking
	}
	return st, nil
}

// HealthCheck authenticates without spending the search cooldown.
func (c *CJClient) HealthCheck(ctx context.Context) error {
	_, err := c.ensureToken(ctx)
	return err
}
