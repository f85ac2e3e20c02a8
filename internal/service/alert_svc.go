package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ==================== Notifier ====================

// Notification kinds
const (
	NotifyProductAlert      = "product-alert"
	NotifyFulfillmentUpdate = "fulfillment-update"
	NotifyTracking          = "tracking-info"
)

// Notification one outbound message to a customer or subscriber.
type Notification struct {
	Kind      string                 `json:"kind"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers notifications. Delivery is best-effort everywhere it is used.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Named("[Notify]")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.log.Infow("notification", "kind", msg.Kind, "to", msg.Recipient, "subject", msg.Subject)
	return nil
}

// WebhookNotifier posts notifications as JSON to an external endpoint
// (mail relay, chat hook).
type WebhookNotifier struct {
	url  string
	http *resty.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:  url,
		http: vnet.NewClient(vnet.ClientConfig{Timeout: timeout}),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Notification) error {
	resp, err := n.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify webhook: http %d", resp.StatusCode())
	}
	return nil
}

// MultiNotifier fans a notification out to every notifier and joins the errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, msg Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewNotifier log notifier, plus the webhook one when a URL is configured.
func NewNotifier(webhookURL string) Notifier {
	if webhookURL == "" {
		return NewLogNotifier()
	}
	return MultiNotifier{NewLogNotifier(), NewWebhookNotifier(webhookURL, 0)}
}

// ==================== AlertService ====================

// AlertService notifies subscribers about newly saved products.
type AlertService struct {
	subs     repository.SubscriptionRepository
	notifier Notifier
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewAlertService(subs repository.SubscriptionRepository, notifier Notifier) *AlertService {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &AlertService{
		subs:     subs,
		notifier: notifier,
		now:      time.Now,
		log:      logger.Named("[Alerts]"),
	}
}

// FanOut sends one notification per matching subscription per product and
// returns how many were delivered. Failed deliveries are logged and skipped.
func (s *AlertService) FanOut(ctx context.Context, products []model.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}

	sent := 0
	for i := range products {
		p := &products[i]
		for j := range subs {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			sub := &subs[j]
			now := s.now()
			if !SubscriptionMatches(sub, p) || !sub.DueForAlert(now) {
				continue
			}

			if err := s.notifier.Notify(ctx, productAlert(sub, p)); err != nil {
				s.log.Warnw("alert delivery failed", "subscription", sub.ID, "product", p.ID, "error", err)
				continue
			}
			if err := s.subs.MarkAlerted(ctx, sub.ID, now); err != nil {
				s.log.Warnw("mark alerted failed", "subscription", sub.ID, "error", err)
			}
			sub.LastAlertSent = &now
			sub.AlertCount++
			sent++
		}
	}

	s.log.Infow("alerts sent", "products", len(products), "subscriptions", len(subs), "sent", sent)
	return sent, nil
}

// SubscriptionMatches reports whether a product is relevant to a subscription.
// Min/max price settings narrow every subscription type.
func SubscriptionMatches(sub *model.Subscription, p *model.Product) bool {
	settings := sub.Settings.Data()
	if settings.MinPrice > 0 && p.Price < settings.MinPrice {
		return false
	}
	if settings.MaxPrice > 0 && p.Price > settings.MaxPrice {
		return false
	}

	switch sub.Type {
	case model.SubscriptionNewProducts, model.SubscriptionPriceDrop:
		return true
	case model.SubscriptionCategory:
		return strings.EqualFold(sub.Target, p.Category)
	case model.SubscriptionSubreddit:
		d := p.Discovery()
		if d == nil {
			return false
		}
		target := strings.TrimPrefix(strings.TrimPrefix(sub.Target, "/"), "r/")
		return strings.EqualFold(target, d.Channel)
	}
	return false
}

func productAlert(sub *model.Subscription, p *model.Product) Notification {
	label := sub.DisplayName
	if label == "" {
		label = sub.Target
	}
	if label == "" {
		label = "new products"
	}
	return Notification{
		Kind:      NotifyProductAlert,
		Recipient: sub.Email,
		Subject:   fmt.Sprintf("New in %s: %s", label, p.Name),
		Data: map[string]interface{}{
			"subscription_id": sub.ID,
			"product_id":      p.ID,
			"name":            p.Name,
			"price":           p.Price,
			"category":        p.Category,
			"image":           p.PrimaryImage(),
		},
	}
}
