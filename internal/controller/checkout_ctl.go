package controller

import (
	"context"
	"io"
	"net/http"

	"videoshop/internal/model"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// Checkout hosted checkout and order lookup.
type Checkout interface {
	CreateSession(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
	OrderBySession(ctx context.Context, sessionID string) (*service.OrderSummary, error)
	OrdersByEmail(ctx context.Context, email string) ([]model.Order, error)
}

type CheckoutController struct {
	checkout Checkout
}

func NewCheckoutController(checkout Checkout) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

// CreateSession
// @Summary Price the cart and open a hosted checkout session
// @Tags Checkout
// @Param body body service.CheckoutRequest true "cart, customer and shipping address"
// @Success 200 {object} service.CheckoutResult
// @Router /api/checkout/create-session [post]
func (ctrl *CheckoutController) CreateSession(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := ctrl.checkout.CreateSession(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, res)
}

// Webhook verifies the payment event signature against the raw body, so the
// body must not be parsed before this handler.
// @Summary Payment provider webhook
// @Tags Checkout
// @Router /api/checkout/webhook [post]
func (ctrl *CheckoutController) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		fail(c, http.StatusBadRequest, "missing signature")
		return
	}

	// payment already captured; finish bookkeeping even if the caller hangs up
	if err := ctrl.checkout.HandleWebhook(context.WithoutCancel(c.Request.Context()), payload, sig); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Success
// @Summary Order behind a completed checkout session
// @Tags Checkout
// @Param sessionId path string true "checkout session id"
// @Router /api/checkout/success/{sessionId} [get]
func (ctrl *CheckoutController) Success(c *gin.Context) {
	summary, err := ctrl.checkout.OrderBySession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, summary)
}

// OrdersByEmail
// @Summary Paid orders of a customer
// @Tags Checkout
// @Param email path string true "customer email"
// @Router /api/checkout/orders/{email} [get]
func (ctrl *CheckoutController) OrdersByEmail(c *gin.Context) {
	orders, err := ctrl.checkout.OrdersByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(orders), "orders": orders})
}
