package controller

import (
	"context"
	"net/http"

	"videoshop/internal/api/dto"
	"videoshop/internal/model"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
)

// Subscriptions alert preference management.
type Subscriptions interface {
	Create(ctx context.Context, in service.CreateSubscriptionInput) (*model.Subscription, error)
	ListByEmail(ctx context.Context, email string) ([]model.Subscription, error)
	Toggle(ctx context.Context, id int64) (*model.Subscription, error)
	UpdateSettings(ctx context.Context, id int64, frequency string, settings *model.SubscriptionSettings) (*model.Subscription, error)
	Deactivate(ctx context.Context, id int64) error
}

type SubscriptionController struct {
	subs Subscriptions
}

func NewSubscriptionController(subs Subscriptions) *SubscriptionController {
	return &SubscriptionController{subs: subs}
}

func toSettings(in dto.SubscriptionSettingsReq) model.SubscriptionSettings {
	return model.SubscriptionSettings{
		MinPrice:            in.MinPrice,
		MaxPrice:            in.MaxPrice,
		PriceDropPercentage: in.PriceDropPercentage,
	}
}

// Create
// @Summary Subscribe to category, channel, price-drop or new product alerts
// @Tags Subscription
// @Param body body dto.CreateSubscriptionReq true "subscription"
// @Success 201 {object} model.Subscription
// @Router /api/subscriptions [post]
func (ctrl *SubscriptionController) Create(c *gin.Context) {
	var req dto.CreateSubscriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := ctrl.subs.Create(c.Request.Context(), service.CreateSubscriptionInput{
		UserID:      req.UserID,
		Email:       req.Email,
		Type:        req.Type,
		Target:      req.Target,
		DisplayName: req.DisplayName,
		Frequency:   req.Frequency,
		Settings:    toSettings(req.Settings),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "success", "data": sub})
}

// List
// @Summary Subscriptions of an email address
// @Tags Subscription
// @Param email query string true "subscriber email"
// @Router /api/subscriptions [get]
func (ctrl *SubscriptionController) List(c *gin.Context) {
	subs, err := ctrl.subs.ListByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(subs), "subscriptions": subs})
}

// Update toggles the active flag, or replaces frequency and settings.
// @Summary Toggle or update a subscription
// @Tags Subscription
// @Param id path int true "subscription id"
// @Param body body dto.UpdateSubscriptionReq true "changes"
// @Router /api/subscriptions/{id} [patch]
func (ctrl *SubscriptionController) Update(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	var req dto.UpdateSubscriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	var (
		sub *model.Subscription
		err error
	)
	switch {
	case req.Toggle:
		sub, err = ctrl.subs.Toggle(ctx, id)
	case req.Settings != nil || req.Frequency != "":
		var settings *model.SubscriptionSettings
		if req.Settings != nil {
			st := toSettings(*req.Settings)
			settings = &st
		}
		sub, err = ctrl.subs.UpdateSettings(ctx, id, req.Frequency, settings)
	default:
		fail(c, http.StatusBadRequest, "nothing to update")
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, sub)
}

// Delete deactivates; the row is kept for history.
// @Summary Unsubscribe
// @Tags Subscription
// @Param id path int true "subscription id"
// @Router /api/subscriptions/{id} [delete]
func (ctrl *SubscriptionController) Delete(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	if err := ctrl.subs.Deactivate(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "unsubscribed"})
}
