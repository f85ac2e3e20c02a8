package dto

// ==================== Subscriptions ====================

// SubscriptionSettingsReq optional alert filters
type SubscriptionSettingsReq struct {
	MinPrice            float64 `json:"minPrice"`
	MaxPrice            float64 `json:"maxPrice"`
	PriceDropPercentage float64 `json:"priceDropPercentage"`
}

// CreateSubscriptionReq type is one of category, subreddit, price-drop, new-products.
type CreateSubscriptionReq struct {
	UserID      string                  `json:"userId"`
	Email       string                  `json:"email" binding:"required"`
	Type        string                  `json:"type" binding:"required"`
	Target      string                  `json:"target"`
	DisplayName string                  `json:"displayName"`
	Frequency   string                  `json:"frequency"`
	Settings    SubscriptionSettingsReq `json:"settings"`
}

// UpdateSubscriptionReq PATCH body. Toggle flips the active flag and ignores the rest.
type UpdateSubscriptionReq struct {
	Toggle    bool                     `json:"toggle"`
	Frequency string                   `json:"frequency"`
	Settings  *SubscriptionSettingsReq `json:"settings"`
}
