package dto

// ==================== Fulfillment ====================

// RetryReq manual sweep of failed fulfillment
type RetryReq struct {
	WindowHours int `json:"windowHours" binding:"omitempty,gte=1,lte=720"`
}

// StatsQuery fulfillment stats window
type StatsQuery struct {
	Days int `form:"days,default=30" binding:"gte=1,lte=365"`
}
