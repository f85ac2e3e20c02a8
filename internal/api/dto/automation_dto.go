package dto

// ==================== Automation ====================

// RunReq pipeline trigger. Zero values fall back to the service defaults.
type RunReq struct {
	TimeFrame   string `json:"timeFrame" binding:"omitempty,oneof=hour day week month year all"`
	Limit       int    `json:"limit" binding:"omitempty,gte=1,lte=100"`
	MaxProducts int    `json:"maxProducts" binding:"omitempty,gte=1,lte=50"`
}

// ReportQuery performance window in days
type ReportQuery struct {
	Days int `form:"days,default=30" binding:"gte=1,lte=365"`
}

// ReviewQueueQuery products waiting for reviews
type ReviewQueueQuery struct {
	Limit int `form:"limit,default=20" binding:"gte=1,lte=200"`
}
