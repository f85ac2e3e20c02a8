package model

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription types
const (
	SubscriptionCategory    = "category"
	SubscriptionSubreddit   = "subreddit"
	SubscriptionPriceDrop   = "price-drop"
	SubscriptionNewProducts = "new-products"
)

// Alert frequencies
const (
	FrequencyInstant = "instant"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
)

// SubscriptionSettings optional price filters
type SubscriptionSettings struct {
	MinPrice            float64 `json:"min_price,omitempty"`
	MaxPrice            float64 `json:"max_price,omitempty"`
	PriceDropPercentage float64 `json:"price_drop_percentage,omitempty"`
}

// Subscription a user's alert preference
type Subscription struct {
	BaseModel

	UserID      string `gorm:"size:64;index" json:"user_id"`
	Email       string `gorm:"size:255;index;not null" json:"email"`
	Type        string `gorm:"size:32;index;not null" json:"type"`
	Target      string `gorm:"size:255;index" json:"target"`
	DisplayName string `gorm:"size:255" json:"display_name"`
	Frequency   string `gorm:"size:16;default:instant" json:"frequency"`
	IsActive    bool   `gorm:"default:true;index" json:"is_active"`

	LastAlertSent *time.Time `json:"last_alert_sent,omitempty"`
	AlertCount    int        `gorm:"default:0" json:"alert_count"`

	Settings datatypes.JSONType[SubscriptionSettings] `json:"settings"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// ValidSubscriptionType reports whether t is a known type.
func ValidSubscriptionType(t string) bool {
	switch t {
	case SubscriptionCategory, SubscriptionSubreddit, SubscriptionPriceDrop, SubscriptionNewProducts:
		return true
	}
	return false
}

// DueForAlert applies the frequency window to the last alert time.
func (s *Subscription) DueForAlert(now time.Time) bool {
	if s.LastAlertSent == nil {
		return true
	}
	switch s.Frequency {
	case FrequencyDaily:
		return now.Sub(*s.LastAlertSent) >= 24*time.Hour
	case FrequencyWeekly:
		return now.Sub(*s.LastAlertSent) >= 7*24*time.Hour
	default:
		return true
	}
}
