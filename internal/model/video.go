package model

import (
	"time"
)

// ==================== VideoCacheEntry ====================

// VideoCacheEntry cached metadata of one external video.
// VideoID is unique: rediscovery adds links instead of rows.
type VideoCacheEntry struct {
	BaseModel

	VideoID      string `gorm:"size:32;uniqueIndex;not null" json:"video_id"`
	Title        string `gorm:"size:500" json:"title"`
	Description  string `gorm:"type:text" json:"description"`
	ThumbnailURL string `gorm:"size:500" json:"thumbnail_url"`
	ChannelID    string `gorm:"size:64" json:"channel_id"`
	ChannelTitle string `gorm:"size:255" json:"channel_title"`

	ViewCount    int64 `gorm:"index" json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`

	Duration        string     `gorm:"size:32" json:"duration"`
	DurationSeconds int        `json:"duration_seconds"`
	PublishedAt     *time.Time `json:"published_at"`

	RelevanceScore float64 `gorm:"index" json:"relevance_score"`
	SearchQuery    string  `gorm:"size:255" json:"search_query"`
	Category       string  `gorm:"size:50" json:"category"`

	// Cache bookkeeping
	APICallMade bool      `gorm:"default:false" json:"api_call_made"`
	LastFetched time.Time `json:"last_fetched"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`

	Links []VideoProductLink `gorm:"foreignKey:VideoEntryID" json:"links,omitempty"`
}

func (VideoCacheEntry) TableName() string {
	return "video_cache_entries"
}

// WatchURL public link to the video
func (v *VideoCacheEntry) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + v.VideoID
}

// ==================== VideoProductLink ====================

// VideoProductLink associates a cached video with a product by id and/or name.
type VideoProductLink struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	VideoEntryID int64     `gorm:"not null;uniqueIndex:idx_video_product_link" json:"video_entry_id"`
	ProductID    int64     `gorm:"default:0;index;uniqueIndex:idx_video_product_link" json:"product_id"`
	ProductName  string    `gorm:"size:255;index;uniqueIndex:idx_video_product_link" json:"product_name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (VideoProductLink) TableName() string {
	return "video_product_links"
}
