package controller

import (
	"context"
	"net/http"

	"videoshop/internal/api/dto"
	"videoshop/internal/model"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
)

// Videos video cache and quota operations.
type Videos interface {
	ResolveVideos(ctx context.Context, q service.VideoQuery, maxResults int) ([]model.VideoCacheEntry, error)
	QuotaStatus(ctx context.Context) (service.QuotaStatus, error)
	ResetQuota(ctx context.Context) error
	Featured(ctx context.Context, limit int) ([]model.VideoCacheEntry, error)
}

type VideoController struct {
	videos Videos
}

func NewVideoController(videos Videos) *VideoController {
	return &VideoController{videos: videos}
}

// GetVideos
// @Summary Cached review videos for a product, fetched on a cache miss
// @Tags Video
// @Param productId query int false "product id"
// @Param productName query string false "product name"
// @Param max query int false "max videos" default(3)
// @Router /api/videos [get]
func (ctrl *VideoController) GetVideos(c *gin.Context) {
	var q dto.VideoQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if q.ProductID == 0 && q.ProductName == "" {
		fail(c, http.StatusBadRequest, "productId or productName is required")
		return
	}

	videos, err := ctrl.videos.ResolveVideos(c.Request.Context(), service.VideoQuery{
		ProductID:   q.ProductID,
		ProductName: q.ProductName,
		Category:    q.Category,
	}, q.Max)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(videos), "videos": videos})
}

// GetFeatured
// @Summary Most viewed cached videos
// @Tags Video
// @Param limit query int false "max videos" default(15)
// @Router /api/videos/featured [get]
func (ctrl *VideoController) GetFeatured(c *gin.Context) {
	var q dto.FeaturedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	videos, err := ctrl.videos.Featured(c.Request.Context(), q.Limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"count": len(videos), "videos": videos})
}

// GetQuota
// @Summary Video API quota spent today
// @Tags Video
// @Success 200 {object} service.QuotaStatus
// @Router /api/videos/quota [get]
func (ctrl *VideoController) GetQuota(c *gin.Context) {
	status, err := ctrl.videos.QuotaStatus(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, status)
}

// ResetQuota
// @Summary Zero today's quota counter
// @Tags Video
// @Router /api/videos/quota/reset [post]
func (ctrl *VideoController) ResetQuota(c *gin.Context) {
	ctx := c.Request.Context()
	if err := ctrl.videos.ResetQuota(ctx); err != nil {
		failErr(c, err)
		return
	}
	status, err := ctrl.videos.QuotaStatus(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "quota reset", "data": status})
}
