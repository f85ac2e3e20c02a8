package controller

import (
	"context"
	"net/http"

	"videoshop/internal/api/dto"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
)

// Catalog storefront product reads.
type Catalog interface {
	List(ctx context.Context, q service.ProductQuery) ([]dto.ProductResp, int64, error)
	Get(ctx context.Context, id int64) (*dto.ProductResp, error)
	Featured(ctx context.Context, limit int) ([]dto.ProductResp, error)
	Rate(ctx context.Context, id int64, value int, review string) (*dto.RatingResp, error)
}

type ProductController struct {
	products Catalog
}

func NewProductController(products Catalog) *ProductController {
	return &ProductController{products: products}
}

// ==================== Queries ====================

// GetProducts
// @Summary Storefront product list
// @Tags Product
// @Param category query string false "category filter"
// @Param keyword query string false "name search"
// @Param status query string false "status filter, all for every status" default(active)
// @Param page query int false "page" default(1)
// @Param page_size query int false "page size" default(20)
// @Success 200 {object} dto.PageResp
// @Router /api/products [get]
func (ctrl *ProductController) GetProducts(c *gin.Context) {
	var q dto.ProductListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	list, total, err := ctrl.products.List(c.Request.Context(), service.ProductQuery{
		Category:    q.Category,
		Keyword:     q.Keyword,
		Status:      q.Status,
		NeedsReview: q.NeedsReview,
		Page:        q.Page,
		PageSize:    q.PageSize,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	ok(c, dto.PageResp{List: list, Total: total, Page: q.Page, PageSize: q.PageSize})
}

// GetProduct
// @Summary Product detail
// @Tags Product
// @Param id path int true "product id"
// @Success 200 {object} dto.ProductResp
// @Failure 404 "not found"
// @Router /api/products/{id} [get]
func (ctrl *ProductController) GetProduct(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	product, err := ctrl.products.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, product)
}

// GetFeatured
// @Summary Featured products, promoted first then best rated
// @Tags Product
// @Param limit query int false "max products" default(4)
// @Success 200 {array} dto.ProductResp
// @Router /api/products/featured [get]
func (ctrl *ProductController) GetFeatured(c *gin.Context) {
	var q dto.FeaturedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	list, err := ctrl.products.Featured(c.Request.Context(), q.Limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, list)
}

// ==================== Ratings ====================

// RateProduct
// @Summary Rate a product from 1 to 5 stars
// @Tags Product
// @Param id path int true "product id"
// @Param body body dto.RateProductReq true "rating"
// @Success 200 {object} dto.RatingResp
// @Failure 400 "rating out of range"
// @Failure 404 "not found"
// @Router /api/products/{id}/rate [post]
func (ctrl *ProductController) RateProduct(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	var req dto.RateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := ctrl.products.Rate(c.Request.Context(), id, req.Value, req.Review)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, res)
}
