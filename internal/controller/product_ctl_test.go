package controller

import (
	"context"
	"net/http"
	"testing"
	"time"

	"videoshop/internal/api/dto"
	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func setupProductCtlRouter(t *testing.T) (*gin.Engine, []model.Product) {
	repo := repository.NewProductRepository(setupCtlTestDB(t))
	products := []model.Product{
		{
			Name: "Anker Charger", Price: 25.6, Category: "tech", Status: model.ProductStatusActive,
			Source:  model.ProductSourceDiscovery,
			Pricing: datatypes.NewJSONType(model.NewPricing(20, 28, time.Time{})),
			Images:  datatypes.JSONSlice[string]{"https://img/1.jpg"},
		},
		{Name: "Steel Bottle", Price: 12, Category: "home", Status: model.ProductStatusActive, IsPromoted: true},
		{Name: "Old Bottle", Price: 8, Category: "home", Status: model.ProductStatusDiscontinued},
	}
	for i := range products {
		require.NoError(t, repo.Create(context.Background(), &products[i]))
	}

	ctl := NewProductController(service.NewProductService(repo))
	r := gin.New()
	r.GET("/api/products", ctl.GetProducts)
	r.GET("/api/products/featured", ctl.GetFeatured)
	r.GET("/api/products/:id", ctl.GetProduct)
	r.POST("/api/products/:id/rate", ctl.RateProduct)
	return r, products
}

func TestProductController_GetProducts(t *testing.T) {
	r, _ := setupProductCtlRouter(t)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int64
	}{
		{"active only", "", http.StatusOK, 2},
		{"category", "?category=home", http.StatusOK, 1},
		{"every status", "?status=all&keyword=bottle", http.StatusOK, 2},
		{"page size capped", "?page_size=500", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(r, http.MethodGet, "/api/products"+tt.query, nil)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var page struct {
				List  []dto.ProductResp `json:"list"`
				Total int64             `json:"total"`
				Page  int               `json:"page"`
			}
			env := decode(t, w, &page)
			assert.Equal(t, 0, env.Code)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Len(t, page.List, int(tt.wantTotal))
			assert.Equal(t, 1, page.Page)
		})
	}
}

func TestProductController_GetProduct(t *testing.T) {
	r, products := setupProductCtlRouter(t)

	w := perform(r, http.MethodGet, "/api/products/"+itoa64(products[0].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got dto.ProductResp
	decode(t, w, &got)
	assert.Equal(t, "Anker Charger", got.Name)
	assert.Equal(t, "https://img/1.jpg", got.ImageURL)
	assert.Equal(t, 5.6, got.Profit)
	assert.True(t, got.RealProduct)

	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/api/products/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/api/products/abc", nil).Code)
}

func TestProductController_RateProduct(t *testing.T) {
	r, products := setupProductCtlRouter(t)
	path := "/api/products/" + itoa64(products[0].ID) + "/rate"

	tests := []struct {
		name      string
		path      string
		body      interface{}
		wantCode  int
		wantCount int
		wantAvg   float64
	}{
		{"five stars", path, gin.H{"value": 5}, http.StatusOK, 1, 5},
		{"four stars with review", path, gin.H{"value": 4, "review": "Charges two laptops at once"}, http.StatusOK, 2, 4.5},
		{"zero", path, gin.H{"value": 0}, http.StatusBadRequest, 0, 0},
		{"six", path, gin.H{"value": 6}, http.StatusBadRequest, 0, 0},
		{"malformed body", path, "{", http.StatusBadRequest, 0, 0},
		{"unknown product", "/api/products/999/rate", gin.H{"value": 3}, http.StatusNotFound, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			var got dto.RatingResp
			env := decode(t, w, &got)
			if tt.wantCode != http.StatusOK {
				assert.False(t, env.Success)
				return
			}
			assert.Equal(t, tt.wantCount, got.RatingCount)
			assert.Equal(t, tt.wantAvg, got.AverageRating)
		})
	}

	w := perform(r, http.MethodGet, "/api/products/"+itoa64(products[0].ID), nil)
	var detail struct {
		AverageRating float64        `json:"averageRating"`
		RatingCount   int            `json:"ratingCount"`
		Reviews       []model.Review `json:"reviews"`
	}
	decode(t, w, &detail)
	assert.Equal(t, 4.5, detail.AverageRating)
	assert.Equal(t, 2, detail.RatingCount)
	require.Len(t, detail.Reviews, 1)
	assert.Equal(t, service.ReviewSourceStorefront, detail.Reviews[0].Source)
}

func TestProductController_GetFeatured(t *testing.T) {
	r, products := setupProductCtlRouter(t)
	require.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/api/products/"+itoa64(products[0].ID)+"/rate", gin.H{"value": 5}).Code)

	w := perform(r, http.MethodGet, "/api/products/featured", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list []dto.ProductResp
	decode(t, w, &list)
	require.Len(t, list, 2, "discontinued products are never featured")
	assert.Equal(t, "Steel Bottle", list[0].Name, "promoted first")
	assert.True(t, list[0].IsPromoted)
	assert.Equal(t, "Anker Charger", list[1].Name)

	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/api/products/featured?limit=50", nil).Code)
}
