package service

import (
	"context"
	"errors"
	"testing"

	"videoshop/internal/model"
	"videoshop/internal/repository"

	"gorm.io/datatypes"
)

func seedCatalog(t *testing.T, repo repository.ProductRepository) []*model.Product {
	t.Helper()
	products := []*model.Product{
		{
			Name: "Desk Lamp", Price: 25.6, Category: "home", Status: model.ProductStatusActive,
			Source:            model.ProductSourceDiscovery,
			SupplierProductID: "cj-lamp",
			Supplier:          datatypes.NewJSONType(model.SupplierInfo{Platform: model.PlatformCJ}),
			Pricing:           datatypes.NewJSONType(model.NewPricing(20, 28, newTestClock().Now())),
			Images:            datatypes.JSONSlice[string]{"https://img/lamp.jpg", "https://img/lamp2.jpg"},
			Variants:          datatypes.JSONSlice[model.Variant]{{ID: "v1", Name: "White", Price: 20}},
			DiscoverySource:   datatypes.NewJSONType(&model.DiscoverySource{Platform: "reddit", Channel: "HomeImprovement"}),
		},
		{Name: "Lamp Shade", Price: 9, Category: "home", Status: model.ProductStatusInactive, Source: model.ProductSourceManual},
		{Name: "Phone Stand", Price: 12, Category: "tech", Status: model.ProductStatusActive, Source: model.ProductSourceManual},
	}
	for _, p := range products {
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	return products
}

func TestProductService_List(t *testing.T) {
	repo := repository.NewProductRepository(setupTestDB(t))
	seedCatalog(t, repo)
	svc := NewProductService(repo)

	tests := []struct {
		name      string
		query     ProductQuery
		wantTotal int64
	}{
		{"active by default", ProductQuery{}, 2},
		{"all statuses", ProductQuery{Status: "all"}, 3},
		{"by category", ProductQuery{Category: "home"}, 1},
		{"keyword across statuses", ProductQuery{Keyword: "lamp", Status: "all"}, 2},
		{"keyword is case insensitive", ProductQuery{Keyword: "PHONE"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := svc.List(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if total != tt.wantTotal || int64(len(got)) != tt.wantTotal {
				t.Errorf("List() total = %d, len = %d, want %d", total, len(got), tt.wantTotal)
			}
		})
	}
}

func TestProductService_Get(t *testing.T) {
	repo := repository.NewProductRepository(setupTestDB(t))
	seeded := seedCatalog(t, repo)
	svc := NewProductService(repo)

	got, err := svc.Get(context.Background(), seeded[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ImageURL != "https://img/lamp.jpg" || len(got.Images) != 2 {
		t.Errorf("images = %q %v", got.ImageURL, got.Images)
	}
	if got.SupplierPrice != 20 || got.Profit != 5.6 || got.CompareAt != 28 {
		t.Errorf("pricing = %+v", got)
	}
	if !got.HasVariants || !got.RealProduct || got.Supplier != model.PlatformCJ || got.Channel != "HomeImprovement" {
		t.Errorf("flags = %+v", got)
	}

	manual, err := svc.Get(context.Background(), seeded[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if manual.Supplier != model.ProductSourceManual || manual.RealProduct || manual.Images == nil {
		t.Errorf("manual product = %+v", manual)
	}

	if _, err := svc.Get(context.Background(), 9999); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrProductNotFound", err)
	}
}

func TestProductService_Rate(t *testing.T) {
	repo := repository.NewProductRepository(setupTestDB(t))
	seeded := seedCatalog(t, repo)
	svc := NewProductService(repo)
	ctx := context.Background()
	lamp := seeded[0].ID

	tests := []struct {
		name      string
		id        int64
		value     int
		review    string
		wantErr   error
		wantCount int
		wantAvg   float64
	}{
		{"first rating", lamp, 5, "", nil, 1, 5},
		{"second rating with review", lamp, 2, "  Flickers after a week  ", nil, 2, 3.5},
		{"third rating", lamp, 4, "", nil, 3, 3.7},
		{"below range", lamp, 0, "", ErrValidation, 0, 0},
		{"above range", lamp, 6, "", ErrValidation, 0, 0},
		{"unknown product", 9999, 3, "", ErrProductNotFound, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Rate(ctx, tt.id, tt.value, tt.review)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Rate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Rate() error = %v", err)
			}
			if got.RatingCount != tt.wantCount || got.AverageRating != tt.wantAvg {
				t.Errorf("Rate() = %+v, want count %d avg %v", got, tt.wantCount, tt.wantAvg)
			}
		})
	}

	p, err := repo.GetByID(ctx, lamp)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Reviews) != 1 || p.Reviews[0].Text != "Flickers after a week" || p.Reviews[0].Rating != 2 {
		t.Errorf("reviews = %+v", p.Reviews)
	}
	if p.RatingTotal != 11 {
		t.Errorf("rating total = %d, want 11", p.RatingTotal)
	}
}

func TestProductService_Featured(t *testing.T) {
	repo := repository.NewProductRepository(setupTestDB(t))
	seeded := seedCatalog(t, repo)
	svc := NewProductService(repo)
	ctx := context.Background()

	if _, err := svc.Rate(ctx, seeded[2].ID, 5, ""); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Featured(ctx, 0)
	if err != nil {
		t.Fatalf("Featured() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "Phone Stand" || got[0].AverageRating != 5 {
		t.Errorf("Featured() = %+v", got)
	}

	seeded[0].IsPromoted = true
	if err := repo.Update(ctx, seeded[0]); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Featured(ctx, 1)
	if len(got) != 1 || got[0].Name != "Desk Lamp" || !got[0].IsPromoted {
		t.Errorf("promoted product not first: %+v", got)
	}
}
