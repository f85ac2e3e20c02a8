package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"videoshop/internal/model"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ==================== Report types ====================

type RunSummary struct {
	Runtime                string    `json:"runtime"`
	Timestamp              time.Time `json:"timestamp"`
	TotalProductsProcessed int       `json:"total_products_processed"`
	TotalVideosAdded       int       `json:"total_videos_added"`
	Status                 string    `json:"status"`
	Error                  string    `json:"error,omitempty"`
}

type ProfitAnalysis struct {
	TotalProducts     int     `json:"total_products"`
	TotalRevenue      float64 `json:"total_revenue"`
	TotalSupplierCost float64 `json:"total_supplier_cost"`
	TotalProfit       float64 `json:"total_profit"`
	AverageProfit     float64 `json:"average_profit"`
	// ProfitMargin percent of revenue
	ProfitMargin float64 `json:"profit_margin"`
}

type TopProduct struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	SupplierPrice     float64 `json:"supplier_price"`
	Profit            float64 `json:"profit"`
	TrendingScore     float64 `json:"trending_score"`
	Channel           string  `json:"channel,omitempty"`
	SupplierProductID string  `json:"supplier_product_id"`
}

type CategoryBreakdown struct {
	Category      string  `json:"category"`
	Count         int     `json:"count"`
	TotalProfit   float64 `json:"total_profit"`
	AverageProfit float64 `json:"average_profit"`
}

type ChannelBreakdown struct {
	Channel           string  `json:"channel"`
	Count             int     `json:"count"`
	TotalEngagement   float64 `json:"total_engagement"`
	AverageEngagement float64 `json:"average_engagement"`
}

type Recommendation struct {
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
	Message  string   `json:"message"`
	Products []string `json:"products,omitempty"`
}

// StageReport per-stage outcome; Errors are non-fatal unless the stage failed.
type StageReport struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

type RunReport struct {
	Summary         RunSummary          `json:"summary"`
	ProfitAnalysis  ProfitAnalysis      `json:"profit_analysis"`
	TopProducts     []TopProduct        `json:"top_products"`
	Categories      []CategoryBreakdown `json:"category_breakdown"`
	Channels        []ChannelBreakdown  `json:"channel_breakdown"`
	Recommendations []Recommendation    `json:"recommendations"`
	Stages          []StageReport       `json:"stages"`
	Health          *SystemHealth       `json:"health,omitempty"`
	Stats           AutomationStats     `json:"stats"`
}

// Stage looks up a stage by name.
func (r *RunReport) Stage(name string) *StageReport {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// ==================== Builders ====================

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func productChannel(p *model.Product) string {
	if d := p.Discovery(); d != nil {
		return d.Channel
	}
	return ""
}

// AnalyzeProfit sums the price ladder of the saved products.
func AnalyzeProfit(products []model.Product) ProfitAnalysis {
	var a ProfitAnalysis
	a.TotalProducts = len(products)
	for i := range products {
		pr := products[i].Pricing.Data()
		a.TotalRevenue += products[i].Price
		a.TotalSupplierCost += pr.SupplierPrice
		a.TotalProfit += pr.MarkupAmount
	}
	if a.TotalProducts > 0 {
		a.AverageProfit = a.TotalProfit / float64(a.TotalProducts)
	}
	if a.TotalRevenue > 0 {
		a.ProfitMargin = a.TotalProfit / a.TotalRevenue * 100
	}
	a.TotalRevenue = round2(a.TotalRevenue)
	a.TotalSupplierCost = round2(a.TotalSupplierCost)
	a.TotalProfit = round2(a.TotalProfit)
	a.AverageProfit = round2(a.AverageProfit)
	a.ProfitMargin = round2(a.ProfitMargin)
	return a
}

// TopByProfit best n products by markup amount.
func TopByProfit(products []model.Product, n int) []TopProduct {
	sorted := make([]model.Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Profit() > sorted[j].Profit()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	top := make([]TopProduct, 0, len(sorted))
	for i := range sorted {
		p := &sorted[i]
		top = append(top, summarize(p))
	}
	return top
}

func summarize(p *model.Product) TopProduct {
	return TopProduct{
		ID:                p.ID,
		Name:              p.Name,
		Price:             p.Price,
		SupplierPrice:     p.Pricing.Data().SupplierPrice,
		Profit:            p.Profit(),
		TrendingScore:     p.Analytics.Data().TrendingScore,
		Channel:           productChannel(p),
		SupplierProductID: p.SupplierProductID,
	}
}

// BreakdownByCategory ordered by total profit, highest first.
func BreakdownByCategory(products []model.Product) []CategoryBreakdown {
	idx := map[string]int{}
	var out []CategoryBreakdown
	for i := range products {
		cat := products[i].Category
		if cat == "" {
			cat = "other"
		}
		j, ok := idx[cat]
		if !ok {
			j = len(out)
			idx[cat] = j
			out = append(out, CategoryBreakdown{Category: cat})
		}
		out[j].Count++
		out[j].TotalProfit += products[i].Profit()
	}
	for i := range out {
		out[i].AverageProfit = round2(out[i].TotalProfit / float64(out[i].Count))
		out[i].TotalProfit = round2(out[i].TotalProfit)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalProfit > out[j].TotalProfit })
	return out
}

// BreakdownByChannel ordered by total engagement, highest first.
func BreakdownByChannel(products []model.Product) []ChannelBreakdown {
	idx := map[string]int{}
	var out []ChannelBreakdown
	for i := range products {
		ch := productChannel(&products[i])
		if ch == "" {
			continue
		}
		j, ok := idx[ch]
		if !ok {
			j = len(out)
			idx[ch] = j
			out = append(out, ChannelBreakdown{Channel: ch})
		}
		out[j].Count++
		out[j].TotalEngagement += products[i].Analytics.Data().TrendingScore
	}
	for i := range out {
		out[i].AverageEngagement = math.Round(out[i].TotalEngagement / float64(out[i].Count))
		out[i].TotalEngagement = math.Round(out[i].TotalEngagement)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalEngagement > out[j].TotalEngagement })
	return out
}

const (
	highProfitThreshold     = 15.0
	trendingThreshold       = 1000.0
	categoryProfitThreshold = 20.0
)

func firstNames(products []model.Product, n int) []string {
	var names []string
	for i := range products {
		if len(names) == n {
			break
		}
		names = append(names, products[i].Name)
	}
	return names
}

// Recommend suggests follow-ups from the saved products and their categories.
func Recommend(products []model.Product, categories []CategoryBreakdown) []Recommendation {
	var recs []Recommendation

	var highProfit, trending []model.Product
	for i := range products {
		if products[i].Profit() > highProfitThreshold {
			highProfit = append(highProfit, products[i])
		}
		if products[i].Analytics.Data().TrendingScore > trendingThreshold {
			trending = append(trending, products[i])
		}
	}

	if len(highProfit) > 0 {
		recs = append(recs, Recommendation{
			Type:     "high-profit",
			Priority: "high",
			Message:  fmt.Sprintf("%d products earn more than $%.0f per sale; promote them first", len(highProfit), highProfitThreshold),
			Products: firstNames(highProfit, 3),
		})
	}
	if len(trending) > 0 {
		recs = append(recs, Recommendation{
			Type:     "trending",
			Priority: "high",
			Message:  fmt.Sprintf("%d products have strong community engagement; feature them while they are hot", len(trending)),
			Products: firstNames(trending, 3),
		})
	}
	if len(categories) > 0 && categories[0].TotalProfit > categoryProfitThreshold {
		top := categories[0]
		recs = append(recs, Recommendation{
			Type:     "category",
			Priority: "medium",
			Message: fmt.Sprintf("%s is the most profitable category ($%.2f across %d products); scan more of it",
				top.Category, top.TotalProfit, top.Count),
		})
	}
	return recs
}

// buildReport fills the product-derived sections of a run report.
func buildReport(r *RunReport, saved []model.Product) {
	r.ProfitAnalysis = AnalyzeProfit(saved)
	r.TopProducts = TopByProfit(saved, 5)
	r.Categories = BreakdownByCategory(saved)
	r.Channels = BreakdownByChannel(saved)
	r.Recommendations = Recommend(saved, r.Categories)
}
