package service

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"videoshop/internal/model"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// ==================== Category tables ====================

//go:embed data/categories.yaml
var categoryYAML []byte

type categoryRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type categoryTables struct {
	Supplier  []categoryRule `yaml:"supplier"`
	Discovery []categoryRule `yaml:"discovery"`
}

var categories = mustLoadCategories(categoryYAML)

func mustLoadCategories(data []byte) categoryTables {
	var t categoryTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		panic(fmt.Sprintf("parse category tables: %v", err))
	}
	return t
}

// CategoryOther fallback category
const CategoryOther = "other"

func matchCategory(rules []categoryRule, text string) string {
	text = strings.ToLower(text)
	if text == "" {
		return CategoryOther
	}
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return r.Name
			}
		}
	}
	return CategoryOther
}

// MapSupplierCategory maps a supplier's free-text category to a storefront category.
func MapSupplierCategory(supplierCategory string) string {
	return matchCategory(categories.Supplier, supplierCategory)
}

// EstimateCategory guesses a category from an extracted product name.
func EstimateCategory(productName string) string {
	return matchCategory(categories.Discovery, productName)
}

// ==================== Search terms & price ====================

var searchStopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true, "this": true,
	"that": true, "with": true, "for": true, "as": true, "are": true, "was": true,
	"will": true, "be": true, "best": true, "good": true, "great": true, "how": true,
	"what": true, "why": true, "when": true, "where": true, "and": true, "just": true,
}

var nonWord = regexp.MustCompile(`[^\w\s]+`)

// SearchTerms first two meaningful words of a product name, or the name itself.
func SearchTerms(name string) string {
	words := strings.Fields(strings.ToLower(nonWord.ReplaceAllString(name, " ")))
	terms := make([]string, 0, 2)
	for _, w := range words {
		if len(w) > 2 && !searchStopWords[w] {
			terms = append(terms, w)
			if len(terms) == 2 {
				break
			}
		}
	}
	if len(terms) == 0 {
		return strings.TrimSpace(name)
	}
	return strings.Join(terms, " ")
}

var firstNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseSupplierPrice lower bound of a price or price range such as "7.09 -- 8.82".
func ParseSupplierPrice(text string) float64 {
	m := firstNumber.FindString(text)
	if m == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(m, 64)
	return v
}

// ==================== Images ====================

var embeddedImage = regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.(?:jpg|jpeg|png|gif|webp)`)

var imageBlacklist = []string{
	"w=100", "h=100", "thumbnail",
	"screenshot", "spec", "chart", "size guide", "size-guide", "sizeguide", "size.jpg",
	"trans.jpeg", "_trans", "detail.jpg", "info.jpg", "instruction", "manual",
	"text.jpg", "info.png", "desc.jpg",
	"%E", "%C", "%D", "zh-", "cn-", "chinese",
}

// IsLowQualityImage flags thumbnails, spec sheets, text images and URLs
// that look like percent-encoded non-Latin names.
func IsLowQualityImage(url string) bool {
	if strings.Count(url, "%") > 5 {
		return true
	}
	lower := strings.ToLower(url)
	for _, marker := range imageBlacklist {
		// encoded-byte markers are case-sensitive
		if strings.HasPrefix(marker, "%") {
			if strings.Contains(url, marker) {
				return true
			}
			continue
		}
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CollectImages primary image, distinct variant images, then image URLs
// embedded in the description, minus low-quality ones. Order is kept.
func CollectImages(l SupplierListing, variants []SupplierVariant) []string {
	var raw []string
	raw = append(raw, l.Image)
	for _, v := range variants {
		raw = append(raw, v.Image)
	}
	raw = append(raw, embeddedImage.FindAllString(l.Description, -1)...)

	seen := make(map[string]bool, len(raw))
	images := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || !strings.HasPrefix(u, "http") {
			continue
		}
		seen[u] = true
		if IsLowQualityImage(u) {
			continue
		}
		images = append(images, u)
	}
	return images
}

// ==================== Product assembly ====================

// NormalizeVariants maps supplier variants onto the catalog shape.
func NormalizeVariants(vs []SupplierVariant) []model.Variant {
	out := make([]model.Variant, 0, len(vs))
	for _, v := range vs {
		attrs := map[string]string{}
		if v.Key != "" {
			attrs["key"] = v.Key
		}
		if v.Weight > 0 {
			attrs["weight"] = strconv.FormatFloat(v.Weight, 'f', -1, 64)
		}
		if v.Dimensions != "" {
			attrs["dimensions"] = v.Dimensions
		}
		out = append(out, model.Variant{
			ID:         v.ID,
			Name:       v.Name,
			SKU:        v.SKU,
			Price:      v.Price,
			Image:      v.Image,
			Attributes: attrs,
			Stock:      v.Stock,
		})
	}
	return out
}

func buildDescription(l SupplierListing, vs []SupplierVariant) string {
	var b strings.Builder
	name := l.Name
	if name == "" {
		name = "Premium Quality Product"
	}
	b.WriteString(name)

	var names []string
	for _, v := range vs {
		n := v.Key
		if n == "" {
			n = v.Name
		}
		if n != "" {
			names = append(names, n)
		}
	}
	if len(names) > 0 {
		shown := names
		if len(shown) > 3 {
			shown = shown[:3]
		}
		b.WriteString("\n\nAvailable variants: " + strings.Join(shown, ", "))
		if len(names) > 3 {
			fmt.Fprintf(&b, " and %d more options", len(names)-3)
		}
	}

	var specs []string
	if l.Weight > 0 {
		specs = append(specs, fmt.Sprintf("Weight: %sg", strconv.FormatFloat(l.Weight, 'f', -1, 64)))
	}
	if l.Category != "" {
		specs = append(specs, "Category: "+l.Category)
	}
	if l.ProductType != "" {
		specs = append(specs, "Type: "+l.ProductType)
	}
	if len(vs) > 0 && vs[0].Dimensions != "" {
		specs = append(specs, "Dimensions: "+vs[0].Dimensions)
	}
	if len(specs) > 0 {
		b.WriteString("\n\nSpecifications:\n- " + strings.Join(specs, "\n- "))
	}
	return b.String()
}

// BuildProduct turns a selected supplier listing into a catalog product
// carrying the candidate's discovery metadata.
func BuildProduct(c Candidate, l SupplierListing, vs []SupplierVariant, markupPercentage float64, now time.Time) *model.Product {
	supplierPrice := ParseSupplierPrice(l.PriceText)
	pricing := model.NewPricing(supplierPrice, markupPercentage, now)

	name := l.Name
	if name == "" {
		name = c.ProductName
	}

	stock := 0
	for _, v := range vs {
		stock += v.Stock
	}

	p := &model.Product{
		Name:              name,
		Description:       buildDescription(l, vs),
		Price:             pricing.FinalPrice,
		Category:          MapSupplierCategory(l.Category),
		Source:            model.ProductSourceDiscovery,
		Status:            model.ProductStatusActive,
		DiscoveryPostID:   c.PostID,
		SupplierPlatform:  l.Platform,
		SupplierProductID: l.ID,
		DiscoverySource:   datatypes.NewJSONType(c.DiscoverySource(now)),
		Supplier: datatypes.NewJSONType(model.SupplierInfo{
			Platform:    l.Platform,
			ProductID:   l.ID,
			SupplierURL: l.URL,
			Price:       pricing.SupplierPrice,
			Seller:      "Global Supplier",
			Shipping:    "7-15 days",
			Specifications: model.SupplierSpecs{
				IsRealProduct: true,
				HasVariants:   len(vs) > 0,
				Weight:        l.Weight,
				ProductType:   l.ProductType,
				SellCount:     l.SellCount,
			},
		}),
		Pricing:  datatypes.NewJSONType(pricing),
		Images:   datatypes.JSONSlice[string](CollectImages(l, vs)),
		Variants: datatypes.JSONSlice[model.Variant](NormalizeVariants(vs)),
		Inventory: datatypes.NewJSONType(model.Inventory{
			SKU:           "CJ-" + l.ID,
			StockQuantity: stock,
			TrackQuantity: len(vs) > 0,
		}),
		Automation: datatypes.NewJSONType(model.AutomationMeta{
			IsAutomated: true,
			LastSync:    &now,
		}),
		Analytics: datatypes.NewJSONType(model.Analytics{
			TrendingScore: c.EngagementScore,
		}),
	}
	// no usable photo means a human has to look at it
	p.NeedsReview = len(p.Images) == 0
	return p
}
