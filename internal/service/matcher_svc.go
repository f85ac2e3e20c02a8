package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	"videoshop/pkg/metrics"

	"go.uber.org/zap"
)

// ==================== Supplier catalog contract ====================

// SupplierListing one product from a supplier search page
type SupplierListing struct {
	Platform    string
	ID          string
	Name        string
	Image       string
	PriceText   string
	Category    string
	Description string
	URL         string
	SellCount   int
	Weight      float64
	ProductType string
}

// SupplierVariant purchasable variant from a detail lookup
type SupplierVariant struct {
	ID         string
	Name       string
	SKU        string
	Price      float64
	Image      string
	Key        string
	Weight     float64
	Dimensions string
	Stock      int
}

// SupplierCatalog search side of a supplier integration.
type SupplierCatalog interface {
	Platform() string
	// SearchProducts feeds ranked listings to visit until it returns true.
	// Returns a *CooldownError without any request when the window is closed.
	SearchProducts(ctx context.Context, terms string, maxPages int, visit func(SupplierListing) bool) error
	ProductVariants(ctx context.Context, productID string) ([]SupplierVariant, error)
	HealthCheck(ctx context.Context) error
	State() *SupplierState
}

// ==================== SeenSet ====================

// SeenSet supplier product ids already examined during one run.
// Not safe for concurrent use; each run owns its own.
type SeenSet map[string]struct{}

func NewSeenSet() SeenSet {
	return make(SeenSet)
}

func seenKey(platform, id string) string {
	return platform + ":" + id
}

func (s SeenSet) Add(platform, id string) {
	s[seenKey(platform, id)] = struct{}{}
}

func (s SeenSet) Has(platform, id string) bool {
	_, ok := s[seenKey(platform, id)]
	return ok
}

// ==================== MatcherService ====================

// SupplierMatch candidate reconciled with a live supplier listing
type SupplierMatch struct {
	Candidate Candidate
	Listing   SupplierListing
	Variants  []SupplierVariant
	Product   *model.Product
}

// MatchResult outcome of one matching pass
type MatchResult struct {
	Matches       []SupplierMatch
	Attempted     int
	CooldownSkips int
	Errors        []string
}

type MatcherConfig struct {
	MarkupPercentage float64
	MaxPages         int
}

// MatcherService reconciles candidates with supplier catalogs.
type MatcherService struct {
	cfg      *MatcherConfig
	catalogs []SupplierCatalog
	products repository.ProductRepository
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewMatcherService(cfg *MatcherConfig, products repository.ProductRepository, catalogs ...SupplierCatalog) *MatcherService {
	if cfg.MarkupPercentage == 0 {
		cfg.MarkupPercentage = 28
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 1
	}
	return &MatcherService{
		cfg:      cfg,
		catalogs: catalogs,
		products: products,
		now:      time.Now,
		log:      logger.Named("[SupplierMatcher]"),
	}
}

// Catalogs configured supplier integrations
func (s *MatcherService) Catalogs() []SupplierCatalog {
	return s.catalogs
}

// MatchCandidates matches the first maxToProcess candidates. A fresh SeenSet
// is threaded through the whole pass.
func (s *MatcherService) MatchCandidates(ctx context.Context, candidates []Candidate, maxToProcess int) MatchResult {
	var res MatchResult
	if maxToProcess <= 0 || maxToProcess > len(candidates) {
		maxToProcess = len(candidates)
	}
	seen := NewSeenSet()

	for i := 0; i < maxToProcess; i++ {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}
		c := candidates[i]
		res.Attempted++

		match, err := s.matchOne(ctx, c, seen)
		var cdErr *CooldownError
		switch {
		case errors.As(err, &cdErr):
			res.CooldownSkips++
			s.log.Infow("supplier cooling down, skipping candidate",
				"supplier", cdErr.Supplier, "candidate", c.ProductName, "wait", cdErr.RetryAfter.Round(time.Second))
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.ProductName, err))
			s.log.Warnw("match failed", "candidate", c.ProductName, "error", err)
		case match != nil:
			res.Matches = append(res.Matches, *match)
			s.log.Infow("matched", "candidate", c.ProductName, "supplier", match.Listing.Platform, "product", match.Listing.ID)
		default:
			s.log.Infow("no new supplier listing", "candidate", c.ProductName)
		}
	}

	metrics.PipelineProducts("matched", len(res.Matches))
	return res
}

// matchOne tries catalogs in order. nil match with nil error means nothing
// cleared deduplication.
func (s *MatcherService) matchOne(ctx context.Context, c Candidate, seen SeenSet) (*SupplierMatch, error) {
	name := c.ProductName
	if name == "" {
		name = c.Title
	}
	terms := SearchTerms(name)

	var lastErr error
	for _, catalog := range s.catalogs {
		listing, err := s.selectListing(ctx, catalog, terms, seen)
		if err != nil {
			lastErr = err
			continue
		}
		if listing == nil {
			continue
		}

		variants, err := catalog.ProductVariants(ctx, listing.ID)
		if err != nil {
			lastErr = fmt.Errorf("detail lookup %s: %w", listing.ID, err)
			continue
		}

		product := BuildProduct(c, *listing, variants, s.cfg.MarkupPercentage, s.now())
		return &SupplierMatch{
			Candidate: c,
			Listing:   *listing,
			Variants:  variants,
			Product:   product,
		}, nil
	}
	return nil, lastErr
}

// selectListing first listing not seen in this run and not already stored.
// Every examined id joins the seen set.
func (s *MatcherService) selectListing(ctx context.Context, catalog SupplierCatalog, terms string, seen SeenSet) (*SupplierListing, error) {
	var selected *SupplierListing
	var lookupErr error

	err := catalog.SearchProducts(ctx, terms, s.cfg.MaxPages, func(l SupplierListing) bool {
		if l.ID == "" || seen.Has(l.Platform, l.ID) {
			return false
		}
		seen.Add(l.Platform, l.ID)

		exists, err := s.products.ExistsBySupplierProductID(ctx, l.Platform, l.ID)
		if err != nil {
			lookupErr = err
			return true
		}
		if exists {
			s.log.Debugw("already in catalog", "product", l.ID)
			return false
		}
		listing := l
		selected = &listing
		return true
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, fmt.Errorf("dedup lookup: %w", lookupErr)
	}
	return selected, nil
}
