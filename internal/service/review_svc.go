package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// ErrNoReviews no source produced a usable review.
var ErrNoReviews = errors.New("no reviews found")

// ==================== Sources ====================

// ReviewSource one place reviews can be collected from.
type ReviewSource interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]model.Review, error)
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ReviewQuery lowercased, punctuation-free first three words of a product name.
func ReviewQuery(productName string) string {
	s := nonWordRe.ReplaceAllString(strings.ToLower(productName), " ")
	words := strings.Fields(s)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

var (
	veryNegativeWords = []string{"worst", "garbage", "scam", "avoid", "never again"}
	negativeWords     = []string{"bad", "terrible", "awful", "horrible", "hate", "waste", "broken", "useless"}
	veryPositiveWords = []string{"amazing", "perfect", "excellent", "outstanding", "incredible", "fantastic", "love it", "best ever"}
	positiveWords     = []string{"good", "great", "nice", "solid", "recommend", "happy", "satisfied", "works well"}
)

// SentimentRating keyword-based 1-5 rating for unrated review text.
func SentimentRating(text string) float64 {
	lower := strings.ToLower(text)
	has := func(words []string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has(veryNegativeWords):
		return 1
	case has(negativeWords):
		return 2
	case has(veryPositiveWords):
		return 5
	case has(positiveWords):
		return 4
	}
	return 3
}

// HTMLReviewSource scrapes a search page. Review text is taken from elements
// whose class contains one of the markers.
type HTMLReviewSource struct {
	name        string
	urlTemplate string
	markers     []string
	http        *resty.Client
}

// NewHTMLReviewSource urlTemplate holds one %s for the escaped query.
func NewHTMLReviewSource(name, urlTemplate string, markers []string, timeout time.Duration) *HTMLReviewSource {
	if len(markers) == 0 {
		markers = []string{"review-text", "review-body", "review-content", "customer-review"}
	}
	return &HTMLReviewSource{
		name:        name,
		urlTemplate: urlTemplate,
		markers:     markers,
		http: vnet.NewClient(vnet.ClientConfig{
			UserAgent: "Mozilla/5.0 (compatible; VideoShopReviews/1.0)",
			Timeout:   timeout,
		}).SetHeader("Accept-Language", "en-US,en;q=0.9"),
	}
}

func (s *HTMLReviewSource) Name() string { return s.name }

func (s *HTMLReviewSource) Fetch(ctx context.Context, query string) ([]model.Review, error) {
	target := fmt.Sprintf(s.urlTemplate, url.QueryEscape(query+" review"))
	resp, err := s.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("%s: http %d", s.name, resp.StatusCode())
	}

	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: parse html: %w", s.name, err)
	}

	var reviews []model.Review
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClassMarker(n, s.markers) {
			if text := collapseSpace(nodeText(n)); text != "" {
				reviews = append(reviews, model.Review{Source: s.name, Text: text, Rating: SentimentRating(text), URL: target})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return reviews, nil
}

func hasClassMarker(n *html.Node, markers []string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" && a.Key != "data-hook" {
			continue
		}
		for _, m := range markers {
			if strings.Contains(a.Val, m) {
				return true
			}
		}
	}
	return false
}

// nodeText concatenates text below n, skipping script and style.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// RedditReviewSource uses the public comment search listing.
type RedditReviewSource struct {
	http *resty.Client
}

func NewRedditReviewSource(baseURL, userAgent string, timeout time.Duration) *RedditReviewSource {
	if baseURL == "" {
		baseURL = "https://www.reddit.com"
	}
	return &RedditReviewSource{http: vnet.NewClient(vnet.ClientConfig{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   timeout,
	})}
}

func (s *RedditReviewSource) Name() string { return "reddit" }

func (s *RedditReviewSource) Fetch(ctx context.Context, query string) ([]model.Review, error) {
	var listing redditListing
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": query + " review", "type": "comment", "sort": "top", "limit": "15"}).
		ForceContentType("application/json").
		SetResult(&listing).
		Get("/search.json")
	if err != nil {
		return nil, fmt.Errorf("reddit: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("reddit: http %d", resp.StatusCode())
	}

	var reviews []model.Review
	for _, child := range listing.Data.Children {
		p := child.Data
		text := p.Body
		if text == "" {
			text = p.Selftext
		}
		text = collapseSpace(text)
		if text == "" || p.removed() || len(text) >= 500 {
			continue
		}
		reviews = append(reviews, model.Review{
			Source: "reddit",
			Author: p.Author,
			Rating: SentimentRating(text),
			Text:   text,
			URL:    "https://www.reddit.com" + p.Permalink,
		})
	}
	return reviews, nil
}

// YouTubeCommentSource reads top comments of the best cached video for the
// product, so it only works after videos were resolved. Costs one quota unit.
type YouTubeCommentSource struct {
	apiKey string
	videos repository.VideoRepository
	quota  QuotaStore
	http   *resty.Client
}

func NewYouTubeCommentSource(cfg *VideoConfig, videos repository.VideoRepository, quota QuotaStore) *YouTubeCommentSource {
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.googleapis.com/youtube/v3"
	}
	return &YouTubeCommentSource{
		apiKey: cfg.APIKey,
		videos: videos,
		quota:  quota,
		http:   vnet.NewClient(vnet.ClientConfig{BaseURL: base, Timeout: cfg.Timeout}),
	}
}

func (s *YouTubeCommentSource) Name() string { return "youtube" }

type ytCommentThreads struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				Snippet struct {
					TextOriginal      string `json:"textOriginal"`
					AuthorDisplayName string `json:"authorDisplayName"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

func (s *YouTubeCommentSource) Fetch(ctx context.Context, query string) ([]model.Review, error) {
	if s.apiKey == "" {
		return nil, nil
	}
	cached, err := s.videos.FindCached(ctx, 0, query, 1)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, nil
	}
	if ok, err := s.quota.Reserve(ctx, 1); err != nil || !ok {
		return nil, ErrQuotaExhausted
	}

	video := cached[0]
	var out ytCommentThreads
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part":       "snippet",
			"videoId":    video.VideoID,
			"order":      "relevance",
			"maxResults": "10",
			"key":        s.apiKey,
		}).
		ForceContentType("application/json").
		SetResult(&out).
		Get("/commentThreads")
	if err != nil {
		return nil, fmt.Errorf("youtube comments: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("youtube comments: http %d", resp.StatusCode())
	}

	var reviews []model.Review
	for _, item := range out.Items {
		c := item.Snippet.TopLevelComment.Snippet
		text := collapseSpace(c.TextOriginal)
		if len(text) >= 300 {
			continue
		}
		reviews = append(reviews, model.Review{
			Source: "youtube",
			Author: c.AuthorDisplayName,
			Rating: SentimentRating(text),
			Text:   text,
			URL:    video.WatchURL(),
		})
	}
	return reviews, nil
}

// ==================== ReviewService ====================

type ReviewConfig struct {
	MaxReviews   int
	MinLength    int
	RequestEvery time.Duration
}

// ReviewService tries sources in order until one yields usable reviews.
type ReviewService struct {
	cfg     *ReviewConfig
	sources []ReviewSource
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewReviewService(cfg *ReviewConfig, sources ...ReviewSource) *ReviewService {
	if cfg.MaxReviews == 0 {
		cfg.MaxReviews = 5
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = 20
	}
	if cfg.RequestEvery == 0 {
		cfg.RequestEvery = 2 * time.Second
	}
	return &ReviewService{
		cfg:     cfg,
		sources: sources,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestEvery), 1),
		now:     time.Now,
		log:     logger.Named("[Reviews]"),
	}
}

// FetchReviews returns reviews for a product and the name of the source that
// produced them, or ErrNoReviews.
func (s *ReviewService) FetchReviews(ctx context.Context, product *model.Product) ([]model.Review, string, error) {
	query := ReviewQuery(product.Name)
	if query == "" {
		return nil, "", validationError("product name is required")
	}

	for _, src := range s.sources {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
		found, err := src.Fetch(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			s.log.Warnw("review source failed", "source", src.Name(), "product", product.ID, "error", err)
			continue
		}

		reviews := s.usable(found)
		if len(reviews) > 0 {
			s.log.Infow("reviews found", "source", src.Name(), "product", product.ID, "count", len(reviews))
			return reviews, src.Name(), nil
		}
		s.log.Debugw("no usable reviews", "source", src.Name(), "product", product.ID)
	}
	return nil, "", ErrNoReviews
}

func (s *ReviewService) usable(found []model.Review) []model.Review {
	now := s.now()
	seen := make(map[string]bool)
	out := make([]model.Review, 0, s.cfg.MaxReviews)
	for _, r := range found {
		r.Text = collapseSpace(r.Text)
		if len(r.Text) <= s.cfg.MinLength || seen[r.Text] {
			continue
		}
		seen[r.Text] = true
		if r.Fetched.IsZero() {
			r.Fetched = now
		}
		out = append(out, r)
		if len(out) == s.cfg.MaxReviews {
			break
		}
	}
	return out
}
