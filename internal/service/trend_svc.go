package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ==================== Candidate ====================

// Candidate an unpersisted, scored signal that a thread is about a product.
type Candidate struct {
	Platform  string    `json:"platform"`
	Channel   string    `json:"channel"`
	PostID    string    `json:"post_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Permalink string    `json:"permalink"`
	Author    string    `json:"author"`
	Upvotes   int       `json:"upvotes"`
	Comments  int       `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
	AgeHours  float64   `json:"age_hours"`

	EngagementScore    float64  `json:"engagement_score"`
	ProductName        string   `json:"product_name"`
	IsRealProduct      bool     `json:"is_real_product"`
	Prices             []string `json:"prices,omitempty"`
	HasMarketplaceLink bool     `json:"has_marketplace_link"`
	Category           string   `json:"category"`
	TopComments        []string `json:"top_comments,omitempty"`
}

// DiscoverySource discovery metadata stamped onto the product.
func (c Candidate) DiscoverySource(now time.Time) *model.DiscoverySource {
	return &model.DiscoverySource{
		Platform:        c.Platform,
		Channel:         c.Channel,
		PostID:          c.PostID,
		Title:           c.Title,
		Author:          c.Author,
		Upvotes:         c.Upvotes,
		Comments:        c.Comments,
		EngagementScore: c.EngagementScore,
		Permalink:       c.Permalink,
		URL:             c.URL,
		DiscoveredAt:    now,
		TopComments:     c.TopComments,
	}
}

// ==================== Reddit wire types ====================

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Selftext          string  `json:"selftext"`
	Body              string  `json:"body"`
	URL               string  `json:"url"`
	Permalink         string  `json:"permalink"`
	Author            string  `json:"author"`
	Ups               int     `json:"ups"`
	NumComments       int     `json:"num_comments"`
	CreatedUTC        float64 `json:"created_utc"`
	RemovedByCategory *string `json:"removed_by_category"`
}

func (p redditPost) removed() bool {
	if p.RemovedByCategory != nil && *p.RemovedByCategory != "" {
		return true
	}
	return p.Selftext == "[removed]" || p.Selftext == "[deleted]"
}

// ==================== TrendService ====================

var validTimeWindows = map[string]bool{
	"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true,
}

type TrendConfig struct {
	BaseURL   string
	UserAgent string
	Channels  []string
	// MaxResults cap on the merged candidate list
	MaxResults   int
	RequestEvery time.Duration
	Timeout      time.Duration
	CommentLimit int
	MinCommentUp int
}

// TrendService scans discussion channels for product candidates.
type TrendService struct {
	cfg        *TrendConfig
	http       *resty.Client
	classifier Classifier
	limiter    *rate.Limiter
	now        func() time.Time
	log        *zap.SugaredLogger
}

func NewTrendService(cfg *TrendConfig, classifier Classifier) *TrendService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "VideoShop Product Discovery Bot 1.0"
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{
			"BuyItForLife", "shutupandtakemymoney", "ProductPorn", "gadgets",
			"DidntKnowIWantedThat", "amazon", "deals",
		}
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 50
	}
	if cfg.RequestEvery == 0 {
		cfg.RequestEvery = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CommentLimit == 0 {
		cfg.CommentLimit = 3
	}
	if cfg.MinCommentUp == 0 {
		cfg.MinCommentUp = 5
	}
	if classifier == nil {
		classifier = NewHeuristicClassifier()
	}

	return &TrendService{
		cfg: cfg,
		http: vnet.NewClient(vnet.ClientConfig{
			BaseURL:   cfg.BaseURL,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
		}),
		classifier: classifier,
		limiter:    rate.NewLimiter(rate.Every(cfg.RequestEvery), 1),
		now:        time.Now,
		log:        logger.Named("[TrendScanner]"),
	}
}

// DiscoverCandidates scans every channel and returns deduplicated candidates,
// best first. A failing channel is logged and skipped; the only error is
// context cancellation.
func (s *TrendService) DiscoverCandidates(ctx context.Context, timeWindow string, perChannelLimit int) ([]Candidate, error) {
	if !validTimeWindows[timeWindow] {
		timeWindow = "day"
	}
	if perChannelLimit <= 0 {
		perChannelLimit = 25
	}

	var all []Candidate
	for _, channel := range s.cfg.Channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := s.scanChannel(ctx, channel, timeWindow, perChannelLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warnw("channel scan failed", "channel", channel, "error", err)
			continue
		}
		s.log.Infow("channel scanned", "channel", channel, "candidates", len(found))
		all = append(all, found...)
	}

	return DedupCandidates(all, s.cfg.MaxResults), nil
}

// DedupCandidates keeps the first candidate per name key (keys of 3 chars or
// fewer are dropped), sorts by score and caps the list.
func DedupCandidates(in []Candidate, limit int) []Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		key := NameKey(c.ProductName)
		if len(key) <= 3 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EngagementScore > out[j].EngagementScore
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *TrendService) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		ForceContentType("application/json").
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: http %d", path, resp.StatusCode())
	}
	return nil
}

func (s *TrendService) scanChannel(ctx context.Context, channel, timeWindow string, limit int) ([]Candidate, error) {
	var listing redditListing
	err := s.get(ctx, "/r/"+channel+"/top.json", map[string]string{
		"t":     timeWindow,
		"limit": fmt.Sprint(limit),
	}, &listing)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var out []Candidate
	for _, child := range listing.Data.Children {
		post := child.Data
		if strings.TrimSpace(post.Title) == "" || post.removed() {
			continue
		}

		created := time.Unix(int64(post.CreatedUTC), 0)
		res := s.classifier.Classify(ClassifierInput{
			Title:    post.Title,
			Body:     post.Selftext,
			URL:      post.URL,
			Upvotes:  post.Ups,
			Comments: post.NumComments,
			Created:  created,
		}, now)
		if !res.IsRealProduct {
			continue
		}

		c := Candidate{
			Platform:           "reddit",
			Channel:            channel,
			PostID:             post.ID,
			Title:              post.Title,
			Body:               post.Selftext,
			URL:                post.URL,
			Permalink:          "https://reddit.com" + post.Permalink,
			Author:             post.Author,
			Upvotes:            post.Ups,
			Comments:           post.NumComments,
			CreatedAt:          created,
			AgeHours:           now.Sub(created).Hours(),
			EngagementScore:    res.EngagementScore,
			ProductName:        res.ProductName,
			IsRealProduct:      true,
			Prices:             res.Prices,
			HasMarketplaceLink: res.HasMarketplaceLink,
			Category:           res.Category,
		}
		if post.Permalink != "" {
			c.TopComments = s.topComments(ctx, post.Permalink)
		}
		out = append(out, c)
	}
	return out, nil
}

// topComments best-effort: any failure yields no comments.
func (s *TrendService) topComments(ctx context.Context, permalink string) []string {
	var listings []redditListing
	path := strings.TrimSuffix(permalink, "/") + ".json"
	err := s.get(ctx, path, map[string]string{
		"limit": fmt.Sprint(s.cfg.CommentLimit),
		"sort":  "top",
	}, &listings)
	if err != nil {
		s.log.Debugw("comments unavailable", "permalink", permalink, "error", err)
		return nil
	}
	if len(listings) < 2 {
		return nil
	}

	var out []string
	for i, child := range listings[1].Data.Children {
		if i >= s.cfg.CommentLimit {
			break
		}
		body := child.Data.Body
		if body == "" || body == "[deleted]" || body == "[removed]" {
			continue
		}
		if child.Data.Ups < s.cfg.MinCommentUp {
			continue
		}
		out = append(out, truncateRunes(body, 200))
	}
	return out
}

// TestConnection probes the platform with a minimal request.
func (s *TrendService) TestConnection(ctx context.Context) error {
	var listing redditListing
	return s.get(ctx, "/r/popular.json", map[string]string{"limit": "1"}, &listing)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
