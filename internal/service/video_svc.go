package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrQuotaExhausted no video API budget left for today.
var ErrQuotaExhausted = errors.New("video quota exhausted")

// ==================== YouTube wire types ====================

type ytThumbnail struct {
	URL string `json:"url"`
}

type ytSnippet struct {
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	ChannelID    string                 `json:"channelId"`
	ChannelTitle string                 `json:"channelTitle"`
	PublishedAt  string                 `json:"publishedAt"`
	Thumbnails   map[string]ytThumbnail `json:"thumbnails"`
}

func (s ytSnippet) thumbnail() string {
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := s.Thumbnails[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet ytSnippet `json:"snippet"`
	} `json:"items"`
}

type ytVideo struct {
	ID         string    `json:"id"`
	Snippet    ytSnippet `json:"snippet"`
	Statistics struct {
		ViewCount    flexString `json:"viewCount"`
		LikeCount    flexString `json:"likeCount"`
		CommentCount flexString `json:"commentCount"`
	} `json:"statistics"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
}

type ytVideosResponse struct {
	Items []ytVideo `json:"items"`
}

type ytChannelsResponse struct {
	Items []struct {
		ID         string    `json:"id"`
		Snippet    ytSnippet `json:"snippet"`
		Statistics struct {
			SubscriberCount flexString `json:"subscriberCount"`
			VideoCount      flexString `json:"videoCount"`
			ViewCount       flexString `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type ytErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (e ytErrorResponse) quotaExceeded() bool {
	for _, r := range e.Error.Errors {
		if r.Reason == "quotaExceeded" || r.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

// ==================== Scoring ====================

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration converts "PT1H2M3S" style durations to seconds.
func ParseISODuration(s string) (int, bool) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		total += n * mult
	}
	return total, true
}

// FormatDuration renders seconds as m:ss or h:mm:ss.
func FormatDuration(secs int) string {
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ScoreVideo relevance of a video to a search query: engagement, recency,
// keyword hits and a duration adjustment. Never negative.
func ScoreVideo(v *model.VideoCacheEntry, query string, now time.Time) float64 {
	score := 0.0
	views := float64(v.ViewCount)

	score += math.Log10(views+1) * 10
	if views > 0 {
		likeRatio := float64(v.LikeCount) / views * 100
		commentRatio := float64(v.CommentCount) / views * 100
		score += math.Min(likeRatio*5, 50)
		score += math.Min(commentRatio*10, 50)
	}

	if v.PublishedAt != nil {
		days := now.Sub(*v.PublishedAt).Hours() / 24
		switch {
		case days < 7:
			score += 50
		case days < 30:
			score += 40
		case days < 90:
			score += 30
		case days < 180:
			score += 20
		case days < 365:
			score += 10
		}
	}

	title := strings.ToLower(v.Title)
	desc := strings.ToLower(v.Description)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len(term) <= 2 {
			continue
		}
		if strings.Contains(title, term) {
			score += 5
		}
		if strings.Contains(desc, term) {
			score += 5
		}
	}

	if v.DurationSeconds > 0 {
		switch {
		case v.DurationSeconds < 60 || v.DurationSeconds > 3600:
			score -= 20
		case v.DurationSeconds > 120 && v.DurationSeconds < 1200:
			score += 10
		}
	}

	return math.Max(0, math.Round(score))
}

// ==================== VideoService ====================

type VideoConfig struct {
	APIKey       string
	BaseURL      string
	SearchCost   int
	VideoCost    int
	ChannelCost  int
	ResultBuffer int
	Timeout      time.Duration
	// TrendingQueries fixed queries used when product searches come up short
	TrendingQueries []string
}

// VideoQuery identifies the product videos are resolved for.
type VideoQuery struct {
	ProductID   int64
	ProductName string
	Category    string
}

// ChannelInfo public channel statistics.
type ChannelInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
	Subscribers int64  `json:"subscribers"`
	Videos      int64  `json:"videos"`
	Views       int64  `json:"views"`
}

// VideoService cache-first resolver for product review videos.
type VideoService struct {
	cfg   *VideoConfig
	http  *resty.Client
	repo  repository.VideoRepository
	quota QuotaStore
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewVideoService(cfg *VideoConfig, repo repository.VideoRepository, quota QuotaStore) *VideoService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if cfg.SearchCost == 0 {
		cfg.SearchCost = 100
	}
	if cfg.VideoCost == 0 {
		cfg.VideoCost = 1
	}
	if cfg.ChannelCost == 0 {
		cfg.ChannelCost = 1
	}
	if cfg.ResultBuffer == 0 {
		cfg.ResultBuffer = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.TrendingQueries) == 0 {
		cfg.TrendingQueries = []string{"technology reviews", "gadget unboxing", "viral tech"}
	}
	if quota == nil {
		quota = NewMemoryQuotaStore(0)
	}

	return &VideoService{
		cfg: cfg,
		http: vnet.NewClient(vnet.ClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}),
		repo:  repo,
		quota: quota,
		now:   time.Now,
		log:   logger.Named("[Videos]"),
	}
}

// ResolveVideos returns up to maxResults videos for a product. Cached entries
// are served without touching the API. On a miss the API is searched within
// the daily quota and the best results are persisted and linked. Provider
// failures yield an empty result; only storage errors are returned.
func (s *VideoService) ResolveVideos(ctx context.Context, q VideoQuery, maxResults int) ([]model.VideoCacheEntry, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	name := strings.TrimSpace(q.ProductName)
	if q.ProductID == 0 && name == "" {
		return nil, validationError("product id or name is required")
	}

	cached, err := s.repo.FindCached(ctx, q.ProductID, name, maxResults)
	if err != nil {
		return nil, fmt.Errorf("video cache lookup: %w", err)
	}
	if len(cached) > 0 {
		s.log.Debugw("cache hit", "product", q.ProductID, "name", name, "videos", len(cached))
		return cached, nil
	}
	if s.cfg.APIKey == "" {
		s.log.Warnw("video api key not configured, skipping search", "name", name)
		return []model.VideoCacheEntry{}, nil
	}
	if name == "" {
		return []model.VideoCacheEntry{}, nil
	}

	query := name + " review"
	found, err := s.searchAndHydrate(ctx, query, maxResults+s.cfg.ResultBuffer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warnw("video search failed", "query", query, "error", err)
		return []model.VideoCacheEntry{}, nil
	}

	if len(found) > maxResults {
		found = found[:maxResults]
	}
	return s.persist(ctx, found, q.ProductID, name, q.Category)
}

// searchAndHydrate runs one search and hydrates as many hits as the budget
// allows, best first.
func (s *VideoService) searchAndHydrate(ctx context.Context, query string, n int) ([]model.VideoCacheEntry, error) {
	hits, err := s.search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.VideoID)
	}
	details, err := s.hydrate(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.Warnw("video details unavailable, scoring snippets only", "query", query, "error", err)
	}

	now := s.now()
	entries := make([]model.VideoCacheEntry, 0, len(hits))
	for _, h := range hits {
		e := h
		d, ok := details[h.VideoID]
		if ok {
			e = d
		}
		// only hydrated entries may serve later cache hits
		e.APICallMade = ok
		e.SearchQuery = query
		e.RelevanceScore = ScoreVideo(&e, query, now)
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelevanceScore > entries[j].RelevanceScore
	})
	return entries, nil
}

func (s *VideoService) search(ctx context.Context, query string, n int) ([]model.VideoCacheEntry, error) {
	ok, err := s.quota.Reserve(ctx, s.cfg.SearchCost)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Infow("daily quota exhausted, search skipped", "query", query)
		return nil, ErrQuotaExhausted
	}

	var out ytSearchResponse
	if err := s.get(ctx, "/search", map[string]string{
		"part":       "snippet",
		"type":       "video",
		"q":          query,
		"maxResults": strconv.Itoa(n),
		"order":      "relevance",
		"safeSearch": "moderate",
	}, &out); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(out.Items))
	hits := make([]model.VideoCacheEntry, 0, len(out.Items))
	for _, item := range out.Items {
		id := item.ID.VideoID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		hits = append(hits, entryFromSnippet(id, item.Snippet))
	}
	return hits, nil
}

// hydrate fetches statistics for ids, trimmed to what the quota still covers.
func (s *VideoService) hydrate(ctx context.Context, ids []string) (map[string]model.VideoCacheEntry, error) {
	st, err := s.quota.Status(ctx)
	if err != nil {
		return nil, err
	}
	if affordable := st.Remaining / s.cfg.VideoCost; affordable < len(ids) {
		ids = ids[:affordable]
	}
	if len(ids) == 0 {
		return nil, ErrQuotaExhausted
	}
	ok, err := s.quota.Reserve(ctx, len(ids)*s.cfg.VideoCost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExhausted
	}

	var out ytVideosResponse
	if err := s.get(ctx, "/videos", map[string]string{
		"part": "snippet,statistics,contentDetails",
		"id":   strings.Join(ids, ","),
	}, &out); err != nil {
		return nil, err
	}

	details := make(map[string]model.VideoCacheEntry, len(out.Items))
	for _, v := range out.Items {
		e := entryFromSnippet(v.ID, v.Snippet)
		e.ViewCount = parseCount(v.Statistics.ViewCount)
		e.LikeCount = parseCount(v.Statistics.LikeCount)
		e.CommentCount = parseCount(v.Statistics.CommentCount)
		if secs, ok := ParseISODuration(v.ContentDetails.Duration); ok {
			e.DurationSeconds = secs
			e.Duration = FormatDuration(secs)
		}
		details[v.ID] = e
	}
	return details, nil
}

func entryFromSnippet(id string, sn ytSnippet) model.VideoCacheEntry {
	e := model.VideoCacheEntry{
		VideoID:      id,
		Title:        sn.Title,
		Description:  sn.Description,
		ThumbnailURL: sn.thumbnail(),
		ChannelID:    sn.ChannelID,
		ChannelTitle: sn.ChannelTitle,
	}
	if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		e.PublishedAt = &t
	}
	return e
}

func parseCount(f flexString) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	return n
}

// get performs a keyed API call and turns provider errors into Go errors.
// A quota refusal marks the day exhausted.
func (s *VideoService) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	var apiErr ytErrorResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetQueryParam("key", s.cfg.APIKey).
		ForceContentType("application/json").
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("youtube %s: %w", path, err)
	}
	if resp.IsError() {
		if apiErr.quotaExceeded() {
			if err := s.quota.MarkExhausted(ctx); err != nil {
				s.log.Warnw("mark quota exhausted failed", "error", err)
			}
			return fmt.Errorf("youtube %s: %w", path, ErrQuotaExhausted)
		}
		return fmt.Errorf("youtube %s: http %d: %s", path, resp.StatusCode(), apiErr.Error.Message)
	}
	return nil
}

// persist stores entries and links them to the product. A video that is
// already cached gains a link instead of a second row; a row saved from
// search results only is refreshed once its details arrive.
func (s *VideoService) persist(ctx context.Context, entries []model.VideoCacheEntry, productID int64, productName, category string) ([]model.VideoCacheEntry, error) {
	now := s.now()
	saved := make([]model.VideoCacheEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		existing, err := s.repo.GetByVideoID(ctx, e.VideoID)
		switch {
		case err == nil && !existing.APICallMade && e.APICallMade:
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			e.Category = existing.Category
			e.LastFetched = now
			e.IsActive = existing.IsActive
			if err := s.repo.Update(ctx, &e); err != nil {
				return saved, fmt.Errorf("refresh video %s: %w", e.VideoID, err)
			}
		case err == nil:
			e = *existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			e.Category = category
			e.LastFetched = now
			e.IsActive = true
			if err := s.repo.Create(ctx, &e); err != nil {
				return saved, fmt.Errorf("save video %s: %w", e.VideoID, err)
			}
		default:
			return saved, fmt.Errorf("load video %s: %w", e.VideoID, err)
		}

		if productID > 0 || productName != "" {
			if err := s.repo.Link(ctx, e.ID, productID, productName); err != nil {
				return saved, fmt.Errorf("link video %s: %w", e.VideoID, err)
			}
		}
		saved = append(saved, e)
	}
	s.log.Infow("videos cached", "product", productID, "name", productName, "videos", len(saved))
	return saved, nil
}

// SearchTrending runs the fixed trending queries until totalMax videos were
// found or the quota runs out. Results are cached without a product link.
func (s *VideoService) SearchTrending(ctx context.Context, maxPerQuery, totalMax int) ([]model.VideoCacheEntry, error) {
	if maxPerQuery <= 0 {
		maxPerQuery = 3
	}
	if totalMax <= 0 {
		totalMax = maxPerQuery * len(s.cfg.TrendingQueries)
	}
	if s.cfg.APIKey == "" {
		return []model.VideoCacheEntry{}, nil
	}

	seen := make(map[string]bool)
	var all []model.VideoCacheEntry
	for _, query := range s.cfg.TrendingQueries {
		if len(all) >= totalMax {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := s.searchAndHydrate(ctx, query, maxPerQuery)
		if errors.Is(err, ErrQuotaExhausted) {
			break
		}
		if err != nil {
			s.log.Warnw("trending search failed", "query", query, "error", err)
			continue
		}
		for _, e := range found {
			if seen[e.VideoID] || len(all) >= totalMax {
				continue
			}
			seen[e.VideoID] = true
			all = append(all, e)
		}
	}
	return s.persist(ctx, all, 0, "", "trending")
}

// ChannelInfo looks up one channel's public statistics.
func (s *VideoService) ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error) {
	if channelID == "" {
		return nil, validationError("channel id is required")
	}
	ok, err := s.quota.Reserve(ctx, s.cfg.ChannelCost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExhausted
	}

	var out ytChannelsResponse
	if err := s.get(ctx, "/channels", map[string]string{
		"part": "snippet,statistics",
		"id":   channelID,
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("channel %s: %w", channelID, gorm.ErrRecordNotFound)
	}
	c := out.Items[0]
	return &ChannelInfo{
		ID:          c.ID,
		Title:       c.Snippet.Title,
		Description: c.Snippet.Description,
		Thumbnail:   c.Snippet.thumbnail(),
		Subscribers: parseCount(c.Statistics.SubscriberCount),
		Videos:      parseCount(c.Statistics.VideoCount),
		Views:       parseCount(c.Statistics.ViewCount),
	}, nil
}

func (s *VideoService) CachedVideos(ctx context.Context, filter repository.VideoFilter) ([]model.VideoCacheEntry, error) {
	return s.repo.List(ctx, filter)
}

// Featured most viewed cached videos for the storefront landing page.
func (s *VideoService) Featured(ctx context.Context, limit int) ([]model.VideoCacheEntry, error) {
	entries, err := s.repo.ListFeatured(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("featured videos: %w", err)
	}
	return entries, nil
}

// Deactivate hides a video from future cache hits; the row is kept.
func (s *VideoService) Deactivate(ctx context.Context, videoID string) error {
	return s.repo.Deactivate(ctx, videoID)
}

func (s *VideoService) QuotaStatus(ctx context.Context) (QuotaStatus, error) {
	return s.quota.Status(ctx)
}

func (s *VideoService) ResetQuota(ctx context.Context) error {
	s.log.Infow("quota reset")
	return s.quota.Reset(ctx)
}

// HealthCheck reports an exhausted quota without spending any.
func (s *VideoService) HealthCheck(ctx context.Context) error {
	st, err := s.quota.Status(ctx)
	if err != nil {
		return err
	}
	if st.Exhausted {
		return ErrQuotaExhausted
	}
	return nil
}
