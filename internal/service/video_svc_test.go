package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"videoshop/internal/model"
	"videoshop/internal/repository"
)

type fakeYouTube struct {
	srv    *httptest.Server
	mu     sync.Mutex
	counts map[string]int
	ids    []string
	quota  bool
}

func newFakeYouTube(t *testing.T, ids ...string) *fakeYouTube {
	f := &fakeYouTube{counts: map[string]int{}, ids: ids}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeYouTube) Count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[path]
}

func (f *fakeYouTube) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

func (f *fakeYouTube) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.counts[r.URL.Path]++
	quota := f.quota
	ids := f.ids
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("key") != "test-key" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if quota {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
		return
	}

	switch r.URL.Path {
	case "/search":
		items := []map[string]interface{}{}
		for _, id := range append(ids, ids[0]) { // duplicate hit on purpose
			items = append(items, map[string]interface{}{
				"id":      map[string]string{"videoId": id},
				"snippet": map[string]string{"title": "video " + id},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	case "/videos":
		var items []map[string]interface{}
		for i, id := range strings.Split(r.URL.Query().Get("id"), ",") {
			items = append(items, map[string]interface{}{
				"id": id,
				"snippet": map[string]interface{}{
					"title":        "Headphones review " + id,
					"description":  "honest headphones review",
					"channelTitle": "Reviewer",
					"publishedAt":  "2026-02-27T10:00:00Z",
					"thumbnails":   map[string]interface{}{"high": map[string]string{"url": "https://img/" + id}},
				},
				"statistics": map[string]string{
					"viewCount":    []string{"100000", "5000", "20"}[i%3],
					"likeCount":    "1000",
					"commentCount": "10",
				},
				"contentDetails": map[string]string{"duration": "PT8M30S"},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	case "/channels":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []map[string]interface{}{{
			"id":         r.URL.Query().Get("id"),
			"snippet":    map[string]string{"title": "Reviewer"},
			"statistics": map[string]string{"subscriberCount": "1200", "videoCount": "42", "viewCount": "99000"},
		}}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestVideoService(t *testing.T, f *fakeYouTube, quota QuotaStore) (*VideoService, repository.VideoRepository) {
	t.Helper()
	repo := repository.NewVideoRepository(setupTestDB(t))
	svc := NewVideoService(&VideoConfig{APIKey: "test-key", BaseURL: f.srv.URL}, repo, quota)
	svc.now = newTestClock().Now
	return svc, repo
}

func TestVideoService_ResolveIsCacheFirst(t *testing.T) {
	f := newFakeYouTube(t, "v1", "v2", "v3")
	svc, _ := newTestVideoService(t, f, NewMemoryQuotaStore(10000))
	ctx := context.Background()
	q := VideoQuery{ProductID: 7, ProductName: "Sony Headphones", Category: "tech"}

	first, err := svc.ResolveVideos(ctx, q, 2)
	if err != nil {
		t.Fatalf("ResolveVideos() error = %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("got %d videos, want 2", len(first))
	}
	if first[0].RelevanceScore < first[1].RelevanceScore {
		t.Errorf("results not sorted by score: %v, %v", first[0].RelevanceScore, first[1].RelevanceScore)
	}
	if !first[0].APICallMade || !first[0].IsActive || first[0].Duration != "8:30" {
		t.Errorf("entry not stamped: %+v", first[0])
	}
	if f.Count("/search") != 1 || f.Count("/videos") != 1 {
		t.Fatalf("calls = search %d videos %d, want 1/1", f.Count("/search"), f.Count("/videos"))
	}

	second, err := svc.ResolveVideos(ctx, VideoQuery{ProductName: "sony headphones "}, 2)
	if err != nil {
		t.Fatalf("second ResolveVideos() error = %v", err)
	}
	if len(second) != 2 {
		t.Errorf("cache returned %d videos", len(second))
	}
	if f.Total() != 2 {
		t.Errorf("cache hit made external calls: total %d", f.Total())
	}

	st, _ := svc.QuotaStatus(ctx)
	// search 100 + hydration of 3 unique ids
	if st.Used != 103 {
		t.Errorf("quota used = %d, want 103", st.Used)
	}
}

func TestVideoService_QuotaCeiling(t *testing.T) {
	f := newFakeYouTube(t, "v1", "v2", "v3")
	svc, _ := newTestVideoService(t, f, NewMemoryQuotaStore(150))
	ctx := context.Background()

	if _, err := svc.ResolveVideos(ctx, VideoQuery{ProductID: 1, ProductName: "Lamp"}, 5); err != nil {
		t.Fatal(err)
	}
	got, err := svc.ResolveVideos(ctx, VideoQuery{ProductID: 2, ProductName: "Chair"}, 5)
	if err != nil {
		t.Fatalf("ResolveVideos() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d videos past the quota", len(got))
	}
	if f.Count("/search") != 1 {
		t.Errorf("search calls = %d, want 1", f.Count("/search"))
	}
	st, _ := svc.QuotaStatus(ctx)
	if st.Used > st.Limit {
		t.Errorf("used %d exceeds limit %d", st.Used, st.Limit)
	}

	if err := svc.ResetQuota(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := svc.QuotaStatus(ctx); st.Used != 0 || st.Exhausted {
		t.Errorf("after reset: %+v", st)
	}
}

func TestVideoService_HydrationShrinksToBudget(t *testing.T) {
	f := newFakeYouTube(t, "v1", "v2", "v3")
	svc, _ := newTestVideoService(t, f, NewMemoryQuotaStore(101))

	got, err := svc.ResolveVideos(context.Background(), VideoQuery{ProductID: 1, ProductName: "Lamp"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d videos", len(got))
	}
	hydrated := 0
	for _, v := range got {
		if v.ViewCount > 0 {
			hydrated++
		}
	}
	if hydrated != 1 {
		t.Errorf("hydrated = %d, want 1", hydrated)
	}
}

func TestVideoService_UnhydratedEntriesAreNotCacheHits(t *testing.T) {
	f := newFakeYouTube(t, "v1", "v2", "v3")
	svc, repo := newTestVideoService(t, f, NewMemoryQuotaStore(101))
	ctx := context.Background()

	got, err := svc.ResolveVideos(ctx, VideoQuery{ProductID: 1, ProductName: "Lamp"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	verified := 0
	for _, v := range got {
		if v.APICallMade {
			verified++
		}
	}
	if verified != 1 {
		t.Errorf("verified entries = %d, want 1", verified)
	}
	if cached, _ := repo.FindCached(ctx, 1, "", 5); len(cached) != 1 {
		t.Errorf("cache hits = %d, want only the hydrated entry", len(cached))
	}

	// with a full budget, a second product search refreshes the search-only rows
	roomy := NewVideoService(&VideoConfig{APIKey: "test-key", BaseURL: f.srv.URL}, repo, NewMemoryQuotaStore(10000))
	if _, err := roomy.ResolveVideos(ctx, VideoQuery{ProductID: 2, ProductName: "Desk"}, 3); err != nil {
		t.Fatal(err)
	}
	if cached, _ := repo.FindCached(ctx, 1, "", 5); len(cached) != 3 {
		t.Errorf("cache hits after refresh = %d, want 3", len(cached))
	}
	if n, _ := repo.Count(ctx); n != 3 {
		t.Errorf("video rows = %d, want 3", n)
	}
}

func TestVideoService_ReuseAcrossProducts(t *testing.T) {
	f := newFakeYouTube(t, "v1", "v2")
	svc, repo := newTestVideoService(t, f, NewMemoryQuotaStore(10000))
	ctx := context.Background()

	if _, err := svc.ResolveVideos(ctx, VideoQuery{ProductID: 1, ProductName: "Desk Lamp"}, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveVideos(ctx, VideoQuery{ProductID: 2, ProductName: "Floor Lamp"}, 2); err != nil {
		t.Fatal(err)
	}

	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("video rows = %d, want 2", n)
	}
	entry, err := repo.GetByVideoIDWithLinks(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.Links) != 2 {
		t.Errorf("links = %d, want 2", len(entry.Links))
	}
	for _, pid := range []int64{1, 2} {
		cached, _ := repo.FindCached(ctx, pid, "", 5)
		if len(cached) != 2 {
			t.Errorf("product %d cached = %d", pid, len(cached))
		}
	}
}

func TestVideoService_ProviderQuotaErrorMarksExhausted(t *testing.T) {
	f := newFakeYouTube(t, "v1")
	f.quota = true
	svc, _ := newTestVideoService(t, f, NewMemoryQuotaStore(10000))
	ctx := context.Background()

	got, err := svc.ResolveVideos(ctx, VideoQuery{ProductName: "Lamp"}, 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("ResolveVideos() = %d, %v", len(got), err)
	}
	st, _ := svc.QuotaStatus(ctx)
	if !st.Exhausted {
		t.Errorf("quota not marked exhausted: %+v", st)
	}
	if err := svc.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should report exhaustion")
	}
}

func TestVideoService_TrendingAndChannel(t *testing.T) {
	f := newFakeYouTube(t, "t1", "t2")
	svc, _ := newTestVideoService(t, f, NewMemoryQuotaStore(10000))
	ctx := context.Background()

	got, err := svc.SearchTrending(ctx, 2, 3)
	if err != nil {
		t.Fatalf("SearchTrending() error = %v", err)
	}
	// every query returns the same two ids
	if len(got) != 2 {
		t.Errorf("trending = %d, want 2", len(got))
	}
	if got[0].Category != "trending" {
		t.Errorf("category = %q", got[0].Category)
	}

	ch, err := svc.ChannelInfo(ctx, "UC1")
	if err != nil {
		t.Fatalf("ChannelInfo() error = %v", err)
	}
	if ch.Subscribers != 1200 || ch.Videos != 42 {
		t.Errorf("channel = %+v", ch)
	}
}

func TestScoreVideo(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-48 * time.Hour)
	old := now.AddDate(-2, 0, 0)

	base := model.VideoCacheEntry{Title: "x", ViewCount: 999, PublishedAt: &recent, DurationSeconds: 300}
	// log10(1000)*10 = 30, recency 50, sweet spot 10
	if got := ScoreVideo(&base, "", now); got != 90 {
		t.Errorf("base score = %v, want 90", got)
	}

	keyword := base
	keyword.Title = "Lamp review"
	keyword.Description = "a lamp"
	if got := ScoreVideo(&keyword, "lamp review", now); got != 105 {
		t.Errorf("keyword score = %v, want 105", got)
	}

	short := model.VideoCacheEntry{PublishedAt: &old, DurationSeconds: 30}
	if got := ScoreVideo(&short, "", now); got != 0 {
		t.Errorf("score clamps at zero, got %v", got)
	}
}

func TestParseISODuration(t *testing.T) {
	for in, want := range map[string]int{"PT1H2M3S": 3723, "PT45S": 45, "PT10M": 600, "P1D": 0} {
		got, _ := ParseISODuration(in)
		if got != want {
			t.Errorf("ParseISODuration(%q) = %d, want %d", in, got, want)
		}
	}
	if FormatDuration(3723) != "1:02:03" || FormatDuration(510) != "8:30" {
		t.Error("FormatDuration mismatch")
	}
}
