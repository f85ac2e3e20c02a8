package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"videoshop/internal/model"
)

type stubReviewSource struct {
	name    string
	reviews []model.Review
	err     error
	calls   int
}

func (s *stubReviewSource) Name() string { return s.name }

func (s *stubReviewSource) Fetch(context.Context, string) ([]model.Review, error) {
	s.calls++
	return s.reviews, s.err
}

func TestReviewService_FirstUsableSourceWins(t *testing.T) {
	long := "This lamp is great and works well every single night"
	failing := &stubReviewSource{name: "marketplace", err: errors.New("blocked")}
	short := &stubReviewSource{name: "reddit", reviews: []model.Review{{Text: "too short"}}}
	good := &stubReviewSource{name: "youtube", reviews: []model.Review{
		{Text: long}, {Text: "  " + long + "  "}, {Text: "Another   solid review that is long enough"},
	}}
	unused := &stubReviewSource{name: "aggregator", reviews: []model.Review{{Text: long}}}

	svc := NewReviewService(&ReviewConfig{RequestEvery: time.Millisecond}, failing, short, good, unused)
	reviews, source, err := svc.FetchReviews(context.Background(), &model.Product{Name: "Desk Lamp"})
	if err != nil {
		t.Fatalf("FetchReviews() error = %v", err)
	}
	if source != "youtube" {
		t.Errorf("source = %q", source)
	}
	if len(reviews) != 2 {
		t.Fatalf("reviews = %d, want 2 after dedup", len(reviews))
	}
	if reviews[1].Text != "Another solid review that is long enough" {
		t.Errorf("whitespace not collapsed: %q", reviews[1].Text)
	}
	if reviews[0].Fetched.IsZero() {
		t.Error("fetched time not stamped")
	}
	if unused.calls != 0 {
		t.Error("sources after the winner should not be called")
	}
}

func TestReviewService_CapAndNone(t *testing.T) {
	var many []model.Review
	for i := 0; i < 8; i++ {
		many = append(many, model.Review{Text: strings.Repeat("x", 21+i)})
	}
	svc := NewReviewService(&ReviewConfig{RequestEvery: time.Millisecond}, &stubReviewSource{name: "a", reviews: many})
	reviews, _, err := svc.FetchReviews(context.Background(), &model.Product{Name: "Lamp"})
	if err != nil || len(reviews) != 5 {
		t.Fatalf("FetchReviews() = %d, %v", len(reviews), err)
	}

	empty := NewReviewService(&ReviewConfig{RequestEvery: time.Millisecond}, &stubReviewSource{name: "a"})
	if _, _, err := empty.FetchReviews(context.Background(), &model.Product{Name: "Lamp"}); !errors.Is(err, ErrNoReviews) {
		t.Errorf("error = %v, want ErrNoReviews", err)
	}
}

func TestHTMLReviewSource_ParsesMarkedElements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Query().Get("k"), "review") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`<html><body>
			<div class="review-text"><span>Excellent   build quality,</span><script>var x = 1;</script> would buy again</div>
			<div class="other">ignored text that is long enough to count</div>
			<div data-hook="review-body"><style>.a{}</style>Terrible battery, broke after a week</div>
		</body></html>`))
	}))
	defer srv.Close()

	src := NewHTMLReviewSource("marketplace", srv.URL+"/s?k=%s", nil, time.Second)
	reviews, err := src.Fetch(context.Background(), "desk lamp")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("reviews = %d, want 2", len(reviews))
	}
	if reviews[0].Text != "Excellent build quality, would buy again" {
		t.Errorf("text = %q", reviews[0].Text)
	}
	if reviews[0].Rating != 5 || reviews[1].Rating != 2 {
		t.Errorf("ratings = %v, %v", reviews[0].Rating, reviews[1].Rating)
	}
}

func TestReviewQueryAndSentiment(t *testing.T) {
	if got := ReviewQuery("Sony WH-1000XM5, Wireless Headphones!"); got != "sony wh 1000xm5" {
		t.Errorf("ReviewQuery() = %q", got)
	}
	tests := map[string]float64{
		"worst purchase, total scam": 1,
		"bad fit":                    2,
		"absolutely perfect":         5,
		"pretty good":                4,
		"it exists":                  3,
	}
	for text, want := range tests {
		if got := SentimentRating(text); got != want {
			t.Errorf("SentimentRating(%q) = %v, want %v", text, got, want)
		}
	}
}
