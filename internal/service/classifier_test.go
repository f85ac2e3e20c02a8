package service

import (
	"math"
	"reflect"
	"testing"
	"time"
)

var classifyNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHeuristicClassifier_Scenarios(t *testing.T) {
	c := NewHeuristicClassifier()

	tests := []struct {
		name      string
		in        ClassifierInput
		wantReal  bool
		wantName  string
		wantPrice string
	}{
		{
			name: "brand with model and price",
			in: ClassifierInput{
				Title:    "Just got the Sony WH-1000XM5, amazing sound for $350",
				Upvotes:  120,
				Comments: 30,
				Created:  classifyNow.Add(-2 * time.Hour),
			},
			wantReal:  true,
			wantName:  "Sony WH-1000XM5",
			wantPrice: "$350",
		},
		{
			name: "discussion question",
			in: ClassifierInput{
				Title:    "What's everyone's go-to breakfast?",
				Upvotes:  5000,
				Comments: 900,
				Created:  classifyNow.Add(-time.Hour),
			},
			wantReal: false,
		},
		{
			name: "marketplace link only",
			in: ClassifierInput{
				Title:    "This little lamp changed my desk setup",
				URL:      "https://www.amazon.com/dp/B0TEST",
				Upvotes:  80,
				Created:  classifyNow.Add(-3 * time.Hour),
			},
			wantReal: true,
		},
		{
			name: "product post with low engagement",
			in: ClassifierInput{
				Title:    "Bought a Kindle Paperwhite",
				Upvotes:  4,
				Comments: 1,
				Created:  classifyNow.Add(-time.Hour),
			},
			wantReal: false,
		},
		{
			name: "complaint",
			in: ClassifierInput{
				Title:    "My Samsung tablet broke after a week",
				Upvotes:  400,
				Created:  classifyNow.Add(-time.Hour),
			},
			wantReal: false,
		},
		{
			name: "no signal at all",
			in: ClassifierInput{
				Title:    "Sunset over the lake tonight",
				Upvotes:  900,
				Created:  classifyNow.Add(-time.Hour),
			},
			wantReal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.in, classifyNow)
			if got.IsRealProduct != tt.wantReal {
				t.Fatalf("IsRealProduct = %v, want %v (reason %q, signals %v)",
					got.IsRealProduct, tt.wantReal, got.RejectReason, got.Signals)
			}
			if tt.wantName != "" && got.ProductName != tt.wantName {
				t.Errorf("ProductName = %q, want %q", got.ProductName, tt.wantName)
			}
			if tt.wantPrice != "" {
				found := false
				for _, p := range got.Prices {
					if p == tt.wantPrice {
						found = true
					}
				}
				if !found {
					t.Errorf("Prices = %v, want to contain %s", got.Prices, tt.wantPrice)
				}
			}
		})
	}
}

func TestHeuristicClassifier_Deterministic(t *testing.T) {
	c := NewHeuristicClassifier()
	in := ClassifierInput{
		Title:    "Finally got the Anker power bank, worth every penny",
		Body:     "Paid around $40 on amazon.com",
		Upvotes:  300,
		Comments: 42,
		Created:  classifyNow.Add(-30 * time.Hour),
	}
	first := c.Classify(in, classifyNow)
	for i := 0; i < 5; i++ {
		if got := c.Classify(in, classifyNow); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestEngagementScore_DecaysToFloor(t *testing.T) {
	const ups, comments = 100, 20
	raw := float64(ups + 2*comments)

	if got := EngagementScore(ups, comments, 0); got != raw {
		t.Errorf("fresh score = %v, want %v", got, raw)
	}

	prev := math.Inf(1)
	for h := 0; h <= 240; h += 12 {
		got := EngagementScore(ups, comments, time.Duration(h)*time.Hour)
		if got > prev {
			t.Fatalf("score increased at %dh: %v > %v", h, got, prev)
		}
		if h < 216 && got >= prev {
			t.Fatalf("score not strictly decreasing at %dh", h)
		}
		prev = got
	}

	old := EngagementScore(ups, comments, 365*24*time.Hour)
	if math.Abs(old-0.1*raw) > 1e-9 {
		t.Errorf("floor = %v, want %v", old, 0.1*raw)
	}
}

func TestExtractPrices(t *testing.T) {
	got := ExtractPrices("was $99.99, now under $50 or 20 bucks, around $25 and $99.99 again")
	want := []string{"$99.99", "$50", "$25", "20 bucks", "under $50", "around $25"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractPrices() = %v, want %v", got, want)
	}
}

func TestCleanProductName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sony wh-1000xm5", "Sony WH-1000XM5"},
		{"  the   BEST!!! coffee maker ever made  ", "The Best Coffee Maker"},
		{"kindle", "Kindle"},
	}
	for _, tt := range tests {
		if got := CleanProductName(tt.in); got != tt.want {
			t.Errorf("CleanProductName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractProductName_Order(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Love my new apple macbook air", "Apple Macbook Air"},
		{"This kindle paperwhite is great", "Kindle Paperwhite Is Great"},
		{"Finally a power bank that lasts", "Power Bank"},
		{"Look at this beauty", "Look At This Beauty"},
	}
	for _, tt := range tests {
		if got := ExtractProductName(tt.title, ""); got != tt.want {
			t.Errorf("ExtractProductName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestNameKey(t *testing.T) {
	if got := NameKey("Sony WH-1000XM5!"); got != "sony wh1000xm5" {
		t.Errorf("NameKey() = %q", got)
	}
	if NameKey("  Kindle   Paperwhite ") != NameKey("kindle paperwhite") {
		t.Error("keys should ignore case and spacing")
	}
}
