package service

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ==================== Classifier ====================

// ClassifierInput the post fields a classifier looks at
type ClassifierInput struct {
	Title    string
	Body     string
	URL      string
	Upvotes  int
	Comments int
	Created  time.Time
}

// Classification result of classifying one post
type Classification struct {
	IsRealProduct      bool
	EngagementScore    float64
	ProductName        string
	Prices             []string
	HasMarketplaceLink bool
	Category           string
	Signals            []string
	RejectReason       string
}

// Classifier decides whether a post is about a purchasable product.
// Implementations must be pure: the same input and now give the same output.
type Classifier interface {
	Classify(in ClassifierInput, now time.Time) Classification
}

// signal family names
const (
	SignalBrand       = "brand"
	SignalProductLine = "product_line"
	SignalCategory    = "category_noun"
	SignalPurchase    = "purchase_intent"
	SignalPrice       = "price"
	SignalMarketplace = "marketplace_url"
)

var (
	brandPattern = regexp.MustCompile(`(?i)\b(apple|samsung|sony|lg|dell|hp|lenovo|asus|acer|canon|nikon|nike|adidas|amazon|google|microsoft|intel|amd|nvidia)\s+[\w\s-]+`)

	productLinePattern = regexp.MustCompile(`(?i)\b(iphone|galaxy|pixel|macbook|surface|thinkpad|airpods|echo|kindle|fire\s?stick|chromecast|roku|apple\s?watch|fitbit)[\w\s-]*`)

	categoryNounPattern = regexp.MustCompile(`(?i)\b(wireless\s+earbuds|bluetooth\s+speaker|gaming\s+chair|mechanical\s+keyboard|coffee\s+maker|air\s+fryer|robot\s+vacuum|smart\s+watch|fitness\s+tracker|dash\s+cam|power\s+bank|phone\s+case|laptop\s+stand|monitor\s+arm|desk\s+lamp|office\s+chair|standing\s+desk|portable\s+charger|wireless\s+charger|usb\s+hub|hdmi\s+cable|ethernet\s+cable|surge\s+protector|extension\s+cord|wall\s+mount|phone\s+holder|car\s+mount|bike\s+rack|water\s+bottle|travel\s+mug|screen\s+protector|tempered\s+glass|backpack|luggage|suitcase|wallet|purse|sunglasses|headphones|earphones|speakers|microphone|webcam|keyboard|mousepad|mouse|monitor|tablet|laptop|charger|adapter|watch|phone|cable|dock|tv)\b`)

	purchasePattern = regexp.MustCompile(`(?i)\b(bought|purchased|ordered|got|received|delivered|arrived|unboxed|reviewed|review|using|tried|tested|owned|recommend|worth\s+buying|picked\s+up|found\s+this|check\s+out|look\s+at\s+this)\b`)

	pricePattern = regexp.MustCompile(`(?i)(\$\d+|\b\d+\s*dollars?\b|\b\d+\s*bucks?\b|\b(cheap|expensive|deal|sale|discount|price|cost|budget|affordable|worth\s+it)\b)`)

	negativePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(what|why|how|when|where|should\s+i|help|advice|question|discuss|opinion|thoughts|anyone|anybody|does\s+anyone|has\s+anyone)\b`),
		regexp.MustCompile(`(?i)\b(twisted\s+ankle|go-to|meal|tips|hacks|experience|terrible|wrong|problem|issue|broke|broken|failed|disappointed)\b`),
	}

	priceExtractors = []*regexp.Regexp{
		regexp.MustCompile(`\$\d+(?:\.\d{2})?`),
		regexp.MustCompile(`(?i)\d+\s*dollars?`),
		regexp.MustCompile(`(?i)\d+\s*bucks?`),
		regexp.MustCompile(`(?i)under\s*\$?\d+`),
		regexp.MustCompile(`(?i)around\s*\$?\d+`),
	}

	marketplaceDomains = []string{
		"amazon.com", "amzn.", "ebay.com", "etsy.com", "aliexpress.com",
		"alibaba.com", "walmart.com", "target.com", "bestbuy.com",
		"homedepot.com", "lowes.com", "wayfair.com", "overstock.com",
	}

	nameNoise = regexp.MustCompile(`[^\w\s-]+`)
)

// HeuristicClassifier regex-family classifier
type HeuristicClassifier struct {
	// MinEngagement a post must score strictly above this
	MinEngagement float64
}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{MinEngagement: 10}
}

func (c *HeuristicClassifier) Classify(in ClassifierInput, now time.Time) Classification {
	res := Classification{
		EngagementScore: EngagementScore(in.Upvotes, in.Comments, now.Sub(in.Created)),
		Prices:          ExtractPrices(in.Title + " " + in.Body),
	}

	texts := []string{in.Title, in.Body}
	families := []struct {
		name string
		re   *regexp.Regexp
	}{
		{SignalBrand, brandPattern},
		{SignalProductLine, productLinePattern},
		{SignalCategory, categoryNounPattern},
		{SignalPurchase, purchasePattern},
		{SignalPrice, pricePattern},
	}
	for _, f := range families {
		if anyMatch(f.re, texts) {
			res.Signals = append(res.Signals, f.name)
		}
	}
	res.HasMarketplaceLink = IsMarketplaceURL(in.URL)
	if res.HasMarketplaceLink {
		res.Signals = append(res.Signals, SignalMarketplace)
	}

	switch {
	case len(res.Signals) == 0:
		res.RejectReason = "no product signal"
	case hasNegative(texts):
		res.RejectReason = "discussion or complaint"
	case res.EngagementScore <= c.MinEngagement:
		res.RejectReason = "low engagement"
	default:
		res.IsRealProduct = true
		res.ProductName = ExtractProductName(in.Title, in.Body)
		res.Category = EstimateCategory(res.ProductName)
	}
	return res
}

func anyMatch(re *regexp.Regexp, texts []string) bool {
	for _, t := range texts {
		if t != "" && re.MatchString(t) {
			return true
		}
	}
	return false
}

func hasNegative(texts []string) bool {
	for _, re := range negativePatterns {
		if anyMatch(re, texts) {
			return true
		}
	}
	return false
}

// ==================== Scoring & extraction ====================

// EngagementScore (upvotes + 2*comments) decayed by age, never below 10% of the raw weight.
func EngagementScore(upvotes, comments int, age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	decay := math.Max(0.1, 1/(1+hours/24))
	return float64(upvotes+2*comments) * decay
}

// IsMarketplaceURL reports whether the link points at a known marketplace.
func IsMarketplaceURL(u string) bool {
	u = strings.ToLower(u)
	for _, d := range marketplaceDomains {
		if strings.Contains(u, d) {
			return true
		}
	}
	return false
}

// ExtractPrices price mentions in order of pattern, de-duplicated.
func ExtractPrices(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range priceExtractors {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// ExtractProductName tries brand, product line, then category noun before
// falling back to the title itself.
func ExtractProductName(title, body string) string {
	text := title + " " + body
	for _, re := range []*regexp.Regexp{brandPattern, productLinePattern, categoryNounPattern} {
		if m := re.FindString(text); m != "" {
			return CleanProductName(m)
		}
	}
	return CleanProductName(title)
}

// CleanProductName keeps at most four words. Model tokens with digits are
// upper-cased, everything else is title-cased.
func CleanProductName(name string) string {
	name = nameNoise.ReplaceAllString(name, " ")
	caser := cases.Title(language.English)

	words := make([]string, 0, 4)
	for _, w := range strings.Fields(name) {
		w = strings.Trim(w, "-_")
		if w == "" {
			continue
		}
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			w = strings.ToUpper(w)
		} else {
			w = caser.String(w)
		}
		words = append(words, w)
		if len(words) == 4 {
			break
		}
	}
	return strings.Join(words, " ")
}

// NameKey dedup key: lower-case alphanumerics and single spaces.
func NameKey(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
