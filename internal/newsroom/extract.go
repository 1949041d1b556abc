package newsroom

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/logger"
)

// articleURLRe selects newsroom links worth scraping.
var articleURLRe = regexp.MustCompile(`(?i)fiber|broadband|expan|gig|launch|rural`)

var (
	headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+?)\s*#*\s*$`)
	dateRe    = regexp.MustCompile(`\b(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	countyRe  = regexp.MustCompile(`\b((?:[A-Z][a-z]+\s){0,2}[A-Z][a-z]+)\s+County,\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\b`)

	// datelines such as **CHARLOTTE, N.C. —** or **Columbus, Ohio** -
	datelineRe = regexp.MustCompile(`\*\*\s*([A-Z][A-Za-z .'-]+?),\s+([A-Z][A-Za-z.]+(?:\s[A-Z][a-z]+)?)\s*(?:\*\*\s*[—–-]|[—–-]+\s*\*\*)`)
	zipTokenRe = regexp.MustCompile(`\b\d{5}\b`)
)

// Article is what one newsroom page yields.
type Article struct {
	URL         string
	Title       string
	PublishDate string
	Locations   []string
	PlaceNames  []string
	ZipCodes    []string
}

// IsArticleURL reports whether a newsroom link looks like a fiber launch story.
func IsArticleURL(u string) bool {
	return articleURLRe.MatchString(u)
}

// ExtractArticle pulls the signal fields out of a page's markdown.
func ExtractArticle(url, metaTitle, markdown string) Article {
	return Article{
		URL:         url,
		Title:       ExtractTitle(markdown, metaTitle),
		PublishDate: ExtractPublishDate(markdown),
		Locations:   ExtractLocations(markdown),
		PlaceNames:  ExtractPlaceNames(markdown),
		ZipCodes:    ExtractZipCodes(markdown),
	}
}

// ExtractTitle returns the first markdown heading, falling back to the page metadata title.
func ExtractTitle(markdown, fallback string) string {
	if m := headingRe.FindStringSubmatch(markdown); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(fallback)
}

// ExtractPublishDate finds the first "Month D, YYYY" date and renders it as YYYY-MM-DD.
func ExtractPublishDate(text string) string {
	for _, m := range dateRe.FindAllStringSubmatch(text, -1) {
		month := m[1]
		if len(month) > 3 {
			month = month[:3]
		}
		t, err := time.Parse("Jan 2 2006", month+" "+m[2]+" "+m[3])
		if err != nil {
			continue
		}
		return t.Format("2006-01-02")
	}
	return ""
}

// ExtractLocations returns county mentions ("Wake County, North Carolina") followed by press
// release datelines ("Charlotte, N.C."), deduplicated in order of appearance.
func ExtractLocations(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(loc string) {
		key := strings.ToLower(loc)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, loc)
	}

	for _, m := range countyRe.FindAllStringSubmatch(text, -1) {
		add(m[1] + " County, " + m[2])
	}
	for _, m := range datelineRe.FindAllStringSubmatch(text, -1) {
		add(titleCase(strings.TrimSpace(m[1])) + ", " + m[2])
	}
	return out
}

func titleCase(s string) string {
	if strings.ToUpper(s) != s {
		return s
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ExtractZipCodes returns the plausible ZIP tokens in text.
func ExtractZipCodes(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range zipTokenRe.FindAllString(text, -1) {
		if seen[tok] || !plausibleZip(tok) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func plausibleZip(tok string) bool {
	n, err := strconv.Atoi(tok)
	if err != nil || n < 501 || n%1000 == 0 {
		return false
	}
	// years never reach here: zipTokenRe only matches whole five-digit tokens
	return strings.Count(tok, tok[:1]) != len(tok)
}

const maxNERInput = 20000

// ExtractPlaceNames runs named-entity recognition and keeps geo-political entities.
func ExtractPlaceNames(text string) []string {
	if len(text) > maxNERInput {
		text = text[:maxNERInput]
	}
	text = stripMarkdown(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	doc, err := prose.NewDocument(text)
	if err != nil {
		logger.Warn("Entity extraction failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, ent := range doc.Entities() {
		if ent.Label != "GPE" {
			continue
		}
		name := strings.TrimSpace(ent.Text)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

var markdownNoise = strings.NewReplacer("**", "", "__", "", "#", "", "*", "", "`", "")

var linkRe = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)

func stripMarkdown(s string) string {
	return markdownNoise.Replace(linkRe.ReplaceAllString(s, "$1"))
}
