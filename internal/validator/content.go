package validator

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/grantwell/scholarship-ingest/internal/dedup"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// defaultTitleSimilarity is the token overlap ratio above which the page title
// is considered a match for the candidate title.
const defaultTitleSimilarity = 0.5

// scholarshipTerms are domain markers a real scholarship page tends to carry.
var scholarshipTerms = []string{
	"scholarship", "scholarships", "grant", "fellowship", "bursary",
	"award", "tuition", "financial aid", "stipend", "applicant", "eligibility",
}

var applyTerms = []string{
	"apply now", "apply online", "start application", "submit application",
	"begin application", "apply today", "application form", "register to apply",
}

// spaMarkers flag client-rendered shells whose static HTML carries no content.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

var (
	phonePattern    = regexp.MustCompile(`(\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	deadlinePattern = regexp.MustCompile(`(?i)(deadline|apply by|due date|closes? on|applications? (close|due))`)
	datePattern     = regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(st|nd|rd|th)?,?\s+\d{4}|\d{1,2}/\d{1,2}/\d{2,4}`)
)

// HeuristicAnalyzer extracts content signals with rule-based checks over the
// parsed document. It is the default Analyzer; an NL model can replace it.
type HeuristicAnalyzer struct {
	TitleSimilarity float64
}

// NewHeuristicAnalyzer creates an analyzer with the default thresholds.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{TitleSimilarity: defaultTitleSimilarity}
}

// Analyze inspects the final page for scholarship-domain relevance, title
// overlap, an application mechanism, contact info, and deadline info. A
// client-rendered shell yields no signals: nothing verifiable is present in
// the static HTML.
func (a *HeuristicAnalyzer) Analyze(html []byte, candidate scholar.Candidate) ContentSignals {
	if len(html) == 0 || isClientShell(html) {
		return ContentSignals{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ContentSignals{}
	}

	text := strings.ToLower(doc.Text())
	return ContentSignals{
		LeadsToCorrectPage:     a.leadsToCorrectPage(text, candidate),
		TitleMatches:           a.titleMatches(doc, candidate.Title),
		ApplicationFormPresent: a.applicationMechanism(doc, text),
		ContactInfoPresent:     a.contactInfo(doc, text),
		DeadlineInfoPresent:    deadlinePattern.MatchString(text) || datePattern.MatchString(text),
	}
}

// leadsToCorrectPage requires at least one scholarship-domain term plus some
// overlap with the candidate's own title or eligibility vocabulary.
func (a *HeuristicAnalyzer) leadsToCorrectPage(text string, candidate scholar.Candidate) bool {
	domainHit := false
	for _, term := range scholarshipTerms {
		if strings.Contains(text, term) {
			domainHit = true
			break
		}
	}
	if !domainHit {
		return false
	}
	for _, token := range tokens(candidate.Title + " " + candidate.Eligibility) {
		if len(token) >= 4 && strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func (a *HeuristicAnalyzer) titleMatches(doc *goquery.Document, candidateTitle string) bool {
	threshold := a.TitleSimilarity
	if threshold <= 0 {
		threshold = defaultTitleSimilarity
	}
	pageTitles := []string{doc.Find("title").First().Text()}
	doc.Find("h1, h2").EachWithBreak(func(i int, s *goquery.Selection) bool {
		pageTitles = append(pageTitles, s.Text())
		return i < 8
	})
	for _, pageTitle := range pageTitles {
		if overlapRatio(candidateTitle, pageTitle) >= threshold {
			return true
		}
	}
	return false
}

// applicationMechanism looks for a form with inputs, or an explicit apply
// affordance on a link or button.
func (a *HeuristicAnalyzer) applicationMechanism(doc *goquery.Document, text string) bool {
	mechanism := false
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("input, select, textarea").Length() > 0 {
			mechanism = true
			return false
		}
		return true
	})
	if mechanism {
		return true
	}
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.ToLower(strings.TrimSpace(s.Text()))
		if strings.Contains(label, "apply") || strings.Contains(label, "register") {
			mechanism = true
			return false
		}
		return true
	})
	if mechanism {
		return true
	}
	for _, term := range applyTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func (a *HeuristicAnalyzer) contactInfo(doc *goquery.Document, text string) bool {
	if doc.Find(`a[href^="mailto:"], a[href^="tel:"]`).Length() > 0 {
		return true
	}
	if strings.Contains(text, "contact us") || strings.Contains(text, "contact information") {
		return true
	}
	return phonePattern.MatchString(text)
}

func isClientShell(html []byte) bool {
	if len(html) > 4096 {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(html, marker) {
			return true
		}
	}
	return false
}

// overlapRatio measures how much of the candidate title's vocabulary appears
// in the page title.
func overlapRatio(candidateTitle, pageTitle string) float64 {
	want := tokens(candidateTitle)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, token := range tokens(pageTitle) {
		have[token] = struct{}{}
	}
	matched := 0
	for _, token := range want {
		if _, ok := have[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func tokens(s string) []string {
	return strings.Fields(dedup.Normalize(s))
}
