package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Marker identifies a structural or textual signature in rendered markup.
// It matches when the selector finds at least one node or any phrase occurs literally.
type Marker struct {
	Selector string
	Phrases  []string
}

// IsZero reports whether the marker can never match.
func (m Marker) IsZero() bool {
	return strings.TrimSpace(m.Selector) == "" && len(nonEmpty(m.Phrases)) == 0
}

// Match evaluates the marker against a markup snapshot.
func (m Marker) Match(markup string) bool {
	if markup == "" || m.IsZero() {
		return false
	}
	if m.MatchPhrases(markup) {
		return true
	}
	return m.MatchSelector(markup)
}

// MatchPhrases reports whether any configured phrase appears in markup.
func (m Marker) MatchPhrases(markup string) bool {
	for _, phrase := range nonEmpty(m.Phrases) {
		if strings.Contains(markup, phrase) {
			return true
		}
	}
	return false
}

// MatchSelector reports whether the selector finds a node in markup.
func (m Marker) MatchSelector(markup string) bool {
	sel := strings.TrimSpace(m.Selector)
	if sel == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false
	}
	return doc.Find(sel).Length() > 0
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
