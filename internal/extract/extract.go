// Package extract turns a lianjia results page into listing records.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

// FragmentSelector matches one listing entry on a results page.
const FragmentSelector = "li.clear.LOGVIEWDATA.LOGCLICKDATA"

const houseInfoSeparator = "|"

// Extractor parses result-page markup. It holds no state between calls.
type Extractor struct {
	fragment string
	logger   *zap.Logger
	// inspect, when set, runs on each fragment before its fields are read.
	inspect func(*goquery.Selection)
}

// New returns an Extractor using FragmentSelector.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fragment: FragmentSelector, logger: logger}
}

// Extract returns one record per listing fragment in document order. Markup without
// fragments, or markup that cannot be parsed, yields an empty slice.
func (e *Extractor) Extract(markup string) []listing.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		e.logger.Warn("unparsable markup", zap.Error(err))
		return []listing.Record{}
	}
	fragments := doc.Find(e.fragment)
	if fragments.Length() == 0 {
		e.logger.Info("no listing fragments found")
		return []listing.Record{}
	}

	records := make([]listing.Record, 0, fragments.Length())
	fragments.Each(func(i int, s *goquery.Selection) {
		rec, err := e.parseFragment(s)
		if err != nil {
			e.logger.Warn("skipping listing fragment", zap.Int("index", i), zap.Error(err))
			return
		}
		records = append(records, rec)
	})
	return records
}

func (e *Extractor) parseFragment(s *goquery.Selection) (rec listing.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse fragment: %v", r)
		}
	}()

	if e.inspect != nil {
		e.inspect(s)
	}
	rec = listing.NewRecord()

	if title := s.Find(".title a").First(); title.Length() > 0 {
		rec.Title = strippedText(title)
		rec.DetailLink = title.AttrOr("href", listing.Unknown)
		rec.ListingID = title.AttrOr("data-housecode", "")
	}

	if pos := s.Find(".positionInfo").First(); pos.Length() > 0 {
		anchors := pos.Find("a")
		if anchors.Length() > 0 {
			rec.CommunityName = strippedText(anchors.Eq(0))
		}
		if anchors.Length() > 1 {
			rec.District = strippedText(anchors.Eq(1))
		}
	}

	if info := s.Find(".houseInfo").First(); info.Length() > 0 {
		parts := strings.Split(strippedText(info), houseInfoSeparator)
		for i, field := range rec.BasicInfo() {
			if i >= len(parts) {
				break
			}
			*field = strings.TrimSpace(parts[i])
		}
	}

	if follow := s.Find(".followInfo").First(); follow.Length() > 0 {
		rec.FollowInfo = strippedText(follow)
	}

	s.Find(".tag").First().Find("span").Each(func(_ int, span *goquery.Selection) {
		rec.Tags = append(rec.Tags, strippedText(span))
	})

	if total := s.Find(".totalPrice").First(); total.Length() > 0 {
		rec.TotalPrice = strippedText(total)
	}
	if unit := s.Find(".unitPrice").First(); unit.Length() > 0 {
		rec.UnitPrice = strippedText(unit)
	}
	return rec, nil
}

// strippedText concatenates every descendant text node after trimming each one.
func strippedText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		appendText(&b, n)
	}
	return b.String()
}

func appendText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(strings.TrimSpace(n.Data))
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(b, c)
	}
}
