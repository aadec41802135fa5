package grapp

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/prehled-vlaku/poller/internal/journey"
)

// Parser extracts route fields from a RouteInfo HTML fragment.
type Parser struct{}

// ParseRoute implements journey.DocumentParser.
func (Parser) ParseRoute(doc []byte) (journey.RawRoute, error) {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return journey.RawRoute{}, fmt.Errorf("failed to parse route document: %w", err)
	}

	var raw journey.RawRoute
	if d.Find("div.alertTitle").Length() > 0 {
		raw.Alert = true
		return raw, nil
	}

	raw.Carrier = text(d.Find("a.carrierRestrictionLink").First())

	// The current station is sometimes a link and sometimes a span.
	if cur := d.Find("#currentStation").First(); cur.Length() > 0 {
		raw.HasCurrentStation = true
		raw.CurrentStation = text(cur)
	}

	d.Find("div.route").First().ChildrenFiltered("div.row").Each(func(_ int, row *goquery.Selection) {
		stop := journey.RawStop{
			Name: text(row.ChildrenFiltered("div").First()),
		}
		row.Find("span").Each(func(_ int, span *goquery.Selection) {
			id, _ := span.Attr("id")
			stop.Fields = append(stop.Fields, journey.RawField{
				Value:          text(span),
				CurrentStation: id == "currentStation",
			})
		})
		raw.Stops = append(raw.Stops, stop)
	})

	return raw, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
