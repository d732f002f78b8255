package listing

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"github.com/jgivc/rinexfetch/internal/common"
)

const anchorSelector = "a[href]"

// ParseLinks returns the href of every anchor in the document, in document order.
func ParseLinks(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrParseAnomaly, err)
	}

	var links []string
	doc.Find(anchorSelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})

	return links, nil
}
