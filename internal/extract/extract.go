// Package extract pulls candidate links out of fetched page markup. The
// crawl engine treats it as an external collaborator: it consumes page
// bodies and yields candidate URLs, nothing more.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Links parses body and returns the absolute http(s) URLs referenced by
// anchor tags, resolved against base, fragments stripped, deduplicated
// within the page. A parse failure yields an empty list; link discovery is
// never fatal to the session.
func Links(base *url.URL, body []byte) []string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	doc := goquery.NewDocumentFromNode(root)

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		text := resolved.String()
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		links = append(links, text)
	})
	return links
}
