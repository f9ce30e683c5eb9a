package acquire

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// lazy-loading attributes checked after src, in order
var srcAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-lazy", "data-url"}

// ImageSelector matches every element Extract looks at.
const ImageSelector = "img, picture > source"

// FragmentSelector is what a render session queries: whole <picture>
// elements, so each <source> keeps its sibling <img>, and bare images.
const FragmentSelector = "picture, img:not(picture img)"

// fragments sit directly in <body>, so a <source> may have lost its parent
const fragmentImageSelector = ImageSelector + ", body > source"

// Extractor turns markup into image candidates.
type Extractor struct {
	exclude []*regexp.Regexp
}

// NewExtractor compiles the exclude patterns. A candidate whose canonical
// URL matches any pattern is dropped.
func NewExtractor(excludePatterns []string) (*Extractor, error) {
	e := &Extractor{}
	for _, p := range excludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", p, err)
		}
		e.exclude = append(e.exclude, re)
	}
	return e, nil
}

// Extract parses an HTML document or fragment and returns deduplicated
// candidates in document order.
func (e *Extractor) Extract(html string, base *url.URL) ([]Candidate, error) {
	return e.extract(html, base, ImageSelector)
}

// ExtractFragments runs Extract over element markup returned by a render
// session's QueryElements.
func (e *Extractor) ExtractFragments(fragments []string, base *url.URL) ([]Candidate, error) {
	return e.extract("<html><body>"+strings.Join(fragments, "\n")+"</body></html>", base, fragmentImageSelector)
}

func (e *Extractor) extract(html string, base *url.URL, selector string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}

	// <base href> overrides the document URL for relative references
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b := resolve(base, href); b != "" {
			base, _ = url.Parse(b)
		}
	}

	var cands []Candidate
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		c, ok := candidateFrom(s, base)
		if !ok || e.excluded(c.URL()) {
			return
		}
		cands = append(cands, c)
	})
	return Dedupe(cands), nil
}

func (e *Extractor) excluded(u string) bool {
	for _, re := range e.exclude {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

func candidateFrom(s *goquery.Selection, base *url.URL) (Candidate, bool) {
	c := Candidate{
		Alt:    strings.TrimSpace(s.AttrOr("alt", "")),
		Title:  strings.TrimSpace(s.AttrOr("title", "")),
		Width:  atoi(s.AttrOr("width", "")),
		Height: atoi(s.AttrOr("height", "")),
	}

	if goquery.NodeName(s) == "source" && goquery.NodeName(s.Parent()) == "picture" {
		// <source> inherits the descriptive attributes of its sibling <img>
		img := s.Parent().Find("img").First()
		if c.Alt == "" {
			c.Alt = strings.TrimSpace(img.AttrOr("alt", ""))
		}
		if c.Title == "" {
			c.Title = strings.TrimSpace(img.AttrOr("title", ""))
		}
	}

	c.SourceURL = resolve(base, s.AttrOr("src", ""))
	for _, attr := range srcAttrs {
		if lazy := resolve(base, s.AttrOr(attr, "")); lazy != "" {
			// placeholders sit in src while the real image waits in data-*
			c.SourceURL = lazy
			break
		}
	}

	for _, attr := range []string{"srcset", "data-srcset"} {
		if v, ok := s.Attr(attr); ok {
			c.Variants = append(c.Variants, ParseSrcset(v, base)...)
		}
	}

	if c.SourceURL == "" && len(c.Variants) == 0 {
		return Candidate{}, false
	}
	return c, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
