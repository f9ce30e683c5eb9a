package acquire

import (
	"net/url"
	"strconv"
	"strings"
)

// Variant is one entry of a resolution-variant descriptor (srcset).
type Variant struct {
	URL     string
	Width   int     // "w" descriptor, 0 when absent
	Density float64 // "x" descriptor, 0 when absent
}

// Candidate is an image discovered on the page. Candidates are immutable
// once extracted.
type Candidate struct {
	SourceURL string
	Variants  []Variant
	Index     int // discovery order, 0-based

	Alt    string
	Title  string
	Width  int // declared width attribute, 0 when unknown
	Height int
}

// URL returns the canonical download URL: the variant with the largest
// declared width, else the largest density, else the plain source URL.
// Ties keep the earlier variant.
func (c Candidate) URL() string {
	best := -1
	for i, v := range c.Variants {
		if v.Width > 0 && (best < 0 || v.Width > c.Variants[best].Width) {
			best = i
		}
	}
	if best >= 0 {
		return c.Variants[best].URL
	}

	for i, v := range c.Variants {
		if best < 0 || v.Density > c.Variants[best].Density {
			best = i
		}
	}
	if best >= 0 && c.Variants[best].Density > 0 {
		return c.Variants[best].URL
	}
	if c.SourceURL == "" && len(c.Variants) > 0 {
		return c.Variants[0].URL
	}
	return c.SourceURL
}

// ParseSrcset parses a srcset attribute value, resolving every URL against
// base. Entries without a usable URL are dropped.
func ParseSrcset(srcset string, base *url.URL) []Variant {
	var out []Variant
	for _, entry := range splitSrcset(srcset) {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		u := resolve(base, fields[0])
		if u == "" {
			continue
		}
		v := Variant{URL: u}
		if len(fields) > 1 {
			d := strings.ToLower(fields[1])
			switch {
			case strings.HasSuffix(d, "w"):
				v.Width, _ = strconv.Atoi(strings.TrimSuffix(d, "w"))
			case strings.HasSuffix(d, "x"):
				v.Density, _ = strconv.ParseFloat(strings.TrimSuffix(d, "x"), 64)
			}
		}
		out = append(out, v)
	}
	return out
}

// splitSrcset splits on commas that separate entries. A comma directly
// inside a URL (no following whitespace and no descriptor yet) is kept.
func splitSrcset(s string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s); i++ {
		if s[i] != ',' {
			continue
		}
		entry := strings.TrimSpace(s[start:i])
		next := i + 1
		followedBySpace := next >= len(s) || s[next] == ' ' || s[next] == '\t' || s[next] == '\n'
		if strings.ContainsAny(entry, " \t\n") || followedBySpace {
			out = append(out, entry)
			start = next
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// resolve makes ref absolute against base. data: URIs, javascript: links and
// unparsable references resolve to "".
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "blob:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// identity is the deduplication key of a URL: scheme and host lowercased,
// fragment dropped.
func identity(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// Dedupe drops candidates whose canonical URL was already seen, keeping the
// first occurrence and renumbering Index in discovery order.
func Dedupe(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := identity(c.URL())
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.Index = len(out)
		out = append(out, c)
	}
	return out
}
