package classify

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultCategories is the keyword table used when settings name none.
var DefaultCategories = map[SemanticType][]string{
	Hero:    {"hero", "banner", "header", "cover", "masthead", "slider", "jumbotron"},
	Product: {"product", "shop", "item", "sku", "catalog", "pack"},
	Detail:  {"detail", "closeup", "close-up", "zoom", "feature"},
	Icon:    {"icon", "logo", "favicon", "sprite", "badge", "avatar"},
	News:    {"news", "blog", "article", "press", "post"},
	Team:    {"team", "staff", "people", "portrait", "founder", "employee"},
}

var (
	nonWord      = regexp.MustCompile(`[^a-z0-9]+`)
	sizeSuffix   = regexp.MustCompile(`[-_](\d+x\d+|\d+w|@\dx|scaled|thumb|large|medium|small)$`)
	positionName = regexp.MustCompile(`^image_\d+$`)
)

// Rules classifies from what is already known about an artifact. It never
// fails.
type Rules struct {
	categories map[SemanticType][]string
}

// NewRules builds the rule tier. Unknown type names in categories are
// ignored.
func NewRules(categories map[string][]string) *Rules {
	r := &Rules{categories: make(map[SemanticType][]string)}
	if len(categories) == 0 {
		for t, kws := range DefaultCategories {
			r.categories[t] = kws
		}
		return r
	}
	for name, kws := range categories {
		t, ok := ParseType(name)
		if !ok {
			continue
		}
		for _, kw := range kws {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				r.categories[t] = append(r.categories[t], kw)
			}
		}
	}
	return r
}

// Hints lists type names and keywords for the oracle prompt.
func (r *Rules) Hints() []string {
	var hints []string
	for _, t := range Types {
		if kws := r.categories[t]; len(kws) > 0 {
			hints = append(hints, string(t)+" ("+strings.Join(kws, "/")+")")
		}
	}
	return hints
}

// Classify combines keyword, dimension and position signals; the strongest
// wins with ties going to the earlier type.
func (r *Rules) Classify(in Input) Judgement {
	best := Judgement{Type: Unknown, Confidence: 2}
	consider := func(j Judgement) {
		if j.better(best) {
			best = j
		}
	}

	words := tokens(in)
	for _, t := range Types {
		hits := 0
		for _, kw := range r.categories[t] {
			if containsWord(words, kw) {
				hits++
			}
		}
		if hits > 0 {
			consider(Judgement{Type: t, Confidence: min(10, 5+2*hits)})
		}
	}

	w, h, ok := dimensions(in)
	switch {
	case ok && w <= 128 && h <= 128:
		consider(Judgement{Type: Icon, Confidence: 7})
	case !ok && in.MIME == "image/svg+xml" && in.Size > 0 && in.Size < 4096:
		consider(Judgement{Type: Icon, Confidence: 6})
	case ok && w >= 1200 && w >= 2*h:
		consider(Judgement{Type: Hero, Confidence: 7})
	case ok && in.Index == 0 && w >= 1000:
		consider(Judgement{Type: Hero, Confidence: 6})
	}

	best.Description = describe(in)
	return best
}

// tokens collects lowercase words from the URL path, alt, title and name.
func tokens(in Input) string {
	var parts []string
	if u, err := url.Parse(in.SourceURL); err == nil {
		parts = append(parts, u.Path)
	}
	parts = append(parts, in.Alt, in.Title)
	if stem := strings.TrimSuffix(in.Name, path.Ext(in.Name)); !positionName.MatchString(stem) {
		parts = append(parts, stem)
	}
	joined := nonWord.ReplaceAllString(strings.ToLower(strings.Join(parts, " ")), " ")
	return " " + joined + " "
}

func containsWord(words, kw string) bool {
	kw = strings.TrimSpace(nonWord.ReplaceAllString(kw, " "))
	return kw != "" && strings.Contains(words, " "+kw+" ")
}

// describe picks the best human text available: alt, title, then the
// source file name without size suffixes.
func describe(in Input) string {
	for _, s := range []string{in.Alt, in.Title} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	u, err := url.Parse(in.SourceURL)
	if err != nil {
		return ""
	}
	stem := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	for sizeSuffix.MatchString(stem) {
		stem = sizeSuffix.ReplaceAllString(stem, "")
	}
	if stem == "." || stem == "/" || positionName.MatchString(stem) {
		return ""
	}
	return stem
}

func dimensions(in Input) (int, int, bool) {
	f, err := os.Open(in.Path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// isRaster reports whether the oracle can look at the artifact.
func isRaster(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
