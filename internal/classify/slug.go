package classify

import (
	"regexp"
	"strings"
)

const maxSlugLen = 50

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slug derives a file stem from a judgement, e.g. "hero-summer-collection".
func Slug(j Judgement) string {
	typ := string(j.Type)
	if typ == "" {
		typ = string(Unknown)
	}
	desc := slugify(j.Description)
	// avoid "hero-hero-banner"
	desc = strings.TrimPrefix(desc, typ+"-")
	if desc == "" || desc == typ {
		return typ
	}

	slug := typ + "-" + desc
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		// cut at a word boundary
		if i := strings.LastIndex(slug, "-"); i > len(typ) {
			slug = slug[:i]
		}
	}
	return slug
}

func slugify(s string) string {
	slug := strings.ToLower(s)
	slug = slugInvalid.ReplaceAllString(slug, "-")
	slug = slugDashes.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
