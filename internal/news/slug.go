package news

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugBase = 50

// Slugify lowercases s, strips accents and joins alphanumeric runs with dashes.
// The result is at most 50 characters and never starts or ends with a dash.
func Slugify(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	dash := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugBase {
		slug = strings.TrimRight(slug[:maxSlugBase], "-")
	}
	return slug
}

// ArticleSlug builds the article slug from its title and publish date.
func ArticleSlug(title string, date time.Time) string {
	base := Slugify(title)
	if base == "" {
		base = "article"
	}
	return base + "-" + date.UTC().Format("2006-01-02")
}
