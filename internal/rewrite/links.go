package rewrite

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

// Link is an internal link inserted into rewritten bodies.
type Link struct {
	Phrase string
	URL    string
}

// InsertLinks links the first whole-word, case-insensitive occurrence of each phrase found in text outside
// existing anchors. Phrases are tried in order and at most maxLinks links are added. Phrases already used as
// anchor text are skipped.
func InsertLinks(markup string, links []Link, maxLinks int) string {
	if maxLinks <= 0 || len(links) == 0 || markup == "" {
		return markup
	}
	anchored := anchorTexts(markup)
	added := 0
	for _, link := range links {
		if added >= maxLinks {
			break
		}
		phrase := strings.TrimSpace(link.Phrase)
		if phrase == "" || link.URL == "" || anchored[strings.ToLower(phrase)] {
			continue
		}
		out, ok := linkFirst(markup, phrase, link.URL)
		if !ok {
			continue
		}
		markup = out
		anchored[strings.ToLower(phrase)] = true
		added++
	}
	return markup
}

func phrasePattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(phrase) + `)($|[^\p{L}\p{N}_])`)
}

// linkFirst rewrites the first eligible text occurrence of phrase. Everything else is copied verbatim.
func linkFirst(markup, phrase, url string) (string, bool) {
	re := phrasePattern(phrase)
	z := xhtml.NewTokenizer(strings.NewReader(markup))
	var out bytes.Buffer
	depth := 0
	done := false
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		raw := z.Raw()
		switch tt {
		case xhtml.StartTagToken:
			if isAnchor(z) {
				depth++
			}
		case xhtml.EndTagToken:
			if isAnchor(z) && depth > 0 {
				depth--
			}
		case xhtml.TextToken:
			if done || depth > 0 {
				break
			}
			loc := re.FindSubmatchIndex(raw)
			if loc == nil {
				break
			}
			start, end := loc[4], loc[5]
			out.Write(raw[:start])
			out.WriteString(`<a href="` + html.EscapeString(url) + `" title="` + html.EscapeString(phrase) + `">`)
			out.Write(raw[start:end])
			out.WriteString(`</a>`)
			out.Write(raw[end:])
			done = true
			continue
		}
		out.Write(raw)
	}
	return out.String(), done
}

func anchorTexts(markup string) map[string]bool {
	texts := make(map[string]bool)
	z := xhtml.NewTokenizer(strings.NewReader(markup))
	depth := 0
	var current strings.Builder
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			return texts
		}
		switch tt {
		case xhtml.StartTagToken:
			if isAnchor(z) {
				depth++
				current.Reset()
			}
		case xhtml.EndTagToken:
			if isAnchor(z) && depth > 0 {
				depth--
				if text := strings.ToLower(strings.Join(strings.Fields(current.String()), " ")); text != "" {
					texts[text] = true
				}
			}
		case xhtml.TextToken:
			if depth > 0 {
				current.Write(z.Text())
			}
		}
	}
}

func isAnchor(z *xhtml.Tokenizer) bool {
	name, _ := z.TagName()
	return len(name) == 1 && (name[0] == 'a' || name[0] == 'A')
}
