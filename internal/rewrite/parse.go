package rewrite

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// ErrIncomplete is returned when the model output lacks a required field.
var ErrIncomplete = errors.New("rewrite incomplete")

// DefaultCategory is used when the model returns a category outside Categories.
const DefaultCategory = "actualite"

// Categories lists the accepted article categories.
var Categories = []string{"actualite", "culture", "sport", "economie", "societe", "politique"}

type payload struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	Content         string   `json:"content"`
	Excerpt         string   `json:"excerpt"`
	Keywords        []string `json:"keywords"`
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
}

// Parse decodes a model completion into a Rewrite.
// Code fences and any prose before the first brace are ignored.
func Parse(text string) (news.Rewrite, error) {
	raw := jsonObject(text)
	if raw == "" {
		return news.Rewrite{}, fmt.Errorf("parse rewrite: no json object in output")
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return news.Rewrite{}, fmt.Errorf("parse rewrite: %w", err)
	}

	var missing []string
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(p.Content) == "" {
		missing = append(missing, "content")
	}
	if strings.TrimSpace(p.Excerpt) == "" {
		missing = append(missing, "excerpt")
	}
	if len(missing) > 0 {
		return news.Rewrite{}, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	keywords := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return news.Rewrite{
		Title:           strings.TrimSpace(p.Title),
		MetaDescription: strings.TrimSpace(p.MetaDescription),
		Content:         strings.TrimSpace(p.Content),
		Excerpt:         strings.TrimSpace(p.Excerpt),
		Keywords:        keywords,
		Category:        normalizeCategory(p.Category),
		Confidence:      clamp(p.Confidence),
	}, nil
}

func jsonObject(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func normalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return DefaultCategory
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
