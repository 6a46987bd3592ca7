package rewrite

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"
)

const systemPrompt = "Tu es un journaliste local expert de {{.Locality}}. " +
	"Tu réécris des articles en respectant l'éthique journalistique."

const userPrompt = `Réécris complètement cet article en respectant ces règles strictes.

ARTICLE ORIGINAL :
Titre : {{.Title}}
Contenu : {{.Content}}
Date : {{.Date}}

INSTRUCTIONS :
1. Réécris complètement l'article (au moins {{.MinWords}} mots).
2. Ne copie aucune phrase de l'original et garde tous les faits importants.
3. Ton neutre et journalistique, sans inventer de faits.
4. Ne cite jamais la source de l'article.
5. Nomme {{.Locality}} explicitement une seule fois au maximum.
6. Intègre naturellement le mot-clé : {{.Keyword}}.
7. Structure avec des sous-titres <h2> et n'utilise que les balises <h2>, <p>, <strong>, <em>, <ul>, <li>.

FORMAT DE RÉPONSE OBLIGATOIRE (JSON) :
{
  "title": "titre SEO (max 60 caractères)",
  "metaDescription": "description SEO (max 160 caractères)",
  "content": "article complet en HTML",
  "excerpt": "résumé en 2 ou 3 phrases",
  "keywords": ["mot-clé-1", "mot-clé-2", "mot-clé-3"],
  "category": "{{.Categories}}",
  "confidence": 0.85
}`

var (
	systemTmpl = template.Must(template.New("system").Parse(systemPrompt))
	userTmpl   = template.Must(template.New("user").Parse(userPrompt))
)

type promptData struct {
	Locality   string
	Title      string
	Content    string
	Date       string
	MinWords   int
	Keyword    string
	Categories string
}

func (s *Service) buildPrompt(title, content string, publishedAt time.Time) (string, string, error) {
	data := promptData{
		Locality:   s.cfg.Locality,
		Title:      title,
		Content:    Truncate(content, s.cfg.ContentBudget),
		Date:       publishedAt.Format("2006-01-02"),
		MinWords:   s.cfg.MinWords,
		Keyword:    pickKeyword(s.cfg.LocalKeywords, publishedAt),
		Categories: strings.Join(Categories, "|"),
	}
	var system, user bytes.Buffer
	if err := systemTmpl.Execute(&system, data); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	if err := userTmpl.Execute(&user, data); err != nil {
		return "", "", fmt.Errorf("render prompt: %w", err)
	}
	return system.String(), user.String(), nil
}

// Truncate cuts s to at most budget runes without splitting a rune.
func Truncate(s string, budget int) string {
	if budget <= 0 || utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := 0
	for i := range s {
		if runes == budget {
			return s[:i]
		}
		runes++
	}
	return s
}

// pickKeyword rotates the local keyword per article date so reruns stay stable.
func pickKeyword(keywords []string, at time.Time) string {
	if len(keywords) == 0 {
		return ""
	}
	r := rand.New(rand.NewPCG(uint64(at.Unix()), 0)) //nolint:gosec // not security sensitive
	return keywords[r.IntN(len(keywords))]
}
