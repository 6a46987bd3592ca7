package rewrite

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// ValidatorConfig holds the publish-readiness thresholds.
type ValidatorConfig struct {
	TitleMax      int
	MetaMax       int
	ContentMin    int
	ExcerptMin    int
	KeywordsMin   int
	LocalityTerms []string
}

// DefaultValidatorConfig returns the production thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		TitleMax:      60,
		MetaMax:       160,
		ContentMin:    1000,
		ExcerptMin:    50,
		KeywordsMin:   3,
		LocalityTerms: []string{"lyon", "rhône", "métropole", "lyonnais"},
	}
}

// Validator checks that a rewrite is complete enough to publish.
type Validator struct {
	cfg ValidatorConfig
}

var _ news.Validator = (*Validator)(nil)

// NewValidator builds a validator. Lengths are counted in runes.
func NewValidator(cfg ValidatorConfig) *Validator {
	terms := make([]string, 0, len(cfg.LocalityTerms))
	for _, t := range cfg.LocalityTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	cfg.LocalityTerms = terms
	return &Validator{cfg: cfg}
}

// Validate returns every failing rule joined together, or nil.
func (v *Validator) Validate(r news.Rewrite) error {
	var errs []error

	title := utf8.RuneCountInString(strings.TrimSpace(r.Title))
	if title == 0 {
		errs = append(errs, errors.New("title is empty"))
	} else if v.cfg.TitleMax > 0 && title > v.cfg.TitleMax {
		errs = append(errs, fmt.Errorf("title has %d runes, max %d", title, v.cfg.TitleMax))
	}

	meta := utf8.RuneCountInString(strings.TrimSpace(r.MetaDescription))
	if meta == 0 {
		errs = append(errs, errors.New("meta description is empty"))
	} else if v.cfg.MetaMax > 0 && meta > v.cfg.MetaMax {
		errs = append(errs, fmt.Errorf("meta description has %d runes, max %d", meta, v.cfg.MetaMax))
	}

	if n := utf8.RuneCountInString(r.Content); n < v.cfg.ContentMin {
		errs = append(errs, fmt.Errorf("content has %d runes, min %d", n, v.cfg.ContentMin))
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(r.Excerpt)); n < v.cfg.ExcerptMin {
		errs = append(errs, fmt.Errorf("excerpt has %d runes, min %d", n, v.cfg.ExcerptMin))
	}
	if len(r.Keywords) < v.cfg.KeywordsMin {
		errs = append(errs, fmt.Errorf("%d keywords, min %d", len(r.Keywords), v.cfg.KeywordsMin))
	}

	if len(v.cfg.LocalityTerms) > 0 {
		body := strings.ToLower(r.Content)
		local := false
		for _, term := range v.cfg.LocalityTerms {
			if strings.Contains(body, term) {
				local = true
				break
			}
		}
		if !local {
			errs = append(errs, errors.New("content does not mention the locality"))
		}
	}

	return errors.Join(errs...)
}
