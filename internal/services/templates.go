package services

import "strings"

// Template families and their template files. The first entry is the primary
// template; the rest are the alternates a content job falls back to when
// generation against the primary fails.
var templateFamilies = map[string][]string{
	"corporate": {"corporate_slide.html", "corporate_minimal.html", "content_slide.html"},
	"startup":   {"startup_pitch.html", "startup_bold.html", "content_slide.html"},
	"academic":  {"academic_slide.html", "academic_dense.html", "content_slide.html"},
	"creative":  {"creative_slide.html", "creative_split.html", "content_slide.html"},
	"minimal":   {"content_slide.html", "title_body.html", "two_column.html"},
}

const defaultTemplateFamily = "minimal"

var familyKeywords = map[string][]string{
	"corporate": {"business", "corporate", "company", "professional", "quarterly"},
	"startup":   {"startup", "pitch", "funding", "investor", "launch"},
	"academic":  {"research", "academic", "study", "paper", "lecture", "thesis"},
	"creative":  {"creative", "design", "art", "portfolio", "innovative"},
}

type TemplateSelector interface {
	// SelectFamily resolves the template family: explicit style preference
	// first, then prompt keyword heuristics, then the minimal default.
	SelectFamily(prompt string, stylePrefs map[string]any) string
	// TemplatesFor returns the family's primary template plus alternates.
	TemplatesFor(family string) []string
}

type templateSelector struct{}

func NewTemplateSelector() TemplateSelector {
	return &templateSelector{}
}

func (s *templateSelector) SelectFamily(prompt string, stylePrefs map[string]any) string {
	if requested, ok := stylePrefs["template_family"].(string); ok {
		requested = strings.ToLower(strings.TrimSpace(requested))
		if _, known := templateFamilies[requested]; known {
			return requested
		}
	}

	promptLower := strings.ToLower(prompt)
	for _, family := range []string{"corporate", "startup", "academic", "creative"} {
		for _, kw := range familyKeywords[family] {
			if strings.Contains(promptLower, kw) {
				return family
			}
		}
	}
	return defaultTemplateFamily
}

func (s *templateSelector) TemplatesFor(family string) []string {
	if templates, ok := templateFamilies[family]; ok {
		out := make([]string, len(templates))
		copy(out, templates)
		return out
	}
	out := make([]string, len(templateFamilies[defaultTemplateFamily]))
	copy(out, templateFamilies[defaultTemplateFamily])
	return out
}
