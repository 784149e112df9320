package normalize

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"steamharvest/internal/domain"
)

var (
	whitespaceExpr = regexp.MustCompile(`\s+`)
	lineBreakExpr  = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// CleanHTML reduces store markup to plain text with collapsed whitespace.
func CleanHTML(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	markup = lineBreakExpr.ReplaceAllString(markup, "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return strings.TrimSpace(whitespaceExpr.ReplaceAllString(markup, " "))
	}
	doc.Find("script, style").Remove()

	return strings.TrimSpace(whitespaceExpr.ReplaceAllString(doc.Text(), " "))
}

// ParseUserTags extracts the community tag names from a store page.
// Malformed or missing markup yields no tags rather than an error.
func ParseUserTags(markup []byte) []string {
	if len(markup) == 0 {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil
	}

	var tags []string
	seen := map[string]struct{}{}
	doc.Find("a.app_tag").Each(func(_ int, sel *goquery.Selection) {
		tag := strings.TrimSpace(sel.Text())
		if tag == "" || tag == "+" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	})

	return tags
}

// ParseSupportedLanguages splits the marked-up language list by audio
// coverage. An asterisk marks full audio support; the footnote explaining
// the marker sits after the first line break and is dropped.
func ParseSupportedLanguages(raw string) domain.Languages {
	if strings.TrimSpace(raw) == "" {
		return domain.Languages{}
	}

	if idx := strings.Index(strings.ToLower(raw), "<br"); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "<strong>*</strong>", "*")

	var langs domain.Languages
	for _, part := range strings.Split(CleanHTML(raw), ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "*") {
			name = strings.TrimSpace(strings.TrimSuffix(name, "*"))
			if name != "" {
				langs.FullAudio = append(langs.FullAudio, name)
			}
			continue
		}
		langs.Subtitles = append(langs.Subtitles, name)
	}

	return langs
}

var requirementKeys = map[string]string{
	"os":               "os",
	"os *":             "os",
	"processor":        "processor",
	"memory":           "memory",
	"graphics":         "graphics",
	"directx":          "directx",
	"storage":          "storage",
	"hard drive":       "storage",
	"network":          "network",
	"sound":            "sound_card",
	"sound card":       "sound_card",
	"additional notes": "notes",
	"vr support":       "vr",
}

func parseRequirementTier(markup string) domain.RequirementTier {
	if strings.TrimSpace(markup) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	tier := domain.RequirementTier{}
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		label := strings.TrimSpace(li.Find("strong").First().Text())
		label = strings.TrimSpace(strings.TrimSuffix(label, ":"))
		if label == "" {
			return
		}

		key, ok := requirementKeys[strings.ToLower(label)]
		if !ok {
			key = strings.ReplaceAll(strings.ToLower(label), " ", "_")
		}

		value := strings.TrimSpace(whitespaceExpr.ReplaceAllString(li.Text(), " "))
		value = strings.TrimSpace(strings.TrimPrefix(value, label))
		value = strings.TrimSpace(strings.TrimPrefix(value, ":"))
		if value == "" {
			return
		}
		tier[key] = value
	})

	if len(tier) == 0 {
		return nil
	}
	return tier
}
