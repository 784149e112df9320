package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"steamharvest/internal/domain"
)

var currencyExpr = regexp.MustCompile(`^[A-Z]{3}$`)

// Validator enforces the record contract. Validation is pure: no coercion,
// no partial acceptance, and every broken rule is reported.
type Validator struct{}

// Validate returns every contract violation in the record; an empty slice
// means the record may be persisted.
func (Validator) Validate(rec domain.CanonicalRecord) []domain.Violation {
	var violations []domain.Violation
	add := func(field, rule string) {
		violations = append(violations, domain.Violation{Field: field, Rule: rule})
	}

	if rec.AppID <= 0 {
		add("app_id", "must be positive")
	}
	if strings.TrimSpace(rec.Name) == "" {
		add("name", "must not be empty")
	}
	if rec.Kind != domain.KindGame && rec.Kind != domain.KindDLC {
		add("type", `must be "game" or "dlc"`)
	}
	if !validHTTPURL(rec.StoreURL) {
		add("store_url", "must be an absolute http(s) url")
	}
	if rec.HeaderImage != "" && !validHTTPURL(rec.HeaderImage) {
		add("header_image", "must be an absolute http(s) url")
	}
	if strings.TrimSpace(rec.ShortDescription) == "" {
		add("short_description", "must not be empty")
	}
	if rec.ReleaseDate == "" && !rec.ComingSoon {
		add("release_date", "must be set for released entries")
	}
	if len(rec.Genres) == 0 {
		add("genres", "must not be empty")
	}

	if len(rec.Platforms) == 0 {
		add("platforms", "must not be empty")
	}
	for _, p := range rec.Platforms {
		switch p {
		case domain.PlatformWindows, domain.PlatformMac, domain.PlatformLinux:
		default:
			add("platforms", fmt.Sprintf("unknown platform %q", p))
		}
	}

	if rec.Reviews.Total < 0 {
		add("reviews.total", "must not be negative")
	}
	if rec.Reviews.Positive < 0 || rec.Reviews.Positive > rec.Reviews.Total {
		add("reviews.positive", "must be between 0 and reviews.total")
	}
	if rec.Reviews.PositivePct < 0 || rec.Reviews.PositivePct > 100 {
		add("reviews.positive_pct", "must be between 0 and 100")
	}

	if rec.Price.Initial < 0 {
		add("price.initial", "must not be negative")
	}
	if rec.Price.Final < 0 {
		add("price.final", "must not be negative")
	}
	if rec.Price.DiscountPct < 0 || rec.Price.DiscountPct > 100 {
		add("price.discount_pct", "must be between 0 and 100")
	}
	if priced := rec.Price.Initial > 0 || rec.Price.Final > 0; priced && !currencyExpr.MatchString(rec.Price.Currency) {
		add("price.currency", "must be a three-letter uppercase code")
	}

	if rec.Achievements < 0 {
		add("achievements", "must not be negative")
	}
	if rec.MetacriticScore != nil && (*rec.MetacriticScore < 0 || *rec.MetacriticScore > 100) {
		add("metacritic_score", "must be between 0 and 100")
	}

	return violations
}

func validHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
