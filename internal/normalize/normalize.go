package normalize

import (
	"math"
	"strings"
	"time"

	"steamharvest/internal/domain"
)

// Normalizer merges source payloads into canonical records. The entity API
// wins every overlapping field; the store page contributes only the
// community tags it alone carries.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer builds a normalizer stamping records with wall-clock time.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize produces the canonical record for one work item. Missing
// auxiliary markup degrades to an empty tag list, never an error.
func (n *Normalizer) Normalize(item domain.WorkItem, details *domain.AppDetails, reviews *domain.ReviewSummary, storeHTML []byte) domain.CanonicalRecord {
	rec := domain.CanonicalRecord{
		AppID:     item.AppID,
		StoreURL:  item.StoreURL,
		FetchedAt: n.now().UTC(),
	}

	if details != nil {
		rec.Name = strings.TrimSpace(details.Name)
		rec.Kind = kindOf(details.Type)
		rec.HeaderImage = strings.TrimSpace(details.HeaderImage)
		rec.ShortDescription = CleanHTML(details.ShortDescription)
		rec.DetailedDescription = CleanHTML(details.DetailedDescription)
		rec.IsFree = details.IsFree
		rec.ReleaseDate = strings.TrimSpace(details.ReleaseDate.Date)
		rec.ComingSoon = details.ReleaseDate.ComingSoon
		rec.Developers = trimmed(details.Developers)
		rec.Publishers = trimmed(details.Publishers)
		rec.Genres = entryNames(details.Genres)
		rec.Categories = entryNames(details.Categories)
		rec.Platforms = platformList(details.Platforms)
		rec.ControllerSupport = details.ControllerSupport
		rec.Languages = ParseSupportedLanguages(details.SupportedLanguages)
		rec.SystemRequirements = systemRequirements(details)
		rec.DLC = details.DLC
		rec.Achievements = details.Achievements.Total
		rec.Price = priceOf(details)
		if details.Metacritic != nil {
			score := details.Metacritic.Score
			rec.MetacriticScore = &score
		}
	}

	if reviews != nil {
		rec.Reviews = domain.Reviews{
			Total:       reviews.TotalReviews,
			Positive:    reviews.TotalPositive,
			PositivePct: positivePct(reviews.TotalPositive, reviews.TotalReviews),
		}
	}

	rec.UserTags = ParseUserTags(storeHTML)

	return rec
}

func kindOf(apiType string) string {
	if strings.EqualFold(strings.TrimSpace(apiType), domain.KindDLC) {
		return domain.KindDLC
	}
	return domain.KindGame
}

func entryNames(entries []domain.NamedEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := strings.TrimSpace(entry.Description); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func platformList(flags domain.PlatformFlags) []string {
	var platforms []string
	if flags.Windows {
		platforms = append(platforms, domain.PlatformWindows)
	}
	if flags.Mac {
		platforms = append(platforms, domain.PlatformMac)
	}
	if flags.Linux {
		platforms = append(platforms, domain.PlatformLinux)
	}
	return platforms
}

func priceOf(details *domain.AppDetails) domain.Price {
	if details.PriceOverview == nil {
		return domain.Price{}
	}
	p := details.PriceOverview
	return domain.Price{
		Initial:     p.Initial,
		Final:       p.Final,
		DiscountPct: p.DiscountPercent,
		Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
	}
}

func systemRequirements(details *domain.AppDetails) domain.SystemRequirements {
	reqs := domain.SystemRequirements{}
	add := func(platform string, doc domain.RequirementsDoc) {
		pr := domain.PlatformRequirements{
			Minimum:     parseRequirementTier(doc.Minimum),
			Recommended: parseRequirementTier(doc.Recommended),
		}
		if pr.Minimum == nil && pr.Recommended == nil {
			return
		}
		reqs[platform] = pr
	}

	add(domain.PlatformWindows, details.PCRequirements)
	add(domain.PlatformMac, details.MacRequirements)
	add(domain.PlatformLinux, details.LinuxRequirements)

	if len(reqs) == 0 {
		return nil
	}
	return reqs
}

func positivePct(positive, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := 100 * float64(positive) / float64(total)
	return math.Round(pct*100) / 100
}
