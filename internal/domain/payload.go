package domain

import (
	"bytes"
	"encoding/json"
)

// AppDetails mirrors the fields consumed from the entity details endpoint.
type AppDetails struct {
	AppID               int64           `json:"steam_appid"`
	Name                string          `json:"name"`
	Type                string          `json:"type"`
	IsFree              bool            `json:"is_free"`
	ShortDescription    string          `json:"short_description"`
	DetailedDescription string          `json:"detailed_description"`
	HeaderImage         string          `json:"header_image"`
	Developers          []string        `json:"developers"`
	Publishers          []string        `json:"publishers"`
	SupportedLanguages  string          `json:"supported_languages"`
	ControllerSupport   string          `json:"controller_support"`
	DLC                 []int64         `json:"dlc"`
	Categories          []NamedEntry    `json:"categories"`
	Genres              []NamedEntry    `json:"genres"`
	Platforms           PlatformFlags   `json:"platforms"`
	Metacritic          *MetacriticInfo `json:"metacritic"`
	Recommendations     CountBlock      `json:"recommendations"`
	Achievements        CountBlock      `json:"achievements"`
	ReleaseDate         ReleaseInfo     `json:"release_date"`
	PriceOverview       *PriceOverview  `json:"price_overview"`
	PCRequirements      RequirementsDoc `json:"pc_requirements"`
	MacRequirements     RequirementsDoc `json:"mac_requirements"`
	LinuxRequirements   RequirementsDoc `json:"linux_requirements"`
}

// NamedEntry is the {id, description} shape used for genres and categories.
type NamedEntry struct {
	Description string `json:"description"`
}

// PlatformFlags marks the platforms an entry supports.
type PlatformFlags struct {
	Windows bool `json:"windows"`
	Mac     bool `json:"mac"`
	Linux   bool `json:"linux"`
}

// MetacriticInfo is present only for entries with a critic score.
type MetacriticInfo struct {
	Score int    `json:"score"`
	URL   string `json:"url"`
}

// CountBlock is the {total} wrapper used by several detail sections.
type CountBlock struct {
	Total int `json:"total"`
}

// ReleaseInfo carries the release state of an entry.
type ReleaseInfo struct {
	ComingSoon bool   `json:"coming_soon"`
	Date       string `json:"date"`
}

// PriceOverview carries commercial data in integer cents; absent for free entries.
type PriceOverview struct {
	Currency        string `json:"currency"`
	Initial         int    `json:"initial"`
	Final           int    `json:"final"`
	DiscountPercent int    `json:"discount_percent"`
}

// RequirementsDoc holds raw requirement markup per tier. The upstream API
// emits an empty JSON array instead of an object when a platform has no
// requirements, so decoding tolerates both shapes.
type RequirementsDoc struct {
	Minimum     string `json:"minimum"`
	Recommended string `json:"recommended"`
}

func (r *RequirementsDoc) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '[' || bytes.Equal(trimmed, []byte("null")) {
		*r = RequirementsDoc{}
		return nil
	}

	type plain RequirementsDoc
	var doc plain
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return err
	}
	*r = RequirementsDoc(doc)
	return nil
}

// ReviewSummary mirrors the query_summary block of the reviews endpoint.
type ReviewSummary struct {
	ReviewScore     int    `json:"review_score"`
	ReviewScoreDesc string `json:"review_score_desc"`
	TotalPositive   int    `json:"total_positive"`
	TotalNegative   int    `json:"total_negative"`
	TotalReviews    int    `json:"total_reviews"`
}
