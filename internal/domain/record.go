package domain

import "time"

// Record kinds accepted by the contract.
const (
	KindGame = "game"
	KindDLC  = "dlc"
)

// Platform names accepted by the contract.
const (
	PlatformWindows = "windows"
	PlatformMac     = "mac"
	PlatformLinux   = "linux"
)

// Reviews aggregates community review counts for a record.
type Reviews struct {
	Total       int     `json:"total"`
	Positive    int     `json:"positive"`
	PositivePct float64 `json:"positive_pct"`
}

// Price carries commercial data in integer cents.
type Price struct {
	Initial     int    `json:"initial"`
	Final       int    `json:"final"`
	DiscountPct int    `json:"discount_pct"`
	Currency    string `json:"currency"`
}

// Languages splits supported languages by audio coverage.
type Languages struct {
	FullAudio []string `json:"full_audio,omitempty"`
	Subtitles []string `json:"subtitles,omitempty"`
}

// RequirementTier holds normalized key/value pairs for one requirement level.
type RequirementTier map[string]string

// PlatformRequirements groups the minimum and recommended tiers of one platform.
type PlatformRequirements struct {
	Minimum     RequirementTier `json:"minimum,omitempty"`
	Recommended RequirementTier `json:"recommended,omitempty"`
}

// SystemRequirements maps a platform name to its requirement tiers.
type SystemRequirements map[string]PlatformRequirements

// CanonicalRecord is the merged, normalized unit the writer persists.
// One JSONL line in the output store holds exactly one of these.
type CanonicalRecord struct {
	AppID               int64              `json:"app_id"`
	Name                string             `json:"name"`
	Kind                string             `json:"type"`
	HeaderImage         string             `json:"header_image,omitempty"`
	StoreURL            string             `json:"store_url"`
	ShortDescription    string             `json:"short_description"`
	DetailedDescription string             `json:"detailed_description,omitempty"`
	IsFree              bool               `json:"is_free"`
	ReleaseDate         string             `json:"release_date"`
	ComingSoon          bool               `json:"coming_soon"`
	Developers          []string           `json:"developers,omitempty"`
	Publishers          []string           `json:"publishers,omitempty"`
	Genres              []string           `json:"genres"`
	Categories          []string           `json:"categories,omitempty"`
	UserTags            []string           `json:"user_tags,omitempty"`
	Platforms           []string           `json:"platforms"`
	ControllerSupport   string             `json:"controller_support,omitempty"`
	Languages           Languages          `json:"languages"`
	SystemRequirements  SystemRequirements `json:"system_requirements,omitempty"`
	Reviews             Reviews            `json:"reviews"`
	MetacriticScore     *int               `json:"metacritic_score,omitempty"`
	Price               Price              `json:"price"`
	DLC                 []int64            `json:"dlc,omitempty"`
	Achievements        int                `json:"achievements"`
	FetchedAt           time.Time          `json:"fetched_at"`
}
