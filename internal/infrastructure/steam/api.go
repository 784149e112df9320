package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"steamharvest/internal/config"
	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

// APIClient queries the authoritative JSON endpoints for entity details and
// review summaries.
type APIClient struct {
	baseURL     string
	countryCode string
	language    string
	userAgent   string
	retrier     retrier
}

var _ ports.PrimarySource = (*APIClient)(nil)

// NewAPIClient wires the primary source from config.
func NewAPIClient(cfg config.SteamConfig, recorder ports.OutcomeRecorder) *APIClient {
	return &APIClient{
		baseURL:     strings.TrimSuffix(cfg.APIBaseURL, "/"),
		countryCode: cfg.CountryCode,
		language:    cfg.Language,
		userAgent:   cfg.UserAgent,
		retrier:     newRetrier(cfg.RequestTimeout(), cfg.MaxRetries, recorder),
	}
}

// AppDetails fetches and unwraps the details envelope for one entity.
// An envelope with success=false means the entity does not exist upstream.
func (c *APIClient) AppDetails(ctx context.Context, appID int64) (*domain.AppDetails, domain.FetchOutcome, error) {
	endpoint := fmt.Sprintf("%s/api/appdetails?appids=%d&cc=%s&l=%s",
		c.baseURL, appID, url.QueryEscape(c.countryCode), url.QueryEscape(c.language))

	body, out, err := c.retrier.fetch(ctx, fetchSpec{
		appID:  appID,
		source: domain.SourceAPI,
		build:  c.jsonRequest(endpoint),
	})
	if err != nil {
		return nil, out, err
	}

	var envelope map[string]struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("decode appdetails envelope for app %d: %w", appID, err)
	}

	entry, ok := envelope[strconv.FormatInt(appID, 10)]
	if !ok || !entry.Success {
		out.Status = domain.StatusNotFound
		return nil, out, fmt.Errorf("appdetails: app %d is not available", appID)
	}

	var details domain.AppDetails
	if err := json.Unmarshal(entry.Data, &details); err != nil {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("decode appdetails data for app %d: %w", appID, err)
	}
	if details.AppID == 0 {
		details.AppID = appID
	}

	return &details, out, nil
}

// AppReviews fetches the aggregate review summary for one entity.
func (c *APIClient) AppReviews(ctx context.Context, appID int64) (*domain.ReviewSummary, domain.FetchOutcome, error) {
	endpoint := fmt.Sprintf("%s/appreviews/%d?json=1&language=all", c.baseURL, appID)

	body, out, err := c.retrier.fetch(ctx, fetchSpec{
		appID:  appID,
		source: domain.SourceAPI,
		build:  c.jsonRequest(endpoint),
	})
	if err != nil {
		return nil, out, err
	}

	var payload struct {
		Success int                  `json:"success"`
		Summary domain.ReviewSummary `json:"query_summary"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("decode appreviews for app %d: %w", appID, err)
	}
	if payload.Success != 1 {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("appreviews: app %d query unsuccessful", appID)
	}

	return &payload.Summary, out, nil
}

func (c *APIClient) jsonRequest(endpoint string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
