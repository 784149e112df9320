package steam

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"steamharvest/internal/config"
	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

// Age-gate cookie values that let the crawler see mature store pages
// without the interstitial form.
const (
	birthtimeValue       = "631152001"
	lastAgeCheckAgeValue = "1-January-1990"
)

// StoreClient fetches public store pages for auxiliary tag extraction.
type StoreClient struct {
	baseURL   string
	userAgent string
	retrier   retrier
}

var _ ports.AuxiliarySource = (*StoreClient)(nil)

// NewStoreClient wires the auxiliary source from config.
func NewStoreClient(cfg config.SteamConfig, recorder ports.OutcomeRecorder) *StoreClient {
	return &StoreClient{
		baseURL:   strings.TrimSuffix(cfg.StoreBaseURL, "/"),
		userAgent: cfg.UserAgent,
		retrier:   newRetrier(cfg.RequestTimeout(), cfg.MaxRetries, recorder),
	}
}

// StorePage fetches the store page markup for one entity. A page serving a
// captcha challenge is classified as rate limiting, not as content.
func (c *StoreClient) StorePage(ctx context.Context, appID int64) ([]byte, domain.FetchOutcome, error) {
	endpoint := fmt.Sprintf("%s/app/%d/", c.baseURL, appID)

	return c.retrier.fetch(ctx, fetchSpec{
		appID:    appID,
		source:   domain.SourceHTML,
		sniffBan: true,
		build: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", c.userAgent)
			req.AddCookie(&http.Cookie{Name: "birthtime", Value: birthtimeValue})
			req.AddCookie(&http.Cookie{Name: "lastagecheckage", Value: lastAgeCheckAgeValue})
			return req, nil
		},
	})
}
