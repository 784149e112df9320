package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"steamharvest/internal/config"
	"steamharvest/internal/domain"
)

type recorderStub struct {
	mu       sync.Mutex
	outcomes []domain.FetchOutcome
}

func (r *recorderStub) Record(out domain.FetchOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *recorderStub) statuses() []domain.OutcomeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]domain.OutcomeStatus, len(r.outcomes))
	for i, out := range r.outcomes {
		statuses[i] = out.Status
	}
	return statuses
}

func testSteamConfig(baseURL string) config.SteamConfig {
	return config.SteamConfig{
		APIBaseURL:            baseURL,
		StoreBaseURL:          baseURL,
		UserAgent:             "steamharvest-test/1.0",
		CountryCode:           "FR",
		Language:              "french",
		RequestTimeoutSeconds: 5,
		MaxRetries:            3,
	}
}

func TestAppDetailsUnwrapsEnvelope(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("appids"); got != "400" {
			t.Errorf("unexpected appids param: %s", got)
		}
		if got := r.URL.Query().Get("cc"); got != "FR" {
			t.Errorf("unexpected cc param: %s", got)
		}
		_, _ = w.Write([]byte(`{"400": {"success": true, "data": {"steam_appid": 400, "name": "Portal", "type": "game"}}}`))
	}))
	defer server.Close()

	rec := &recorderStub{}
	client := NewAPIClient(testSteamConfig(server.URL), rec)

	details, out, err := client.AppDetails(context.Background(), 400)
	if err != nil {
		t.Fatalf("AppDetails error: %v", err)
	}
	if details.Name != "Portal" || details.AppID != 400 {
		t.Fatalf("unexpected details: %+v", details)
	}
	if out.Status != domain.StatusOK || out.Source != domain.SourceAPI {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(rec.outcomes) != 1 {
		t.Fatalf("expected 1 recorded outcome, got %d", len(rec.outcomes))
	}
}

func TestAppDetailsMissingEntityIsTerminal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"999": {"success": false}}`))
	}))
	defer server.Close()

	rec := &recorderStub{}
	client := NewAPIClient(testSteamConfig(server.URL), rec)

	details, out, err := client.AppDetails(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for missing entity")
	}
	if details != nil {
		t.Fatalf("expected nil details, got %+v", details)
	}
	if out.Status != domain.StatusNotFound {
		t.Fatalf("expected not_found, got %s", out.Status)
	}
	if len(rec.outcomes) != 1 {
		t.Fatalf("missing entities must not be retried, got %d attempts", len(rec.outcomes))
	}
}

func TestRateLimitingIsNeverRetriedLocally(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusTooManyRequests, http.StatusForbidden} {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		rec := &recorderStub{}
		client := NewAPIClient(testSteamConfig(server.URL), rec)

		_, out, err := client.AppDetails(context.Background(), 400)
		if err == nil {
			t.Fatalf("code %d: expected error", code)
		}
		if out.Status != domain.StatusRateLimited {
			t.Fatalf("code %d: expected rate_limited, got %s", code, out.Status)
		}
		if calls.Load() != 1 {
			t.Fatalf("code %d: expected a single attempt, got %d", code, calls.Load())
		}

		server.Close()
	}
}

func TestTransientErrorsRetriedWithBound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	rec := &recorderStub{}
	client := NewAPIClient(testSteamConfig(server.URL), rec)
	client.retrier.backoff = time.Millisecond

	_, out, err := client.AppDetails(context.Background(), 400)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if out.Status != domain.StatusTransientError {
		t.Fatalf("expected transient_error, got %s", out.Status)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if got := rec.statuses(); len(got) != 3 {
		t.Fatalf("every attempt must be recorded, got %v", got)
	}
}

func TestTransientErrorThenRecovery(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"400": {"success": true, "data": {"name": "Portal", "type": "game"}}}`))
	}))
	defer server.Close()

	rec := &recorderStub{}
	client := NewAPIClient(testSteamConfig(server.URL), rec)
	client.retrier.backoff = time.Millisecond

	details, out, err := client.AppDetails(context.Background(), 400)
	if err != nil {
		t.Fatalf("AppDetails error: %v", err)
	}
	if details.AppID != 400 {
		t.Fatalf("app id not backfilled from request: %+v", details)
	}
	if out.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %s", out.Status)
	}

	want := []domain.OutcomeStatus{domain.StatusTransientError, domain.StatusOK}
	got := rec.statuses()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected attempt statuses: %v", got)
	}
}

func TestSlowResponseClassifiedAsTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	rec := &recorderStub{}
	client := NewAPIClient(testSteamConfig(server.URL), rec)
	client.retrier.client.Timeout = 20 * time.Millisecond
	client.retrier.attempts = 1

	_, out, err := client.AppDetails(context.Background(), 400)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if out.Status != domain.StatusTimeout {
		t.Fatalf("expected timeout, got %s", out.Status)
	}
}

func TestAppReviewsParsesSummary(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/appreviews/400") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success": 1, "query_summary": {"review_score": 9, "total_positive": 90, "total_negative": 30, "total_reviews": 120}}`))
	}))
	defer server.Close()

	client := NewAPIClient(testSteamConfig(server.URL), &recorderStub{})

	summary, out, err := client.AppReviews(context.Background(), 400)
	if err != nil {
		t.Fatalf("AppReviews error: %v", err)
	}
	if summary.TotalReviews != 120 || summary.TotalPositive != 90 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if out.Status != domain.StatusOK {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestAppReviewsUnsuccessfulQuery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": 0}`))
	}))
	defer server.Close()

	client := NewAPIClient(testSteamConfig(server.URL), &recorderStub{})

	_, out, err := client.AppReviews(context.Background(), 400)
	if err == nil {
		t.Fatal("expected error for unsuccessful query")
	}
	if out.Status != domain.StatusTransientError {
		t.Fatalf("expected transient_error, got %s", out.Status)
	}
}

func TestStorePageSendsAgeGateCookies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("birthtime"); err != nil || c.Value != birthtimeValue {
			t.Errorf("missing birthtime cookie")
		}
		if c, err := r.Cookie("lastagecheckage"); err != nil || c.Value != lastAgeCheckAgeValue {
			t.Errorf("missing lastagecheckage cookie")
		}
		_, _ = w.Write([]byte(`<html><a class="app_tag">Puzzle</a></html>`))
	}))
	defer server.Close()

	client := NewStoreClient(testSteamConfig(server.URL), &recorderStub{})

	body, out, err := client.StorePage(context.Background(), 400)
	if err != nil {
		t.Fatalf("StorePage error: %v", err)
	}
	if !strings.Contains(string(body), "app_tag") {
		t.Fatalf("unexpected body: %s", body)
	}
	if out.Source != domain.SourceHTML || out.Status != domain.StatusOK {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestStorePageChallengeTreatedAsRateLimiting(t *testing.T) {
	t.Parallel()

	challenges := []struct {
		name string
		page string
	}{
		{"captcha widget", `<html><div class="g-recaptcha" data-sitekey="x"></div></html>`},
		{"robot check text", `<html><body>Veuillez vérifier que vous n'êtes pas un robot pour continuer.</body></html>`},
	}

	for _, challenge := range challenges {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(challenge.page))
		}))

		client := NewStoreClient(testSteamConfig(server.URL), &recorderStub{})

		body, out, err := client.StorePage(context.Background(), 400)
		if err == nil {
			t.Fatalf("%s: expected challenge error", challenge.name)
		}
		if body != nil {
			t.Fatalf("%s: challenge page must not be returned as content", challenge.name)
		}
		if out.Status != domain.StatusRateLimited {
			t.Fatalf("%s: expected rate_limited, got %s", challenge.name, out.Status)
		}
		if calls.Load() != 1 {
			t.Fatalf("%s: challenge must not be retried, got %d attempts", challenge.name, calls.Load())
		}

		server.Close()
	}
}

func TestStorePageMissingIsTerminal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewStoreClient(testSteamConfig(server.URL), &recorderStub{})

	_, out, err := client.StorePage(context.Background(), 400)
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Status != domain.StatusNotFound {
		t.Fatalf("expected not_found, got %s", out.Status)
	}
}
