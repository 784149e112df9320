package steam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

const (
	captchaMarker      = "g-recaptcha"
	robotCheckMarker   = "Veuillez vérifier que vous n'êtes pas un robot"
	defaultRetryPause  = 2 * time.Second
	errorBodyDrainSize = 4096
)

// fetchSpec describes one upstream call for the shared retry loop.
type fetchSpec struct {
	appID    int64
	source   domain.SourceKind
	sniffBan bool
	build    func(ctx context.Context) (*http.Request, error)
}

// retrier executes fetch attempts with bounded linear-backoff retries for
// transient failures and timeouts. Rate limiting is never retried locally,
// it is the governor's signal; missing entities are terminal. Every
// attempt is reported to the recorder.
type retrier struct {
	client   *http.Client
	recorder ports.OutcomeRecorder
	attempts int
	backoff  time.Duration
}

func newRetrier(timeout time.Duration, attempts int, recorder ports.OutcomeRecorder) retrier {
	if attempts < 1 {
		attempts = 1
	}
	return retrier{
		client:   &http.Client{Timeout: timeout},
		recorder: recorder,
		attempts: attempts,
		backoff:  defaultRetryPause,
	}
}

func (r *retrier) fetch(ctx context.Context, spec fetchSpec) ([]byte, domain.FetchOutcome, error) {
	var (
		body []byte
		out  domain.FetchOutcome
		err  error
	)

	for attempt := 1; attempt <= r.attempts; attempt++ {
		body, out, err = r.fetchOnce(ctx, spec)
		if r.recorder != nil {
			r.recorder.Record(out)
		}

		switch out.Status {
		case domain.StatusOK:
			return body, out, nil
		case domain.StatusRateLimited, domain.StatusNotFound:
			return nil, out, err
		}

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, out, ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}

	return nil, out, err
}

func (r *retrier) fetchOnce(ctx context.Context, spec fetchSpec) ([]byte, domain.FetchOutcome, error) {
	out := domain.FetchOutcome{AppID: spec.appID, Source: spec.source}

	req, err := spec.build(ctx)
	if err != nil {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("build %s request for app %d: %w", spec.source, spec.appID, err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	out.Latency = time.Since(start)
	if err != nil {
		out.Status = classifyError(err)
		return nil, out, fmt.Errorf("request %s source for app %d: %w", spec.source, spec.appID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyDrainSize))
		out.Status = classifyHTTPStatus(resp.StatusCode)
		return nil, out, fmt.Errorf("%s source for app %d returned %s", spec.source, spec.appID, resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		out.Status = domain.StatusTransientError
		return nil, out, fmt.Errorf("read %s response for app %d: %w", spec.source, spec.appID, err)
	}

	if spec.sniffBan && isChallengeBody(payload) {
		out.Status = domain.StatusRateLimited
		return nil, out, fmt.Errorf("%s source for app %d served a captcha challenge", spec.source, spec.appID)
	}

	out.Status = domain.StatusOK
	return payload, out, nil
}

// isChallengeBody spots ban pages served with HTTP 200: the captcha widget
// markup, or the robot-check sentence when the widget is absent.
func isChallengeBody(payload []byte) bool {
	return bytes.Contains(payload, []byte(captchaMarker)) ||
		bytes.Contains(payload, []byte(robotCheckMarker))
}

func classifyHTTPStatus(code int) domain.OutcomeStatus {
	switch code {
	case http.StatusTooManyRequests, http.StatusForbidden:
		return domain.StatusRateLimited
	case http.StatusNotFound:
		return domain.StatusNotFound
	default:
		return domain.StatusTransientError
	}
}

func classifyError(err error) domain.OutcomeStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.StatusTimeout
	}
	return domain.StatusTransientError
}
