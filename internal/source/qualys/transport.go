package qualys

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryTransport retries transport errors and throttling or gateway
// statuses with exponential backoff.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries uint
	newBackOff func() backoff.BackOff
}

func newRetryTransport(base http.RoundTripper, maxRetries uint, newBackOff func() backoff.BackOff) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &retryTransport{base: base, maxRetries: maxRetries, newBackOff: newBackOff}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := 0

	op := func() (*http.Response, error) {
		r := req
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, backoff.Permanent(fmt.Errorf("request body cannot be replayed"))
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		attempt++

		resp, err := t.base.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		if retryableStatus[resp.StatusCode] {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("retryable status %d", resp.StatusCode)
		}
		return resp, nil
	}

	return backoff.Retry(req.Context(), op,
		backoff.WithBackOff(t.newBackOff()),
		backoff.WithMaxTries(t.maxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Ctx(req.Context()).Err(err).Str("url", req.URL.Redacted()).Dur("wait", wait).Msg("Retrying request")
		}),
	)
}
