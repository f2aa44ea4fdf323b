package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Expectation evaluates one aspect of an HTTP response, returning a verdict
// that the HTTPChecker aggregates into its final result.
type Expectation func(resp *http.Response, body []byte) Result

// ExpectStatus fails with Error unless resp's status code equals code.
func ExpectStatus(code int) Expectation {
	return func(resp *http.Response, _ []byte) Result {
		if resp.StatusCode != code {
			return errRes(fmt.Sprintf("expected status %d, got %d", code, resp.StatusCode))
		}
		return up("")
	}
}

// ExpectResponseContains fails with Error unless substr appears in the
// response body.
func ExpectResponseContains(substr string) Expectation {
	return func(_ *http.Response, body []byte) Result {
		if !strings.Contains(string(body), substr) {
			return errRes(fmt.Sprintf("%q not found in response body", substr))
		}
		return up("")
	}
}

// HTTPChecker issues one GET request per Check and classifies the result as
// up, warn, or error. Redirects are never followed. Safe for reuse across
// executions as long as the caller serializes access per check.
type HTTPChecker struct {
	client      *http.Client
	url         string
	headers     map[string]string
	warnTimeout time.Duration
	errTimeout  time.Duration
	expects     []Expectation
	limiter     *rate.Limiter
}

// NewHTTPChecker builds an HTTPChecker targeting url. warnTimeout must be
// <= errTimeout.
func NewHTTPChecker(url string, warnTimeout, errTimeout time.Duration) *HTTPChecker {
	if warnTimeout > errTimeout {
		panic("warnTimeout > errTimeout")
	}
	return &HTTPChecker{
		client: &http.Client{
			// Redirects are never followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		url:         url,
		warnTimeout: warnTimeout,
		errTimeout:  errTimeout,
	}
}

// Expect registers an additional expectation, evaluated in the order added.
func (h *HTTPChecker) Expect(e Expectation) *HTTPChecker {
	h.expects = append(h.expects, e)
	return h
}

// SetHeader sets a request header sent with every check.
func (h *HTTPChecker) SetHeader(key, value string) *HTTPChecker {
	if h.headers == nil {
		h.headers = make(map[string]string)
	}
	h.headers[key] = value
	return h
}

// SetRateLimit bounds this checker to at most limit requests per second,
// with burst allowed to queue up front. A runaway check interval (or a
// misconfigured retry) can otherwise hammer the target; this gives the
// prober a token-bucket guard instead of relying on the scheduler's
// MinCheckInterval alone.
func (h *HTTPChecker) SetRateLimit(limit rate.Limit, burst int) *HTTPChecker {
	h.limiter = rate.NewLimiter(limit, burst)
	return h
}

type httpOutcome struct {
	resp    *http.Response
	body    []byte
	elapsed time.Duration
	err     error
}

// Check implements Checker.
func (h *HTTPChecker) Check() Result {
	start := time.Now()
	outcome, ok := runWithTimeout(func() httpOutcome {
		if h.limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), h.errTimeout)
			defer cancel()
			if err := h.limiter.Wait(ctx); err != nil {
				return httpOutcome{err: fmt.Errorf("rate limit wait: %w", err)}
			}
		}
		req, err := http.NewRequest(http.MethodGet, h.url, nil)
		if err != nil {
			return httpOutcome{err: err}
		}
		for k, v := range h.headers {
			req.Header.Set(k, v)
		}
		reqStart := time.Now()
		resp, err := h.client.Do(req)
		if err != nil {
			return httpOutcome{err: err, elapsed: time.Since(reqStart)}
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return httpOutcome{resp: resp, body: body, elapsed: time.Since(reqStart)}
	}, h.errTimeout)

	if !ok {
		return errRes("timeout reached")
	}
	if outcome.err != nil {
		return errRes(outcome.err.Error())
	}

	var infos []string
	sawWarn := false
	for _, exp := range h.expects {
		r := exp(outcome.resp, outcome.body)
		if r.Type == Error {
			return r
		}
		if r.Type == Warn {
			sawWarn = true
		}
		if r.Info != "" {
			infos = append(infos, r.Info)
		}
	}

	elapsed := time.Since(start)
	info := joinInfo(infos...)
	if elapsed > h.warnTimeout || sawWarn {
		prefix := fmt.Sprintf("Server took %dms", elapsed.Milliseconds())
		return warn(joinInfo(prefix, info))
	}
	return up(info)
}
