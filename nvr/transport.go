package nvr

import (
	"io"
	"net/http"
	"time"
)

// retryTransport retries requests that fail at the transport level or come
// back with a retryable 5xx status. Backoff doubles per attempt (2s, 4s, ...).
type retryTransport struct {
	next     http.RoundTripper
	attempts int
	sleep    func(time.Duration) // overridable in tests, defaults to time.Sleep
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sleep := t.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var resp *http.Response
	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		// RoundTrippers must not modify the caller's request, so retries go
		// out on a clone with the body rewound via GetBody.
		attemptReq := req
		if attempt > 1 {
			attemptReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				attemptReq.Body = body
			}
		}

		resp, err = t.next.RoundTrip(attemptReq)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if req.Context().Err() != nil {
			break
		}
		if attempt == t.attempts {
			break
		}

		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	return resp, err
}
