package httpcore

import (
	"net/http"
)

// MaxFollowUps is the canonical cap on redirect/auth-challenge hops a single
// logical call may take, matching OkHttp's HttpEngine.MAX_FOLLOW_UPS.
const MaxFollowUps = 20

// Exchanger performs one attempt at sending a request and reading its response.
// It is the seam between the interceptor chain and an actual network transport:
// Client's default Exchanger wraps an http.RoundTripper, but tests and
// middleware-only pipelines can supply their own. Grounded on spec.md §6's
// transport-engine contract, which mirrors OkHttp's HttpEngine.sendRequest/
// readResponse/recover/followUpRequest sequence as driven by RealCall.getResponse.
type Exchanger interface {
	// SendRequest prepares req for transmission (e.g. body framing headers) and
	// returns the request actually sent, which may differ from req.
	SendRequest(req *http.Request) (*http.Request, error)

	// ReadResponse performs the exchange and returns the raw response.
	ReadResponse(req *http.Request) (*http.Response, error)

	// Recover decides whether a failed attempt can be retried with a fresh
	// attempt, returning a replacement Exchanger to use for that attempt, or nil
	// if the failure is not recoverable. Mirrors HttpEngine.recover.
	Recover(req *http.Request, err error) Exchanger

	// Cancel aborts any in-flight work associated with this Exchanger.
	Cancel()

	// FollowUpRequest returns the request that should be sent next if resp
	// demands a follow-up (redirect, 401/407 challenge), or nil if none is
	// needed. Mirrors HttpEngine.followUpRequest.
	FollowUpRequest(req *http.Request, resp *http.Response) (*http.Request, error)
}

// transportExchanger is the standalone Exchanger returned by
// NewTransportExchanger, a thin adapter over an http.RoundTripper. It performs no retries itself — Recover always declines —
// since network-level retry policy lives in retry_policy.go and is applied by
// Client, not by the transport seam.
type transportExchanger struct {
	transport http.RoundTripper
	cancel    func()
}

// NewTransportExchanger wraps transport as an Exchanger. A nil transport uses
// http.DefaultTransport, matching net/http's own default.
func NewTransportExchanger(transport http.RoundTripper) Exchanger {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &transportExchanger{transport: transport}
}

func (e *transportExchanger) SendRequest(req *http.Request) (*http.Request, error) {
	return req, nil
}

func (e *transportExchanger) ReadResponse(req *http.Request) (*http.Response, error) {
	return e.transport.RoundTrip(req)
}

func (e *transportExchanger) Recover(req *http.Request, err error) Exchanger {
	return nil
}

func (e *transportExchanger) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *transportExchanger) FollowUpRequest(req *http.Request, resp *http.Response) (*http.Request, error) {
	return followUpFor(req, resp)
}

// followUpFor builds the next request for a redirect (301, 302, 303, 307,
// 308) response, or returns nil if resp needs no follow-up. Auth challenges
// (401/407) are not followed up: they always yield nil.
func followUpFor(req *http.Request, resp *http.Response) (*http.Request, error) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, nil
		}
		target, err := req.URL.Parse(location)
		if err != nil {
			return nil, nil
		}
		method := req.Method
		if resp.StatusCode == http.StatusSeeOther && method != http.MethodHead {
			method = http.MethodGet
		}
		next := req.Clone(req.Context())
		next.URL = target
		next.Method = method
		if method != req.Method {
			next.Body = nil
			next.ContentLength = 0
			next.Header.Del("Content-Type")
			next.Header.Del("Content-Length")
		}
		return next, nil
	case http.StatusUnauthorized, http.StatusProxyAuthRequired:
		// No credentials are added here, so a challenge response is returned
		// to the caller as is.
		return nil, nil
	default:
		return nil, nil
	}
}
