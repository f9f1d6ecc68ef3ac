package httpcore

import "net/http"

// Interceptor observes, transforms, and may short-circuit a request/response
// exchange. Ported from OkHttp's Interceptor.intercept(Chain): a single method
// taking the chain and returning the response it produced, free to call
// chain.Proceed zero times (short-circuit), once (the common case), or more
// than once (retry within the interceptor itself).
type Interceptor interface {
	Intercept(chain *Chain) (*http.Response, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(chain *Chain) (*http.Response, error)

func (f InterceptorFunc) Intercept(chain *Chain) (*http.Response, error) {
	return f(chain)
}

// Chain carries one link's view of an in-progress interceptor chain: the
// request as it stands at this link, and a Proceed method that advances to the
// next link (or the transport, once the chain is exhausted). Ported from
// Interceptor.Chain: like OkHttp's ApplicationInterceptorChain, Proceed
// allocates a new Chain for the next link and recurses into it.
type Chain struct {
	interceptors []Interceptor
	index        int
	exchanger    Exchanger
	request      *http.Request
}

// newChain constructs the head of an interceptor chain terminating at exchanger.
func newChain(interceptors []Interceptor, exchanger Exchanger, req *http.Request) *Chain {
	return &Chain{interceptors: interceptors, exchanger: exchanger, request: req}
}

// Request returns the request as seen at this link of the chain.
func (c *Chain) Request() *http.Request {
	return c.request
}

// Proceed advances the chain with req, calling the next interceptor if one
// remains or falling through to the transport exchanger otherwise. Ported from
// RealCall.ApplicationInterceptorChain.proceed.
func (c *Chain) Proceed(req *http.Request) (*http.Response, error) {
	if c.index < len(c.interceptors) {
		next := &Chain{
			interceptors: c.interceptors,
			index:        c.index + 1,
			exchanger:    c.exchanger,
			request:      req,
		}
		return c.interceptors[c.index].Intercept(next)
	}

	sent, err := c.exchanger.SendRequest(req)
	if err != nil {
		return nil, err
	}
	return c.exchanger.ReadResponse(sent)
}

// runChain executes a full interceptor chain for req against exchanger.
func runChain(interceptors []Interceptor, exchanger Exchanger, req *http.Request) (*http.Response, error) {
	chain := newChain(interceptors, exchanger, req)
	return chain.Proceed(req)
}

// middlewareInterceptor adapts the teacher's single-step Middleware type into an
// Interceptor, so WithMiddleware keeps working without duplicating the chain.
type middlewareInterceptor struct {
	middleware Middleware
}

func (m middlewareInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	return m.middleware(chain.Request(), RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return chain.Proceed(req)
	}))
}
