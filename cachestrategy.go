package httpcore

import (
	"errors"
	"math"
	"net/http"
	"time"
)

var errNotANumber = errors.New("httpcore: not a number")

// cacheableStatusCodes lists response codes RFC 7231 §6.1 permits a cache to
// store without the server asserting anything further, ported directly from
// CacheStrategy.java's isCacheable switch.
var cacheableStatusCodes = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusGone:                 true,
	http.StatusRequestURITooLong:    true,
	http.StatusNotImplemented:       true,
	http.StatusPermanentRedirect:    true,
}

// isCacheable reports whether resp may be stored to later satisfy another
// request for req. Ported from CacheStrategy.java's isCacheable: most status
// codes are cacheable outright, 302/307 require an explicit freshness signal,
// and everything else is excluded. A no-store directive on either side vetoes
// storage regardless of status code.
func isCacheable(resp *http.Response, req *http.Request, respDirectives, reqDirectives *CacheDirectives) bool {
	switch resp.StatusCode {
	case http.StatusFound, http.StatusTemporaryRedirect:
		if resp.Header.Get("Expires") == "" && respDirectives.MaxAge == nil &&
			!respDirectives.Public && !respDirectives.Private {
			return false
		}
	default:
		if !cacheableStatusCodes[resp.StatusCode] {
			return false
		}
	}
	return !respDirectives.NoStore && !reqDirectives.NoStore
}

// CacheDecision is the result of CacheStrategy.Compute: what (if anything) to
// send on the network, and what (if anything) from the cache to serve or
// revalidate against. Ported from CacheStrategy.java's (networkRequest,
// cacheResponse) pair.
type CacheDecision struct {
	NetworkRequest *http.Request
	CacheEntry     *CacheEntry
	Unsatisfiable  bool // only-if-cached requested but no usable cache entry exists
}

// CacheStrategy decides, for a given request and any cached entry for its key,
// whether to use the network, the cache, or a conditional request that may fall
// back on either. Grounded directly on CacheStrategy.java's Factory: the same
// freshness-lifetime priority (max-age, then Expires, then a 10%-of-age
// heuristic for query-less URLs with Last-Modified) and the same RFC 2616
// §13.2.3 age arithmetic (apparent age, response delay, resident time).
type CacheStrategy struct {
	Now func() time.Time
}

// NewCacheStrategy constructs a CacheStrategy using time.Now as its clock.
func NewCacheStrategy() *CacheStrategy {
	return &CacheStrategy{Now: time.Now}
}

// Compute decides how req should be served given entry, the cached response
// for req's key (nil if there is none).
func (s *CacheStrategy) Compute(req *http.Request, entry *CacheEntry) *CacheDecision {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	reqDirectives := parseCacheControl(req.Header.Get("Cache-Control"))

	if entry == nil {
		return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: req})
	}

	if req.URL != nil && req.URL.Scheme == "https" && !entry.HasTLSHandshake {
		// An entry recorded without a completed TLS handshake can't stand in
		// for an HTTPS request: discard it and go to network, exactly as if
		// there were no cache entry at all.
		return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: req})
	}

	if entry.Response != nil {
		respDirectives := parseCacheControl(entry.Header.Get("Cache-Control"))
		if !isCacheable(entry.Response, req, respDirectives, reqDirectives) {
			return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: req})
		}
	}

	if reqDirectives.NoCache || hasConditions(req) {
		return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: req})
	}

	respDirectives := parseCacheControl(entry.Header.Get("Cache-Control"))

	ageMillis := s.responseAge(entry, now)
	freshMillis, heuristicFreshness := s.freshnessLifetime(entry)

	if reqDirectives.MaxAge != nil && *reqDirectives.MaxAge < time.Duration(freshMillis) {
		freshMillis = int64(*reqDirectives.MaxAge)
	}

	cc, _ := req.Context().Value(CacheControlKey).(*CacheControl)

	var minFreshMillis int64
	if cc != nil && cc.MinFresh != nil {
		minFreshMillis = int64(*cc.MinFresh)
	} else if reqDirectives.MinFresh != nil {
		minFreshMillis = int64(*reqDirectives.MinFresh)
	}

	var maxStaleMillis int64
	if !respDirectives.MustRevalidate {
		if cc != nil && cc.MaxStale != nil {
			maxStaleMillis = int64(*cc.MaxStale)
		} else if reqDirectives.MaxStale != nil {
			maxStaleMillis = int64(*reqDirectives.MaxStale)
		}
	}

	if !respDirectives.NoCache && saturatingAdd(ageMillis, minFreshMillis) < saturatingAdd(freshMillis, maxStaleMillis) {
		served := *entry
		served.IsStale = ageMillis+minFreshMillis >= freshMillis
		served.WarnHeuristicExpiry = heuristicFreshness && ageMillis > int64(24*time.Hour)
		return s.finish(req, reqDirectives, &CacheDecision{CacheEntry: &served})
	}

	conditional := req.Clone(req.Context())
	if entry.ETag != "" {
		conditional.Header.Set("If-None-Match", entry.ETag)
	} else if entry.LastModified != nil {
		conditional.Header.Set("If-Modified-Since", entry.LastModified.Format(time.RFC1123))
	} else if dateHeader := entry.Header.Get("Date"); dateHeader != "" {
		// Neither ETag nor Last-Modified: fall back to the entry's own served
		// Date, exactly as CacheStrategy.Factory.get() does before giving up on
		// a conditional request entirely.
		conditional.Header.Set("If-Modified-Since", dateHeader)
	}

	if hasConditions(conditional) {
		return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: conditional, CacheEntry: entry})
	}
	return s.finish(req, reqDirectives, &CacheDecision{NetworkRequest: conditional})
}

// finish applies the only-if-cached veto: if the candidate decision would hit
// the network but the request forbids that, the call fails outright rather
// than dialing. Ported from CacheStrategy.Factory.get()'s wrapping of
// getCandidate().
func (s *CacheStrategy) finish(req *http.Request, reqDirectives *CacheDirectives, candidate *CacheDecision) *CacheDecision {
	onlyIfCached := reqDirectives.OnlyIfCached
	if cc, ok := req.Context().Value(CacheControlKey).(*CacheControl); ok && cc != nil && cc.OnlyIfCached {
		onlyIfCached = true
	}
	if candidate.NetworkRequest != nil && onlyIfCached {
		return &CacheDecision{Unsatisfiable: true}
	}
	return candidate
}

// freshnessLifetime returns how long entry was fresh for, in nanoseconds (a
// time.Duration as int64),
// starting from its served date. Priority: max-age, then Expires relative to
// served date, then a 10%-of-age heuristic for Last-Modified responses whose
// request URL has no query — identical priority order to
// CacheStrategy.Factory.computeFreshnessLifetime.
func (s *CacheStrategy) freshnessLifetime(entry *CacheEntry) (int64, bool) {
	directives := parseCacheControl(entry.Header.Get("Cache-Control"))
	if directives.MaxAge != nil {
		return int64(*directives.MaxAge), false
	}

	served := entry.ResponseTime
	if dateHeader := entry.Header.Get("Date"); dateHeader != "" {
		if parsed, err := time.Parse(time.RFC1123, dateHeader); err == nil {
			served = parsed
		}
	}
	if expires := parseExpires(entry.Header.Get("Expires")); expires != nil {
		delta := expires.Sub(served)
		if delta > 0 {
			return int64(delta), false
		}
		return 0, false
	}

	if entry.LastModified != nil && (entry.Response == nil || entry.Response.Request == nil || entry.Response.Request.URL.RawQuery == "") {
		delta := served.Sub(*entry.LastModified)
		if delta > 0 {
			return int64(delta / 10), true
		}
		return 0, true
	}

	// No HTTP freshness signal on the response itself: fall back to whatever
	// lifetime the cache layer assigned when storing the entry (the TTL passed
	// to Cache.Set, or a context override via WithContextCacheTTL).
	if !entry.ExpiresAt.IsZero() {
		if delta := entry.ExpiresAt.Sub(served); delta > 0 {
			return int64(delta), false
		}
	}

	return 0, false
}

// responseAge returns entry's current age in nanoseconds (a time.Duration as
// int64), computed per RFC
// 2616 §13.2.3: apparent age (received minus served, floored at 0) widened to
// any Age header, plus the network response delay, plus how long the entry has
// sat resident since being received. Ported directly from
// CacheStrategy.Factory.cacheResponseAge.
func (s *CacheStrategy) responseAge(entry *CacheEntry, now time.Time) int64 {
	var apparentAge time.Duration
	var servedDate time.Time
	if dateHeader := entry.Header.Get("Date"); dateHeader != "" {
		if parsed, err := time.Parse(time.RFC1123, dateHeader); err == nil {
			servedDate = parsed
			apparentAge = entry.ResponseTime.Sub(servedDate)
			if apparentAge < 0 {
				apparentAge = 0
			}
		}
	}

	age := apparentAge
	if ageHeader := entry.Header.Get("Age"); ageHeader != "" {
		if seconds, err := parsePositiveSeconds(ageHeader); err == nil {
			reported := time.Duration(seconds) * time.Second
			if reported > age {
				age = reported
			}
		}
	}

	responseDelay := entry.ResponseTime.Sub(entry.RequestTime)
	residentDuration := now.Sub(entry.ResponseTime)

	return int64(age + responseDelay + residentDuration)
}

// saturatingAdd adds a and b, clamping to math.MaxInt64 instead of wrapping.
// Needed because a bare "max-stale" directive (or the equivalent context
// override) is represented as maxStaleUnbounded, which would otherwise
// overflow the freshness comparison in Compute.
func saturatingAdd(a, b int64) int64 {
	if a > 0 && b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

func hasConditions(req *http.Request) bool {
	return req.Header.Get("If-Modified-Since") != "" || req.Header.Get("If-None-Match") != ""
}

func parsePositiveSeconds(value string) (int64, error) {
	var seconds int64
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, errNotANumber
		}
		seconds = seconds*10 + int64(r-'0')
	}
	return seconds, nil
}
