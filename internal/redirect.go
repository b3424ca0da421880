package internal

import (
	"net/url"
	"strings"

	"github.com/vaelin/go-httpc/internal/http"
)

// RedirectPolicy configures how 3xx responses are treated. The zero
// value follows redirects with a conservative hop limit.
type RedirectPolicy struct {
	// Disabled returns 3xx responses to the caller untouched.
	Disabled bool
	// MaxHops caps the chain length, DefaultMaxHops when zero.
	MaxHops int
}

const DefaultMaxHops = 10

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// redirectChain is the per-execute redirect state machine: hop counter
// plus the set of URLs already visited, for loop detection. It lives
// for one CtxDo call and is discarded with it.
type redirectChain struct {
	policy  RedirectPolicy
	hops    int
	visited map[string]struct{}
}

func newRedirectChain(policy RedirectPolicy, start *url.URL) *redirectChain {
	if policy.MaxHops <= 0 {
		policy.MaxHops = DefaultMaxHops
	}
	return &redirectChain{
		policy:  policy,
		visited: map[string]struct{}{start.String(): {}},
	}
}

func (s *redirectChain) visitedURLs() []string {
	urls := make([]string, 0, len(s.visited))
	for u := range s.visited {
		urls = append(urls, u)
	}
	return urls
}

// next inspects a response and either returns the request for the next
// hop, nil when the chain is done, or an error when policy refuses to
// continue. The response body is not touched.
func (s *redirectChain) next(req *http.PreparedRequest, resp *http.Response) (*http.Request, error) {
	if s.policy.Disabled || !isRedirect(resp.StatusCode) {
		return nil, nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		// a redirect status with nowhere to go is handed to the caller
		return nil, nil
	}
	target, err := req.U.Parse(loc)
	if err != nil {
		return nil, &ProtocolError{URL: req.URL, Err: err}
	}
	target.Fragment = ""

	if _, seen := s.visited[target.String()]; seen {
		return nil, &RedirectError{
			URL: target.String(), Hops: s.hops, Visited: s.visitedURLs(),
			Reason: "loop detected",
		}
	}
	if s.hops >= s.policy.MaxHops {
		return nil, &RedirectError{
			URL: target.String(), Hops: s.hops, Visited: s.visitedURLs(),
			Reason: "too many redirects",
		}
	}

	next := &http.Request{
		Method: req.Method,
		URL:    target.String(),
		Header: req.Request.Header.Clone(),
	}

	switch resp.StatusCode {
	case 301, 302, 303:
		// the widely adopted convention: downgrade to a body-less GET
		if req.Method != "GET" && req.Method != "HEAD" {
			next.Method = "GET"
			next.Body = nil
			if next.Header != nil {
				next.Header.Del("Content-Type")
			}
		}
	case 307, 308:
		if req.Request.Body != nil {
			if !req.Replayable {
				return nil, &RedirectError{
					URL: target.String(), Hops: s.hops, Visited: s.visitedURLs(),
					Reason: "cannot replay a single-use request body",
				}
			}
			next.Body = req.Request.Body
		}
	}

	if next.Header != nil && !strings.EqualFold(target.Hostname(), req.U.Hostname()) {
		// never carry credentials across hosts. Cookie is re-derived
		// from the jar for the new host either way.
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}

	s.hops++
	s.visited[target.String()] = struct{}{}
	return next, nil
}
