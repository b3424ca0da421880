package dialer

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/http/httpproxy"
)

// ProxyRules maps request URLs to upstream proxies. Scheme-specific
// entries are consulted first, then the wildcard entry; exclusion
// patterns override both. The set is immutable once a client starts
// using it.
type ProxyRules struct {
	entries  map[string]*url.URL // scheme -> proxy, "*" for wildcard
	excludes []string

	env     *httpproxy.Config
	envOnce sync.Once
	envFn   func(*url.URL) (*url.URL, error)
}

func NewProxyRules() *ProxyRules {
	return &ProxyRules{entries: map[string]*url.URL{}}
}

// FromEnvironment builds rules from HTTP_PROXY, HTTPS_PROXY, ALL_PROXY
// and NO_PROXY the way every other unix tool reads them.
func FromEnvironment() *ProxyRules {
	return &ProxyRules{
		entries: map[string]*url.URL{},
		env:     httpproxy.FromEnvironment(),
	}
}

// Set registers a proxy for a URL scheme, "*" matching any scheme.
func (p *ProxyRules) Set(scheme, proxy string) error {
	u, err := url.Parse(proxy)
	if err != nil {
		return err
	}
	p.entries[strings.ToLower(scheme)] = u
	return nil
}

// Exclude adds no-proxy patterns: "*" for everything, a bare host for
// the host and its subdomains, a leading dot being equivalent.
func (p *ProxyRules) Exclude(patterns ...string) {
	p.excludes = append(p.excludes, patterns...)
}

func (p *ProxyRules) Clone() *ProxyRules {
	if p == nil {
		return nil
	}
	c := &ProxyRules{
		entries:  make(map[string]*url.URL, len(p.entries)),
		excludes: append([]string(nil), p.excludes...),
		env:      p.env,
	}
	for k, v := range p.entries {
		c.entries[k] = v
	}
	return c
}

// Resolve returns the proxy to reach u through, nil meaning direct.
func (p *ProxyRules) Resolve(u *url.URL) (*url.URL, error) {
	if p == nil {
		return nil, nil
	}
	if p.excluded(u) {
		return nil, nil
	}
	if proxy, ok := p.entries[strings.ToLower(u.Scheme)]; ok {
		return proxy, nil
	}
	if proxy, ok := p.entries["*"]; ok {
		return proxy, nil
	}
	if p.env != nil {
		p.envOnce.Do(func() { p.envFn = p.env.ProxyFunc() })
		return p.envFn(u)
	}
	return nil, nil
}

func (p *ProxyRules) excluded(u *url.URL) bool {
	host := u.Hostname()
	for _, pat := range p.excludes {
		if pat == "*" {
			return true
		}
		pat = strings.TrimPrefix(strings.ToLower(pat), ".")
		if h, _, err := net.SplitHostPort(pat); err == nil {
			pat = h
		}
		if host == pat || strings.HasSuffix(host, "."+pat) {
			return true
		}
	}
	return false
}
