// package cookiejar keeps cookies accumulated across the requests of one
// client and computes the Cookie header for outgoing requests. Matching
// follows RFC6265: domain with an "applies to subdomains" flag, path
// prefixes, secure-only cookies withheld from plaintext requests.
package cookiejar

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

type Cookie struct {
	Name, Value string
	Domain      string
	Path        string
	Expires     time.Time // zero means session-scoped
	Secure      bool
	HostOnly    bool
}

// Expired reports whether the cookie has an expiry in the past. Session
// cookies never expire on their own.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

type jarKey struct {
	domain, path, name string
}

// Jar is shared mutable state across every request of a client, all
// access goes through the mutex.
type Jar struct {
	mu      sync.Mutex
	entries map[jarKey]Cookie

	now func() time.Time // test hook
}

func New() *Jar {
	return &Jar{entries: map[jarKey]Cookie{}, now: time.Now}
}

// Reset drops every stored cookie, session-scoped ones included. This
// is the only way session cookies are ever cleared.
func (j *Jar) Reset() {
	j.mu.Lock()
	j.entries = map[jarKey]Cookie{}
	j.mu.Unlock()
}

// Ingest stores the cookies carried by a response's Set-Cookie header
// values. A cookie with the same (name, domain, path) as a stored one
// replaces it; an expiry in the past deletes instead of storing.
func (j *Jar) Ingest(u *url.URL, setCookies []string) {
	if len(setCookies) == 0 {
		return
	}
	// net/http owns Set-Cookie syntax, including the three date formats
	parsed := (&http.Response{Header: http.Header{"Set-Cookie": setCookies}}).Cookies()

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	host := strings.ToLower(u.Hostname())
	for _, sc := range parsed {
		c, ok := j.fromSetCookie(sc, host, u.EscapedPath(), now)
		if !ok {
			continue
		}
		key := jarKey{c.Domain, c.Path, c.Name}
		if c.Expired(now) {
			delete(j.entries, key)
			continue
		}
		j.entries[key] = c
	}
}

func (j *Jar) fromSetCookie(sc *http.Cookie, host, path string, now time.Time) (Cookie, bool) {
	c := Cookie{
		Name:    sc.Name,
		Value:   sc.Value,
		Secure:  sc.Secure,
		Expires: sc.Expires,
	}
	if sc.MaxAge > 0 {
		c.Expires = now.Add(time.Duration(sc.MaxAge) * time.Second)
	} else if sc.MaxAge < 0 {
		c.Expires = now.Add(-time.Second)
	}

	if domain := strings.TrimPrefix(strings.ToLower(sc.Domain), "."); domain != "" {
		// a Domain attribute opts the cookie into subdomain matching,
		// but never onto a public suffix or an unrelated host
		if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain && host != domain {
			return c, false
		}
		if !domainMatch(host, domain, false) {
			return c, false
		}
		c.Domain = domain
	} else {
		c.Domain = host
		c.HostOnly = true
	}

	if sc.Path != "" && strings.HasPrefix(sc.Path, "/") {
		c.Path = sc.Path
	} else {
		c.Path = defaultPath(path)
	}
	return c, true
}

// CookiesFor computes the Cookie header value for a request to u. The
// jar itself is never mutated by a match, expired entries aside.
func (j *Jar) CookiesFor(u *url.URL) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	secure := u.Scheme == "https"

	var matched []Cookie
	for key, c := range j.entries {
		if c.Expired(now) {
			delete(j.entries, key)
			continue
		}
		if !domainMatch(host, c.Domain, c.HostOnly) {
			continue
		}
		if !pathMatch(path, c.Path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		matched = append(matched, c)
	}
	// longest path first, then name, to keep the header deterministic
	sort.Slice(matched, func(i, k int) bool {
		if len(matched[i].Path) != len(matched[k].Path) {
			return len(matched[i].Path) > len(matched[k].Path)
		}
		return matched[i].Name < matched[k].Name
	})

	var b strings.Builder
	for _, c := range matched {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if host == domain {
		return true
	}
	return !hostOnly && strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// defaultPath is the RFC6265 default-path of a request path.
func defaultPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "/"
	}
	if i := strings.LastIndex(p, "/"); i > 0 {
		return p[:i]
	}
	return "/"
}
