package dialer

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"

	"github.com/vaelin/go-httpc/internal/http"
	"github.com/vaelin/go-httpc/utils/netpool"
)

var schemes = map[string]string{
	"http": "80", "https": "443", "socks": "1080",
}

var zeroDialer net.Dialer
var customDnsDialer = net.Dialer{
	Resolver: &customServerResolver,
}

func (d *CoreDialer) Dial(ctx context.Context, r *http.PreparedRequest) (io.ReadWriteCloser, error) {
	addr, port := r.U.Host, schemes[r.U.Scheme]
	if add, prt, err := net.SplitHostPort(addr); err == nil {
		addr, port = add, prt
	}
	hp := net.JoinHostPort(addr, port)

	proxy, err := d.resolveProxy(ctx, r)
	if err != nil {
		return nil, err
	}
	key := netpool.Key{Scheme: r.U.Scheme, HostPort: hp}
	if proxy != nil {
		key.Proxy = proxy.Host
		// plaintext requests go to the proxy itself and must carry the
		// full target URL on the request line
		r.AbsoluteURI = r.U.Scheme != "https"
	} else {
		r.AbsoluteURI = false
	}

	pool := d.ConnPool
	if pool == nil {
		pool = Default.ConnPool
	}
	return pool.Connect(ctx, netpool.ConnRequest{
		Key: key, Dial: func(ctx context.Context) (conn net.Conn, err error) {
			if d.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
				defer cancel()
			}

			if proxy != nil {
				conn, err = d.dialProxied(ctx, r, proxy)
			} else {
				// as of now net.Dialer could handle current DNS configurations
				network, dialer, dialctx, dst := "tcp", &zeroDialer, ctx, hp

				if d.ResolveConfig != nil {
					if d.ResolveConfig.Network == "ip4" {
						network = "tcp4"
					} else if d.ResolveConfig.Network == "ip6" {
						network = "tcp6"
					}
					if static, ok := d.ResolveConfig.StaticHosts[addr]; ok {
						dst = net.JoinHostPort(static, port)
					}
					if dns := d.ResolveConfig.CustomDNSServer; dns != "" {
						dialctx = dnsServerCtx{dialctx, dns}
						dialer = &customDnsDialer
					}
				}

				conn, err = dialer.DialContext(dialctx, network, dst)
			}
			if err != nil {
				return nil, err
			}
			if r.U.Scheme == "https" {
				config := d.TLSConfig.Clone()
				if config == nil {
					config = &tls.Config{}
				}
				if config.ServerName == "" {
					config.ServerName = r.U.Hostname()
				}
				c := tls.Client(conn, config)
				if err := c.HandshakeContext(ctx); err != nil {
					conn.Close()
					return nil, err
				}
				conn = c
			}
			return conn, nil
		},
	})
}

func (d *CoreDialer) resolveProxy(ctx context.Context, r *http.PreparedRequest) (*url.URL, error) {
	if d.GetProxy != nil {
		proxy, err := d.GetProxy(ctx, r.Request)
		if err != nil || proxy == "" {
			return nil, err
		}
		return url.Parse(proxy)
	}
	return d.Proxies.Resolve(r.U)
}

// dialProxied reaches the target through proxy: a CONNECT tunnel for
// encrypted targets, a plain connection to the proxy otherwise.
func (d *CoreDialer) dialProxied(ctx context.Context, r *http.PreparedRequest, proxy *url.URL) (net.Conn, error) {
	if r.U.Scheme == "https" {
		return d.DialContextOverProxy(ctx, r.U, proxy)
	}
	hp := proxy.Host
	if proxy.Port() == "" {
		hp = net.JoinHostPort(proxy.Hostname(), schemes[proxy.Scheme])
	}
	conn, err := zeroDialer.DialContext(ctx, "tcp", hp)
	if err != nil {
		return nil, err
	}
	if proxy.Scheme == "https" {
		c := tls.Client(conn, d.proxyTLSConfig())
		if err := c.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	}
	return conn, nil
}

func (d *CoreDialer) proxyTLSConfig() *tls.Config {
	if d.ProxyConfig != nil && d.ProxyConfig.TLSConfig != nil {
		return d.ProxyConfig.TLSConfig.Clone()
	}
	if d.TLSConfig != nil {
		return d.TLSConfig.Clone()
	}
	return &tls.Config{}
}
