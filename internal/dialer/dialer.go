package dialer

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/vaelin/go-httpc/internal/http"
	"github.com/vaelin/go-httpc/utils/netpool"
)

// Dialer is the model package's interface, aliased so implementations
// and consumers agree on a single type.
type Dialer = http.Dialer

var _ Dialer = (*CoreDialer)(nil)

type CoreDialer struct {
	ResolveConfig *ResolveConfig

	TLSConfig *tls.Config // the config to use

	ConnPool *netpool.PoolGroup

	// Proxies decides the upstream per request URL. GetProxy, when set,
	// overrides it entirely, keeping the per-request hook the way the
	// older API exposed it.
	Proxies     *ProxyRules
	GetProxy    func(ctx context.Context, r *http.Request) (string, error)
	ProxyConfig *ProxyConfig

	// ConnectTimeout bounds establishing a single connection, including
	// the CONNECT exchange and the TLS handshake. Zero means the request
	// context alone decides.
	ConnectTimeout time.Duration
}

func (d *CoreDialer) Clone() *CoreDialer {
	return &CoreDialer{
		ResolveConfig:  d.ResolveConfig.Clone(),
		TLSConfig:      d.TLSConfig.Clone(),
		ConnPool:       d.ConnPool.NewEmpty(),
		Proxies:        d.Proxies.Clone(),
		GetProxy:       d.GetProxy,
		ProxyConfig:    d.ProxyConfig.Clone(),
		ConnectTimeout: d.ConnectTimeout,
	}
}

func (d *CoreDialer) Unwrap() Dialer {
	return nil
}

// Default is the dialer used by clients that don't set their own. It
// honors the conventional proxy environment variables and keeps a
// shared connection pool.
var Default = &CoreDialer{
	TLSConfig:   &tls.Config{},
	ConnPool:    netpool.NewGroup(128, 16, 90*time.Second),
	Proxies:     FromEnvironment(),
	ProxyConfig: &ProxyConfig{},
}
