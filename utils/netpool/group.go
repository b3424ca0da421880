package netpool

import (
	"context"
	"net"
	"sync"
	"time"
)

// Key identifies connections that are interchangeable: same scheme, same
// host:port, reached through the same proxy. Anything differing in any
// component never shares a pool.
type Key struct {
	Scheme   string
	HostPort string
	Proxy    string
}

type ConnRequest struct {
	Key  Key
	Dial func(ctx context.Context) (net.Conn, error)
}

type PoolGroup struct {
	sync.RWMutex
	pools map[Key]*Pool

	maxConnsPerHost, maxIdlePerHost uint
	maxIdleDuration                 time.Duration
}

func NewGroup(maxConnsPerHost, maxIdlePerHost uint, maxIdleDuration time.Duration) *PoolGroup {
	return &PoolGroup{
		pools:           map[Key]*Pool{},
		maxConnsPerHost: maxConnsPerHost, maxIdlePerHost: maxIdlePerHost,
		maxIdleDuration: maxIdleDuration,
	}
}

// NewEmpty clones the group's limits without its connections.
func (g *PoolGroup) NewEmpty() *PoolGroup {
	return NewGroup(g.maxConnsPerHost, g.maxIdlePerHost, g.maxIdleDuration)
}

func (g *PoolGroup) Connect(ctx context.Context, req ConnRequest) (Conn, error) {
	g.RLock()
	p, ok := g.pools[req.Key]
	g.RUnlock()
	if ok {
		return p.Connect(ctx, req.Dial)
	}
	g.Lock()
	if p, ok = g.pools[req.Key]; !ok {
		p = NewPool(g.maxIdlePerHost, g.maxConnsPerHost, g.maxIdleDuration)
		g.pools[req.Key] = p
	}
	g.Unlock()
	return p.Connect(ctx, req.Dial)
}
