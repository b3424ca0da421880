package netpool

import (
	"context"
	"net"
	"time"

	"github.com/vaelin/go-httpc/utils/nettools"
)

type Pool struct {
	connTicket      chan interface{}
	idleTicket      chan *conn
	maxIdleDuration time.Duration
}

func NewPool(maxIdle, maxConn uint, maxIdleDuration time.Duration) *Pool {
	return &Pool{
		connTicket:      make(chan interface{}, maxConn),
		idleTicket:      make(chan *conn, maxIdle),
		maxIdleDuration: maxIdleDuration,
	}
}

// Connect hands out an idle connection for the pool's key, or dials a
// new one. Stale idle connections (peer hung up, idle deadline passed)
// are evicted here on the way out, no background sweeper involved.
func (p *Pool) Connect(ctx context.Context, dial func(ctx context.Context) (net.Conn, error)) (Conn, error) {
	for {
		select {
		case c := <-p.idleTicket:
			if !c.Available() {
				continue
			}
			if p.maxIdleDuration != 0 && time.Since(c.lastIdle) > p.maxIdleDuration {
				c.Close()
				continue
			}
			if !nettools.Alive(c.conn) {
				c.Close()
				continue
			}
			c.reused = true
			return c, nil
		default:
			select {
			case p.connTicket <- nil:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			raw, err := dial(ctx)
			if err != nil {
				p.freeTicket()
				return nil, err
			}
			return &conn{conn: raw, p: p}, nil
		}
	}
}

func (p *Pool) release(c *conn) {
	c.lastIdle = time.Now()
	select {
	case p.idleTicket <- c:
	default:
		c.Close()
	}
}

func (p *Pool) freeTicket() {
	select {
	case <-p.connTicket:
	default:
	}
}
