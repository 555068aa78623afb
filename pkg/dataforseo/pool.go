package dataforseo

import (
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/karlseguin/ccache/v3"
)

const (
	DefaultPoolSize = 1_000
	DefaultPoolTTL  = 30 * time.Minute
)

// Pool hands out one client per set of credentials.  Clients are keyed by credential
// fingerprint so raw secrets never become cache keys.
type Pool struct {
	cfg   Config
	ttl   time.Duration
	cache *ccache.Cache[*Client]
}

func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg: cfg.withDefaults(),
		ttl: DefaultPoolTTL,
		cache: ccache.New(ccache.Configure[*Client]().
			MaxSize(DefaultPoolSize).
			ItemsToPrune(100)),
	}
}

func (p *Pool) Client(creds auth.Credentials) *Client {
	item, _ := p.cache.Fetch(creds.Fingerprint(), p.ttl, func() (*Client, error) {
		return New(creds, p.cfg), nil
	})
	return item.Value()
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	return p.cache.ItemCount()
}

func (p *Pool) Stop() {
	p.cache.Stop()
}
