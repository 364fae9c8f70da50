package quota

import (
	"time"

	"github.com/ammario/tlru"

	"pressroom/internal/domain"
)

// cacheMaxEntries bounds the in-process quota cache. Entries are tiny;
// this is per-user, not per-request.
const cacheMaxEntries = 100_000

// quotaCache is a short-TTL read cache for quota documents. Writes from
// this process refresh the entry synchronously; other processes rely on
// TTL expiry, which bounds read staleness to the TTL.
type quotaCache struct {
	cache *tlru.Cache[string, *domain.UserQuota]
	ttl   time.Duration
}

func newQuotaCache(ttl time.Duration) *quotaCache {
	return &quotaCache{
		cache: tlru.New[string](tlru.ConstantCost[*domain.UserQuota], cacheMaxEntries),
		ttl:   ttl,
	}
}

func (c *quotaCache) get(userID string) (*domain.UserQuota, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	q, _, ok := c.cache.Get(userID)
	if !ok {
		return nil, false
	}
	return q.Clone(), true
}

// put stores a copy so later mutations by the caller cannot leak into
// concurrent readers.
func (c *quotaCache) put(q *domain.UserQuota) {
	if c.ttl <= 0 || q == nil {
		return
	}
	c.cache.Set(q.UserID, q.Clone(), c.ttl)
}
