package account

import (
	"sync"
	"time"

	"audit-enrich/internal/model"
)

// entry 는 로컬 캐시 1건. storedAt 기준으로 TTL 을 판단한다.
type entry struct {
	meta     model.AccountMetadata
	storedAt time.Time
}

// LocalCache
//
// 프로세스 로컬 1차 캐시. Lambda warm 상태에서는 invocation 을 넘어 재사용되고,
// server 모드에서는 동시 요청이 공유하므로 mutex 로 보호한다.
//
//   - Get 시 만료된 엔트리는 그 자리에서 지운다.
//   - Put 시 sweepEvery 가 지났으면 만료 엔트리를 한 번 훑어 지운다.
//   - 그래도 maxEntries 에 도달해 있으면 가장 오래된 엔트리를 내보낸다.
type LocalCache struct {
	mu         sync.Mutex
	items      map[string]entry
	ttl        time.Duration
	maxEntries int
	sweepEvery time.Duration
	lastSweep  time.Time

	now func() time.Time
}

func NewLocalCache(ttl time.Duration, maxEntries int) *LocalCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	sweep := ttl / 4
	if sweep <= 0 || sweep > time.Hour {
		sweep = time.Hour
	}
	c := &LocalCache{
		items:      make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		sweepEvery: sweep,
		now:        time.Now,
	}
	c.lastSweep = c.now()
	return c
}

func (c *LocalCache) Get(accountID string) (model.AccountMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[accountID]
	if !ok {
		return model.AccountMetadata{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.items, accountID)
		return model.AccountMetadata{}, false
	}
	return e.meta, true
}

func (c *LocalCache) Put(meta model.AccountMetadata) {
	c.PutAt(meta, time.Time{})
}

// PutAt 은 storedAt 을 저장 시각으로 기록한다 (durable 승격 시 cachedAt 을 이어받는다).
// zero 값이면 현재 시각. 이미 TTL 이 지난 값은 넣지 않는다.
func (c *LocalCache) PutAt(meta model.AccountMetadata, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if storedAt.IsZero() {
		storedAt = now
	}
	if now.Sub(storedAt) >= c.ttl {
		return
	}
	if now.Sub(c.lastSweep) >= c.sweepEvery {
		c.sweepLocked(now)
	}

	if _, exists := c.items[meta.AccountID]; !exists && len(c.items) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.items) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.items[meta.AccountID] = entry{meta: meta, storedAt: storedAt}
}

func (c *LocalCache) Delete(accountID string) {
	c.mu.Lock()
	delete(c.items, accountID)
	c.mu.Unlock()
}

func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LocalCache) sweepLocked(now time.Time) {
	for id, e := range c.items {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.items, id)
		}
	}
	c.lastSweep = now
}

func (c *LocalCache) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
		found    bool
	)
	for id, e := range c.items {
		if !found || e.storedAt.Before(oldestAt) {
			oldestID, oldestAt, found = id, e.storedAt, true
		}
	}
	if found {
		delete(c.items, oldestID)
	}
}
