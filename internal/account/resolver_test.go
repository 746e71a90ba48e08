package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audit-enrich/internal/backoff"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	calls   atomic.Int64
	entries map[string]DirectoryEntry
	err     error
	failN   int64         // 처음 failN 번은 err 반환
	delay   time.Duration // 응답 지연 (ctx 취소 시 즉시 반환)
}

func (f *fakeDirectory) Lookup(ctx context.Context, accountID string) (DirectoryEntry, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return DirectoryEntry{}, ctx.Err()
		}
	}
	if f.err != nil && (f.failN == 0 || n <= f.failN) {
		return DirectoryEntry{}, f.err
	}
	e, ok := f.entries[accountID]
	if !ok {
		return DirectoryEntry{}, backoff.Permanent(errors.New("not found"))
	}
	return e, nil
}

type fakeDurable struct {
	mu       sync.Mutex
	items    map[string]model.AccountMetadata
	cachedAt map[string]time.Time // 없으면 Get 시점
	getErr   error
	putErr  error
	puts    int
	deletes int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{items: map[string]model.AccountMetadata{}, cachedAt: map[string]time.Time{}}
}

func (f *fakeDurable) Get(ctx context.Context, id string) (CachedMetadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return CachedMetadata{}, false, f.getErr
	}
	m, ok := f.items[id]
	if !ok {
		return CachedMetadata{}, false, nil
	}
	at, ok := f.cachedAt[id]
	if !ok {
		at = time.Now()
	}
	return CachedMetadata{Meta: m, CachedAt: at}, true, nil
}

func (f *fakeDurable) Put(ctx context.Context, m model.AccountMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.items[m.AccountID] = m
	return nil
}

func (f *fakeDurable) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.items, id)
	return nil
}

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		TTL:        time.Hour,
		MaxEntries: 100,
		Retry: backoff.Policy{
			MaxAttempts: 3,
			Base:        time.Millisecond,
			Max:         2 * time.Millisecond,
		},
	}
}

func prodMainDirectory() *fakeDirectory {
	return &fakeDirectory{entries: map[string]DirectoryEntry{
		"111111111111": {
			AccountID: "111111111111",
			Name:      "prod-main",
			Status:    "ACTIVE",
			Tags:      map[string]string{"CostCenter": "cc-100", "Team": "platform"},
		},
	}}
}

func TestResolver_CacheTiering(t *testing.T) {
	dir := prodMainDirectory()
	durable := newFakeDurable()
	r := NewResolver(dir, durable, testResolverConfig())

	inv1 := metrics.NewInvocation(time.Now())
	m1 := r.Resolve(context.Background(), "111111111111", inv1)
	assert.Equal(t, "prod-main", m1.Alias)
	assert.Equal(t, int64(1), inv1.Snapshot().RemoteCalls)
	assert.Equal(t, int64(1), inv1.Snapshot().LocalCacheMisses)
	assert.Equal(t, 1, durable.puts)

	inv2 := metrics.NewInvocation(time.Now())
	m2 := r.Resolve(context.Background(), "111111111111", inv2)
	assert.Equal(t, m1, m2)
	assert.Equal(t, int64(0), inv2.Snapshot().RemoteCalls)
	assert.Equal(t, int64(1), inv2.Snapshot().LocalCacheHits)
	assert.Equal(t, int64(1), dir.calls.Load())
}

func TestResolver_DurableHitPromotesToLocal(t *testing.T) {
	dir := prodMainDirectory()
	durable := newFakeDurable()
	durable.items["222222222222"] = model.AccountMetadata{AccountID: "222222222222", Alias: "shared", AccountType: model.AccountTypeDevelopment}
	r := NewResolver(dir, durable, testResolverConfig())

	inv := metrics.NewInvocation(time.Now())
	m := r.Resolve(context.Background(), "222222222222", inv)
	assert.Equal(t, "shared", m.Alias)

	m = r.Resolve(context.Background(), "222222222222", inv)
	assert.Equal(t, "shared", m.Alias)

	s := inv.Snapshot()
	assert.Equal(t, int64(1), s.DurableCacheHits)
	assert.Equal(t, int64(1), s.LocalCacheHits)
	assert.Equal(t, int64(0), s.RemoteCalls)
	assert.Equal(t, int64(0), dir.calls.Load())
}

func TestResolver_DurableErrorIsAMiss(t *testing.T) {
	dir := prodMainDirectory()
	durable := newFakeDurable()
	durable.getErr = errors.New("throttled")
	r := NewResolver(dir, durable, testResolverConfig())

	inv := metrics.NewInvocation(time.Now())
	m := r.Resolve(context.Background(), "111111111111", inv)

	assert.False(t, m.Fallback)
	s := inv.Snapshot()
	assert.Equal(t, int64(1), s.DurableCacheErrors)
	assert.Equal(t, int64(1), s.DurableCacheMisses)
	assert.Equal(t, int64(1), s.RemoteCalls)
}

func TestResolver_FallbackAfterRetries(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("TooManyRequestsException")}
	durable := newFakeDurable()
	r := NewResolver(dir, durable, testResolverConfig())

	inv := metrics.NewInvocation(time.Now())
	m := r.Resolve(context.Background(), "333333333333", inv)

	assert.True(t, m.Fallback)
	assert.Equal(t, "333333333333", m.Alias)
	assert.Equal(t, model.AccountTypeUnknown, m.AccountType)
	assert.Equal(t, int64(3), dir.calls.Load())

	s := inv.Snapshot()
	assert.Equal(t, int64(1), s.RemoteCalls)
	assert.Equal(t, int64(1), s.Fallbacks)
	assert.Equal(t, 0, durable.puts, "fallback must not be cached")
}

func TestResolver_RecoversWithinRetryBudget(t *testing.T) {
	dir := prodMainDirectory()
	dir.err = errors.New("transient")
	dir.failN = 2
	r := NewResolver(dir, nil, testResolverConfig())

	m := r.Resolve(context.Background(), "111111111111", nil)
	assert.False(t, m.Fallback)
	assert.Equal(t, int64(3), dir.calls.Load())
}

func TestResolver_PermanentErrorNotRetried(t *testing.T) {
	dir := prodMainDirectory()
	r := NewResolver(dir, nil, testResolverConfig())

	m := r.Resolve(context.Background(), "999999999999", nil)
	assert.True(t, m.Fallback)
	assert.Equal(t, int64(1), dir.calls.Load())
}

func TestResolver_InvalidAccountIDSkipsRemote(t *testing.T) {
	dir := prodMainDirectory()
	r := NewResolver(dir, nil, testResolverConfig())

	inv := metrics.NewInvocation(time.Now())
	m := r.Resolve(context.Background(), "", inv)

	assert.True(t, m.Fallback)
	assert.Equal(t, "unknown", m.Alias)
	assert.Equal(t, int64(0), dir.calls.Load())
	assert.Equal(t, int64(1), inv.Snapshot().Fallbacks)
}

func TestResolver_Invalidate(t *testing.T) {
	dir := prodMainDirectory()
	durable := newFakeDurable()
	r := NewResolver(dir, durable, testResolverConfig())

	r.Resolve(context.Background(), "111111111111", nil)
	require.NoError(t, r.Invalidate(context.Background(), "111111111111"))
	assert.Equal(t, 1, durable.deletes)

	r.Resolve(context.Background(), "111111111111", nil)
	assert.Equal(t, int64(2), dir.calls.Load())
}

func TestResolver_ConcurrentMissesShareOneLookup(t *testing.T) {
	dir := prodMainDirectory()
	r := NewResolver(dir, nil, testResolverConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := r.Resolve(context.Background(), "111111111111", nil)
			assert.Equal(t, "prod-main", m.Alias)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, dir.calls.Load(), int64(16))
	assert.GreaterOrEqual(t, dir.calls.Load(), int64(1))
}

func TestResolver_PromotionKeepsDurableCachedAt(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	dir := prodMainDirectory()
	durable := newFakeDurable()
	durable.items["111111111111"] = model.AccountMetadata{AccountID: "111111111111", Alias: "old-alias"}
	durable.cachedAt["111111111111"] = clk.Now().Add(-54 * time.Minute)

	r := NewResolver(dir, durable, testResolverConfig())
	r.local.now = clk.Now

	m := r.Resolve(context.Background(), "111111111111", nil)
	assert.Equal(t, "old-alias", m.Alias)
	assert.Equal(t, int64(0), dir.calls.Load())

	// durable 행이 TTL 로 사라진 뒤, 로컬 사본도 원래 cachedAt 기준으로 만료돼야 한다.
	delete(durable.items, "111111111111")
	clk.Advance(10 * time.Minute)

	inv := metrics.NewInvocation(time.Now())
	m = r.Resolve(context.Background(), "111111111111", inv)
	assert.Equal(t, "prod-main", m.Alias)
	assert.Equal(t, int64(1), dir.calls.Load())
	assert.Equal(t, int64(1), inv.Snapshot().LocalCacheMisses)
}

func TestResolver_ExpiredDurableRowIsNotPromoted(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLocalCache(time.Hour, 10)
	c.now = clk.Now

	c.PutAt(model.AccountMetadata{AccountID: "a"}, clk.Now().Add(-2*time.Hour))
	assert.Equal(t, 0, c.Len())

	c.PutAt(model.AccountMetadata{AccountID: "b"}, clk.Now().Add(-30*time.Minute))
	clk.Advance(31 * time.Minute)
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestResolver_CallerDeadlineDoesNotLeakIntoOthers(t *testing.T) {
	dir := prodMainDirectory()
	dir.delay = 50 * time.Millisecond
	r := NewResolver(dir, nil, testResolverConfig())

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	invA := metrics.NewInvocation(time.Now())
	invB := metrics.NewInvocation(time.Now())
	var (
		wg     sync.WaitGroup
		mA, mB model.AccountMetadata
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mA = r.Resolve(short, "111111111111", invA)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		mB = r.Resolve(context.Background(), "111111111111", invB)
	}()
	wg.Wait()

	assert.True(t, mA.Fallback)
	assert.Equal(t, int64(1), invA.Snapshot().Fallbacks)

	assert.False(t, mB.Fallback)
	assert.Equal(t, "prod-main", mB.Alias)
	sB := invB.Snapshot()
	assert.Equal(t, int64(0), sB.Fallbacks)
	assert.Equal(t, int64(1), sB.RemoteCalls)
	assert.Equal(t, int64(1), dir.calls.Load())
}

func TestResolver_SharedFallbackIsRetriedByFollower(t *testing.T) {
	dir := prodMainDirectory()
	dir.err = backoff.Permanent(errors.New("AccessDeniedException"))
	dir.failN = 1
	dir.delay = 50 * time.Millisecond
	r := NewResolver(dir, nil, testResolverConfig())

	invA := metrics.NewInvocation(time.Now())
	invB := metrics.NewInvocation(time.Now())
	var (
		wg     sync.WaitGroup
		mA, mB model.AccountMetadata
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mA = r.Resolve(context.Background(), "111111111111", invA)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		mB = r.Resolve(context.Background(), "111111111111", invB)
	}()
	wg.Wait()

	assert.True(t, mA.Fallback)
	assert.Equal(t, int64(1), invA.Snapshot().Fallbacks)

	assert.False(t, mB.Fallback)
	assert.Equal(t, int64(0), invB.Snapshot().Fallbacks)
	assert.Equal(t, int64(2), invB.Snapshot().RemoteCalls)
	assert.Equal(t, int64(2), dir.calls.Load())
}

func TestBuildMetadata_Priorities(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("name heuristic", func(t *testing.T) {
		m := BuildMetadata(DirectoryEntry{AccountID: "111111111111", Name: "prod-main", Status: "ACTIVE"}, now)
		assert.Equal(t, "prod-main", m.Alias)
		assert.Equal(t, "production", m.Environment)
		assert.Equal(t, model.AccountTypeProduction, m.AccountType)
		assert.Equal(t, "ACTIVE", m.Status)
		assert.Equal(t, now, m.LastUpdated)
	})

	t.Run("tags win", func(t *testing.T) {
		m := BuildMetadata(DirectoryEntry{
			AccountID: "111111111111",
			Name:      "prod-main",
			Tags: map[string]string{
				"account-alias":   "payments",
				"ENV":             "Staging",
				"cost_center":     "cc-9",
				"Business-Unit":   "fin",
				"ComplianceLevel": "pci",
				"team":            "pay",
			},
		}, now)
		assert.Equal(t, "payments", m.Alias)
		assert.Equal(t, "Staging", m.Environment)
		assert.Equal(t, model.AccountTypeStaging, m.AccountType)
		assert.Equal(t, "cc-9", m.CostCenter)
		assert.Equal(t, "fin", m.BusinessUnit)
		assert.Equal(t, "pci", m.ComplianceLevel)
		assert.Equal(t, "pay", m.Team)
	})

	t.Run("account type tag", func(t *testing.T) {
		m := BuildMetadata(DirectoryEntry{
			AccountID: "111111111111",
			Name:      "shared-services",
			Tags:      map[string]string{"AccountType": "sandbox"},
		}, now)
		assert.Equal(t, "sandbox", m.Environment)
		assert.Equal(t, model.AccountTypeSandbox, m.AccountType)
	})

	t.Run("nothing known", func(t *testing.T) {
		m := BuildMetadata(DirectoryEntry{AccountID: "111111111111"}, now)
		assert.Equal(t, "111111111111", m.Alias)
		assert.Equal(t, "unknown", m.Environment)
		assert.Equal(t, model.AccountTypeUnknown, m.AccountType)
		assert.False(t, m.Fallback)
	})
}
