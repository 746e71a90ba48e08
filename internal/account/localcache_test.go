package account

import (
	"testing"
	"time"

	"audit-enrich/internal/model"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(ttl time.Duration, max int) (*LocalCache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLocalCache(ttl, max)
	c.now = clk.Now
	c.lastSweep = clk.Now()
	return c, clk
}

func TestLocalCache_TTL(t *testing.T) {
	c, clk := newTestCache(time.Hour, 10)
	c.Put(model.AccountMetadata{AccountID: "111111111111", Alias: "a"})

	got, ok := c.Get("111111111111")
	assert.True(t, ok)
	assert.Equal(t, "a", got.Alias)

	clk.Advance(59 * time.Minute)
	_, ok = c.Get("111111111111")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get("111111111111")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_EvictsOldestWhenFull(t *testing.T) {
	c, clk := newTestCache(time.Hour, 2)
	c.Put(model.AccountMetadata{AccountID: "a"})
	clk.Advance(time.Second)
	c.Put(model.AccountMetadata{AccountID: "b"})
	clk.Advance(time.Second)
	c.Put(model.AccountMetadata{AccountID: "c"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLocalCache_SweepsExpiredBeforeEvicting(t *testing.T) {
	c, clk := newTestCache(time.Minute, 2)
	c.Put(model.AccountMetadata{AccountID: "a"})
	clk.Advance(30 * time.Second)
	c.Put(model.AccountMetadata{AccountID: "b"})
	clk.Advance(45 * time.Second) // a 만료, b 유효

	c.Put(model.AccountMetadata{AccountID: "c"})

	_, ok := c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLocalCache_Delete(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	c.Put(model.AccountMetadata{AccountID: "a"})
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
