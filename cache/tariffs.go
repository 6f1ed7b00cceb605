package cache

import (
	"context"
	"time"

	"github.com/warp/estate-billing/billing"
)

// TariffLoader loads every tariff version from storage.
type TariffLoader func(ctx context.Context) (billing.TariffSet, error)

// TariffCache caches, per period, the tariff entries active in that period.
// Publishing tariffs must call Invalidate.
type TariffCache struct {
	cache    Cache[billing.Period, billing.TariffSet]
	load     TariffLoader
	ttl      time.Duration
	onLookup func(hit bool)
}

// NewTariffCache wraps load. A nil cache disables caching.
func NewTariffCache(c Cache[billing.Period, billing.TariffSet], load TariffLoader, ttl time.Duration) *TariffCache {
	if c == nil {
		c = NoopCache[billing.Period, billing.TariffSet]{}
	}
	return &TariffCache{cache: c, load: load, ttl: ttl}
}

// OnLookup registers a hook called with the outcome of every ForPeriod call.
func (t *TariffCache) OnLookup(fn func(hit bool)) {
	t.onLookup = fn
}

// ForPeriod returns the tariff entries active in p.
func (t *TariffCache) ForPeriod(ctx context.Context, p billing.Period) (billing.TariffSet, error) {
	if set, ok := t.cache.Get(p); ok {
		t.observe(true)
		return set, nil
	}
	t.observe(false)

	all, err := t.load(ctx)
	if err != nil {
		return billing.TariffSet{}, err
	}
	var active billing.TariffSet
	for _, e := range all.Entries {
		if e.ActiveFor(p) {
			active.Entries = append(active.Entries, e)
		}
	}
	t.cache.Set(p, active, t.ttl)
	return active, nil
}

// Invalidate drops every cached period.
func (t *TariffCache) Invalidate() {
	t.cache.Clear()
}

func (t *TariffCache) observe(hit bool) {
	if t.onLookup != nil {
		t.onLookup(hit)
	}
}
