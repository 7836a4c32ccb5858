package uploadkit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// newRetention returns a cache whose expirations drop finished items from
// the manager, or nil when ttl is zero.
func newRetention(m *Manager, ttl time.Duration) *ttlcache.Cache[string, struct{}] {
	if ttl <= 0 {
		return nil
	}
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	// Deletions come from ClearAll and Close, which already dropped the item.
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, it *ttlcache.Item[string, struct{}]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		m.drop(it.Key())
	})
	go cache.Start()
	return cache
}

// retain schedules rec for removal. m.mu must be held.
func (m *Manager) retain(rec *record) {
	if m.retention == nil {
		return
	}
	m.retention.Set(rec.item.ID, struct{}{}, ttlcache.DefaultTTL)
}

// drop removes a finished item once its retention expired.
func (m *Manager) drop(id string) {
	m.mu.Lock()
	defer m.unlock()

	rec, ok := m.index[id]
	if !ok || rec.item.Status.isPending() {
		return
	}
	m.remove(rec)
	m.logger.Debug("finished item expired", slog.String("id", id), slog.String("name", rec.item.Name))
}
