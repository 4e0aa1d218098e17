package pool

import (
	"context"
	"fmt"

	"github.com/blikh/xui-fleet/internal/metrics"
	"github.com/blikh/xui-fleet/internal/store"
)

// Sync reconciles the live connection set with the server table. It is
// meant to run periodically and after administrative server CRUD:
// pooled ids gone from the database are evicted, ids present in both get
// their descriptor updated and are re-authenticated, database ids not yet
// pooled are added, and every subscriber is replayed onto servers that
// just came up online so a fresh fleet member converges to the existing
// user population. Per-user replay failures are logged and counted,
// never abort the pass. Overlapping calls are single-flight: a pass that
// finds another one running returns immediately.
func (p *Pool) Sync(ctx context.Context) error {
	if !p.syncMu.TryLock() {
		p.logger.Debug("pool: sync already in progress, skipping")
		return nil
	}
	defer p.syncMu.Unlock()

	dbServers, err := p.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("pool: sync: %w", err)
	}
	dbByID := make(map[int64]store.Server, len(dbServers))
	for _, srv := range dbServers {
		dbByID[srv.ID] = srv
	}

	// Evict servers removed from the database.
	p.mu.RLock()
	var stale []int64
	for id := range p.conns {
		if _, ok := dbByID[id]; !ok {
			stale = append(stale, id)
		}
	}
	p.mu.RUnlock()
	for _, id := range stale {
		p.Remove(id)
	}

	// Re-authenticate tracked servers with their current descriptors and
	// add the rest, remembering which additions came up online.
	var fresh []store.Server
	for _, srv := range dbServers {
		p.mu.RLock()
		_, tracked := p.conns[srv.ID]
		p.mu.RUnlock()

		if tracked {
			p.Refresh(ctx, srv)
			continue
		}
		if p.Add(ctx, srv) {
			fresh = append(fresh, srv)
		}
	}

	replayFailures := p.converge(ctx, fresh)

	metrics.SyncRunsTotal.Inc()
	p.logger.Info("pool: sync complete",
		"tracked", len(dbServers),
		"online", len(p.Connections()),
		"added_online", len(fresh),
		"replay_failures", replayFailures)
	return nil
}

// converge replays every subscriber onto the newly-online servers so the
// fleet converges without a bulk migration tool.
func (p *Pool) converge(ctx context.Context, fresh []store.Server) int {
	if len(fresh) == 0 || p.prov == nil {
		return 0
	}

	users, err := p.store.ListSubscribers(ctx)
	if err != nil {
		p.logger.Error("pool: listing subscribers for convergence", "err", err)
		return 0
	}

	failures := 0
	for _, srv := range fresh {
		for _, user := range users {
			if err := p.prov.EnsureExistsOnServer(ctx, user, srv.ID); err != nil {
				failures++
				metrics.SyncReplayFailures.Inc()
				p.logger.Warn("pool: convergence replay failed",
					"user", user.ID, "server", srv.Name, "err", err)
			}
		}
	}
	return failures
}
