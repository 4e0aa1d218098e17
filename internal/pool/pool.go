// Package pool tracks the fleet of remote panel servers and owns the live
// authenticated connection to each. It is the single writer of the
// online/descriptor cache; callers borrow connections but never mutate
// the set. Authentication failures degrade a server to offline and are
// never surfaced to callers as errors.
package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/blikh/xui-fleet/internal/metrics"
	"github.com/blikh/xui-fleet/internal/store"
)

// Pool maintains the in-memory map from server id to Connection, kept
// consistent with the server table by Sync.
type Pool struct {
	store  *store.Store
	auth   Authenticator
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[int64]*Connection

	// syncMu makes reconciliation passes single-flight: a pass that finds
	// another one running returns immediately.
	syncMu sync.Mutex

	prov   Provisioner
	events chan Event
}

// New creates a pool. The provisioner is wired in later via SetProvisioner.
func New(st *store.Store, auth Authenticator, logger *slog.Logger) *Pool {
	return &Pool{
		store:  st,
		auth:   auth,
		logger: logger,
		conns:  make(map[int64]*Connection),
		events: make(chan Event, 64),
	}
}

// SetProvisioner wires the VPN service in after construction.
func (p *Pool) SetProvisioner(prov Provisioner) {
	p.prov = prov
}

// Events returns the channel of server state transitions.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Add tracks a server. If no connection exists for its id, the pool
// authenticates against the server's host: on success the server is
// marked online and gets a live handle, on failure it stays tracked but
// offline. The persisted online flag is only written when it changed.
// It reports whether the server came up online.
func (p *Pool) Add(ctx context.Context, srv store.Server) bool {
	p.mu.RLock()
	existing, ok := p.conns[srv.ID]
	p.mu.RUnlock()
	if ok {
		return existing.Usable()
	}

	api, err := p.auth.Login(ctx, srv.Host)
	if err != nil {
		p.logger.Error("pool: failed to add server", "name", srv.Name, "host", srv.Host, "err", err)
		srv.Online = false
	} else {
		srv.Online = true
		p.logger.Info("pool: server added", "name", srv.Name, "host", srv.Host)
	}

	p.mu.Lock()
	if racing, ok := p.conns[srv.ID]; ok {
		// Another caller inserted the same id while we were logging in.
		p.mu.Unlock()
		return racing.Usable()
	}
	p.conns[srv.ID] = &Connection{Server: srv, API: api}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.persistOnline(ctx, srv, errString(err))
	return srv.Online
}

// Remove evicts the server from the live map. No network call; removing
// an absent id is a no-op.
func (p *Pool) Remove(id int64) {
	p.mu.Lock()
	if conn, ok := p.conns[id]; ok {
		delete(p.conns, id)
		p.logger.Info("pool: server removed", "name", conn.Server.Name)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// Refresh re-authenticates a tracked server, publishing a new connection
// built from the given snapshot's descriptor fields. Connections already
// lent out keep their old consistent state. A failure marks the server
// offline but keeps it tracked so later passes can retry. An untracked
// server is delegated to Add.
func (p *Pool) Refresh(ctx context.Context, srv store.Server) bool {
	p.mu.RLock()
	_, ok := p.conns[srv.ID]
	p.mu.RUnlock()
	if !ok {
		return p.Add(ctx, srv)
	}

	api, err := p.auth.Login(ctx, srv.Host)
	srv.Online = err == nil

	p.mu.Lock()
	if _, ok := p.conns[srv.ID]; !ok {
		// Removed while we were logging in; do not resurrect it.
		p.mu.Unlock()
		return false
	}
	p.conns[srv.ID] = &Connection{Server: srv, API: api}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("pool: server refresh failed", "name", srv.Name, "err", err)
	} else {
		p.logger.Debug("pool: server refreshed", "name", srv.Name)
	}
	p.persistOnline(ctx, srv, errString(err))
	return err == nil
}

// GetConnection resolves a connection for a user's operations. A primary
// server assignment resolves by id; without one, every pooled server is
// searched for the user's client entry and the first hit wins. No hit
// means no connection, never a guess.
func (p *Pool) GetConnection(ctx context.Context, user store.User) (*Connection, bool) {
	if user.ServerID != 0 {
		return p.GetConnectionByID(ctx, user.ServerID)
	}
	if p.prov == nil {
		return nil, false
	}
	for _, conn := range p.Connections() {
		if p.prov.LocateClient(ctx, conn, user.ID) {
			return conn, true
		}
	}
	p.logger.Debug("pool: user not found on any server", "user", user.ID)
	return nil, false
}

// GetConnectionByID returns the live connection for the server id. A
// tracked entry has its descriptor opportunistically refreshed from the
// database first. An untracked id is loaded from the database and added;
// an id unknown to the database, or a tracked-but-offline server, yields
// no connection.
func (p *Pool) GetConnectionByID(ctx context.Context, id int64) (*Connection, bool) {
	p.mu.RLock()
	conn, ok := p.conns[id]
	p.mu.RUnlock()

	if !ok {
		srv, found, err := p.store.GetServer(ctx, id)
		if err != nil {
			p.logger.Error("pool: loading server", "id", id, "err", err)
			return nil, false
		}
		if !found {
			p.logger.Error("pool: server not found in database", "id", id)
			return nil, false
		}
		if !p.Add(ctx, srv) {
			return nil, false
		}
		p.mu.RLock()
		conn, ok = p.conns[id]
		p.mu.RUnlock()
		if !ok {
			return nil, false
		}
		return conn, conn.Usable()
	}

	// Reconcile the cached descriptor with the database row by publishing
	// a fresh connection; the one already lent out stays untouched.
	// Liveness stays pool-owned: the pool is the single writer of the
	// online flag.
	if srv, found, err := p.store.GetServer(ctx, id); err != nil {
		p.logger.Warn("pool: refreshing server snapshot", "id", id, "err", err)
	} else if found {
		p.mu.Lock()
		if cur, ok := p.conns[id]; ok {
			srv.Online = cur.Server.Online
			conn = &Connection{Server: srv, API: cur.API}
			p.conns[id] = conn
		}
		p.mu.Unlock()
	}

	if !conn.Usable() {
		return nil, false
	}
	return conn, true
}

// Connections returns the usable connections ordered by server id.
func (p *Pool) Connections() []*Connection {
	p.mu.RLock()
	out := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		if conn.Usable() {
			out = append(out, conn)
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Server.ID < out[j].Server.ID })
	return out
}

// ListAll returns snapshots of every tracked server ordered by id,
// online or not.
func (p *Pool) ListAll() []store.Server {
	p.mu.RLock()
	out := make([]store.Server, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn.Server)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAvailable returns snapshots of online servers with free capacity.
func (p *Pool) ListAvailable() []store.Server {
	var out []store.Server
	for _, srv := range p.ListAll() {
		if srv.Online && srv.HasCapacity() {
			out = append(out, srv)
		}
	}
	return out
}

// AvailableServer picks the online server with the lowest occupancy that
// still has free capacity, optionally restricted to a location label.
// Ties resolve to the lowest server id, so repeated calls over the same
// state return the same server.
func (p *Pool) AvailableServer(location string) (store.Server, bool) {
	var best store.Server
	found := false
	for _, srv := range p.ListAll() {
		if !srv.Online || !srv.HasCapacity() {
			continue
		}
		if location != "" && srv.Location != location {
			continue
		}
		if !found || srv.CurrentClients < best.CurrentClients {
			best = srv
			found = true
		}
	}
	if !found && location != "" {
		p.logger.Warn("pool: no available server in location", "location", location)
	}
	return best, found
}

// persistOnline writes the liveness flag when it changed and emits a
// transition event. Persistence failures are logged, never propagated.
func (p *Pool) persistOnline(ctx context.Context, srv store.Server, errMsg string) {
	changed, err := p.store.SetServerOnline(ctx, srv.ID, srv.Online)
	if err != nil {
		p.logger.Error("pool: persisting online flag", "name", srv.Name, "err", err)
		return
	}
	if !changed {
		return
	}
	select {
	case p.events <- Event{ServerID: srv.ID, Name: srv.Name, Online: srv.Online, Error: errMsg}:
	default:
		p.logger.Warn("pool: event channel full, dropping event", "name", srv.Name, "online", srv.Online)
	}
}

func (p *Pool) updateGaugesLocked() {
	online := 0
	for _, conn := range p.conns {
		if conn.Usable() {
			online++
		}
	}
	metrics.PoolServersTracked.Set(float64(len(p.conns)))
	metrics.PoolServersOnline.Set(float64(online))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
