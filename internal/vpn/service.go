// Package vpn implements per-user entitlement operations across the
// fleet: a user's client entry is created, updated and deleted by fanning
// the operation out over every pooled server, and usage is aggregated
// across all servers that host the user. One server's failure never
// aborts the fan-out over the rest; an operation succeeds when at least
// one server accepted it, and divergence is healed by the pool's
// convergence pass.
package vpn

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/panel"
	"github.com/blikh/xui-fleet/internal/pool"
	"github.com/blikh/xui-fleet/internal/store"
)

// defaultFlow is the flow tag stamped onto created client entries.
const defaultFlow = "xtls-rprx-vision"

type Service struct {
	cfg    *config.Config
	store  *store.Store
	pool   *pool.Pool
	logger *slog.Logger
}

func New(cfg *config.Config, st *store.Store, pl *pool.Pool, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: st, pool: pl, logger: logger}
}

// FoundClient is a client entry located on one server, together with the
// inbound it lives in (needed for delete) and its traffic record, if the
// panel keeps one.
type FoundClient struct {
	InboundID int
	Client    panel.Client
	Stat      panel.ClientStat
	HasStat   bool
}

func emailFor(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// FindOnServer scans every inbound's client list on the connection for an
// entry labelled with the user's identity. A genuine miss is
// (zero, false, nil); a failed inbound listing is an error, so callers can
// tell "not hosted here" from "could not ask". Inbound lists are small and
// the panel API offers no keyed lookup, so the scan is linear.
func (s *Service) FindOnServer(ctx context.Context, conn *pool.Connection, userID int64) (FoundClient, bool, error) {
	email := emailFor(userID)

	inbounds, err := conn.API.ListInbounds(ctx)
	if err != nil {
		return FoundClient{}, false, fmt.Errorf("vpn: listing inbounds on %s: %w", conn.Server.Name, err)
	}

	for i := range inbounds {
		clients, err := inbounds[i].Clients()
		if err != nil {
			s.logger.Warn("vpn: parsing inbound clients",
				"server", conn.Server.Name, "inbound", inbounds[i].ID, "err", err)
			continue
		}
		for _, c := range clients {
			if c.Email != email {
				continue
			}
			found := FoundClient{InboundID: inbounds[i].ID, Client: c}
			found.Stat, found.HasStat = inbounds[i].StatFor(email)
			return found, true, nil
		}
	}
	return FoundClient{}, false, nil
}

// LocateClient implements pool.Provisioner.
func (s *Service) LocateClient(ctx context.Context, conn *pool.Connection, userID int64) bool {
	_, ok, err := s.FindOnServer(ctx, conn, userID)
	if err != nil {
		s.logger.Warn("vpn: locating client", "server", conn.Server.Name, "err", err)
		return false
	}
	return ok
}

// ExistsAnywhere searches every pooled server for the user's client
// entry, short-circuiting on the first hit. Servers that cannot be
// queried are skipped.
func (s *Service) ExistsAnywhere(ctx context.Context, user store.User) (*pool.Connection, FoundClient, bool) {
	for _, conn := range s.pool.Connections() {
		found, ok, err := s.FindOnServer(ctx, conn, user.ID)
		if err != nil {
			s.logger.Warn("vpn: searching for client", "server", conn.Server.Name, "err", err)
			continue
		}
		if ok {
			return conn, found, true
		}
	}
	return nil, FoundClient{}, false
}

// AggregatedData is the merge of a user's client entries across every
// server hosting them. Traffic sums across servers; policy fields come
// from the first server the user is found on (assumed identical
// everywhere; if servers diverge the first-found value silently wins).
// -1 means unlimited.
type AggregatedData struct {
	Up         int64
	Down       int64
	Used       int64
	Total      int64
	Remaining  int64
	MaxDevices int
	ExpiryTime int64 // unix milliseconds
}

// AggregatedData sums the user's usage across all servers that host
// them. It reports false only when no server has the user.
func (s *Service) AggregatedData(ctx context.Context, user store.User) (AggregatedData, bool) {
	var (
		data  AggregatedData
		total int64
		hits  int
	)

	for _, conn := range s.pool.Connections() {
		found, ok, err := s.FindOnServer(ctx, conn, user.ID)
		if err != nil {
			s.logger.Warn("vpn: aggregating usage", "server", conn.Server.Name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		hits++
		if found.HasStat {
			data.Up += found.Stat.Up
			data.Down += found.Stat.Down
		}
		if hits == 1 {
			total = found.Client.TotalGB
			data.MaxDevices = found.Client.LimitIP
			if data.MaxDevices == 0 {
				data.MaxDevices = -1
			}
			data.ExpiryTime = found.Client.ExpiryTime
			if data.ExpiryTime == 0 {
				data.ExpiryTime = -1
			}
		} else {
			s.logger.Debug("vpn: policy fields taken from first server only",
				"user", user.ID, "skipped_server", conn.Server.Name)
		}
	}
	if hits == 0 {
		return AggregatedData{}, false
	}

	data.Used = data.Up + data.Down
	if total <= 0 {
		data.Total = -1
		data.Remaining = -1
	} else {
		data.Total = total
		data.Remaining = max(0, total-data.Used)
	}
	return data, true
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
