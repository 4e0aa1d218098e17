package vpn

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blikh/xui-fleet/internal/panel"
	"github.com/blikh/xui-fleet/internal/pool"
	"github.com/blikh/xui-fleet/internal/store"
)

// CreateClient provisions a client entry for the user on every pooled
// server. A server that already has the entry gets an update instead
// (duplicate creation is idempotent). After at least one server accepts,
// the identifier the first successful server actually assigned is
// re-resolved (panels may not honor the client-supplied id verbatim) and
// persisted together with that server as the user's primary assignment.
// It reports false only when zero servers accepted.
func (s *Service) CreateClient(ctx context.Context, user store.User, devices, durationDays int) (store.User, bool) {
	conns := s.pool.Connections()
	if len(conns) == 0 {
		s.logger.Error("vpn: create client: no servers in pool", "user", user.ID)
		return user, false
	}

	subID := user.SubID
	if subID == "" {
		subID = uuid.NewString()
	}

	var expiry int64
	if durationDays > 0 {
		expiry = nowMillis() + int64(durationDays)*dayMillis
	}

	template := panel.Client{
		ID:         subID,
		Flow:       defaultFlow,
		Email:      emailFor(user.ID),
		LimitIP:    devices,
		ExpiryTime: expiry,
		Enable:     true,
		SubID:      subID,
	}

	s.logger.Info("vpn: creating client",
		"user", user.ID, "devices", devices, "days", durationDays, "servers", len(conns))

	errs := s.fanOut(ctx, conns, "create", func(conn *pool.Connection) error {
		found, ok, err := s.FindOnServer(ctx, conn, user.ID)
		if err != nil {
			return err
		}
		if ok {
			s.logger.Warn("vpn: client already exists, forcing update",
				"user", user.ID, "server", conn.Server.Name)
			c := template
			c.ID = found.Client.ID
			if found.Client.SubID != "" {
				// Keep the subscription token the server already serves.
				c.SubID = found.Client.SubID
			}
			return conn.API.UpdateClient(ctx, found.Client.ID, found.InboundID, c)
		}
		inboundID, err := firstInboundID(ctx, conn)
		if err != nil {
			return err
		}
		return conn.API.AddClient(ctx, inboundID, template)
	})

	first := firstSuccess(errs)
	if first < 0 {
		s.logger.Error("vpn: create client failed on every server", "user", user.ID)
		return user, false
	}

	// The panel may rewrite identifiers; adopt whatever the first
	// successful server actually serves the subscription under.
	actualID := subID
	if found, ok, err := s.FindOnServer(ctx, conns[first], user.ID); err == nil && ok {
		switch {
		case found.Client.SubID != "":
			actualID = found.Client.SubID
		case found.Client.ID != "":
			actualID = found.Client.ID
		}
	}

	user.ServerID = conns[first].Server.ID
	user.SubID = actualID
	if err := s.store.UpsertUser(ctx, user); err != nil {
		s.logger.Error("vpn: persisting user after create", "user", user.ID, "err", err)
	}

	s.logger.Info("vpn: client created",
		"user", user.ID, "primary", conns[first].Server.Name, "accepted", successCount(errs))
	return user, true
}

// UpdateClient applies a change set to the user's entry on every pooled
// server. Servers missing the entry get a fresh one synthesized from the
// same change set, mirroring CreateClient's duplicate tolerance; servers
// that cannot be queried count as failures. It reports true when at least
// one server accepted.
func (s *Service) UpdateClient(ctx context.Context, user store.User, upd ClientUpdate) bool {
	conns := s.pool.Connections()
	if len(conns) == 0 {
		s.logger.Error("vpn: update client: no servers in pool", "user", user.ID)
		return false
	}

	// Without a stored subscription id, adopt the one the fleet already
	// serves before minting a fresh one, so healed entries stay resolvable.
	subID := user.SubID
	if subID == "" {
		if _, found, ok := s.ExistsAnywhere(ctx, user); ok {
			if found.Client.SubID != "" {
				subID = found.Client.SubID
			} else {
				subID = found.Client.ID
			}
		}
		if subID == "" {
			subID = uuid.NewString()
		}
	}
	now := timeNow()

	errs := s.fanOut(ctx, conns, "update", func(conn *pool.Connection) error {
		found, ok, err := s.FindOnServer(ctx, conn, user.ID)
		if err != nil {
			return err
		}
		if ok {
			c := found.Client
			upd.Apply(&c, now)
			return conn.API.UpdateClient(ctx, found.Client.ID, found.InboundID, c)
		}
		// Self-heal: recreate the entry where it is missing.
		c := panel.Client{
			ID:     subID,
			Flow:   defaultFlow,
			Email:  emailFor(user.ID),
			Enable: true,
			SubID:  subID,
		}
		upd.Apply(&c, now)
		inboundID, err := firstInboundID(ctx, conn)
		if err != nil {
			return err
		}
		return conn.API.AddClient(ctx, inboundID, c)
	})

	if successCount(errs) == 0 {
		s.logger.Error("vpn: update client failed on every server", "user", user.ID)
		return false
	}

	if user.SubID != subID {
		user.SubID = subID
		if err := s.store.UpsertUser(ctx, user); err != nil {
			s.logger.Error("vpn: persisting subscription id after update", "user", user.ID, "err", err)
		}
	}
	return true
}

// EnableClient re-enables the user's entries everywhere.
func (s *Service) EnableClient(ctx context.Context, user store.User) bool {
	return s.UpdateClient(ctx, user, ClientUpdate{Enable: boolPtr(true)})
}

// DisableClient disables the user's entries everywhere.
func (s *Service) DisableClient(ctx context.Context, user store.User) bool {
	return s.UpdateClient(ctx, user, ClientUpdate{Enable: boolPtr(false)})
}

// DeleteClient removes the user's entry from every pooled server; a
// server verified not to hold the entry counts as already satisfied, but
// a server that cannot be queried counts as a failure, so an unreachable
// fleet never reports a successful delete. When at least one server
// succeeded, the primary assignment is cleared and the subscription
// identifier is rotated to a fresh throwaway value, severing any
// previously issued subscription URL.
func (s *Service) DeleteClient(ctx context.Context, user store.User) bool {
	conns := s.pool.Connections()
	if len(conns) == 0 {
		s.logger.Error("vpn: delete client: no servers in pool", "user", user.ID)
		return false
	}

	s.logger.Info("vpn: deleting client", "user", user.ID, "servers", len(conns))

	errs := s.fanOut(ctx, conns, "delete", func(conn *pool.Connection) error {
		found, ok, err := s.FindOnServer(ctx, conn, user.ID)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug("vpn: client absent, delete already satisfied",
				"user", user.ID, "server", conn.Server.Name)
			return nil
		}
		return conn.API.DeleteClient(ctx, found.InboundID, found.Client.ID)
	})

	if successCount(errs) == 0 {
		s.logger.Error("vpn: delete client failed on every server", "user", user.ID)
		return false
	}

	if err := s.store.ReassignSub(ctx, user.ID, uuid.NewString()); err != nil {
		s.logger.Error("vpn: rotating subscription id after delete", "user", user.ID, "err", err)
	}
	return true
}

// EnsureExistsOnServer replays the user's client entry onto one server,
// deriving the creation parameters from the aggregated view of the
// servers that already host them. The existing subscription identifier is
// reused so the fleet converges on one externally-visible id. Used by the
// pool's convergence pass; a no-op when the entry is already present.
func (s *Service) EnsureExistsOnServer(ctx context.Context, user store.User, serverID int64) error {
	conn, ok := s.pool.GetConnectionByID(ctx, serverID)
	if !ok {
		return fmt.Errorf("vpn: server %d not available", serverID)
	}
	if _, ok, err := s.FindOnServer(ctx, conn, user.ID); err != nil {
		return err
	} else if ok {
		return nil
	}

	data, ok := s.AggregatedData(ctx, user)
	if !ok {
		// Nothing hosts the user yet, so there is nothing to replay.
		s.logger.Debug("vpn: no source server for replay", "user", user.ID)
		return nil
	}

	devices := data.MaxDevices
	if devices < 0 {
		devices = 0
	}
	var expiry int64
	if data.ExpiryTime > 0 {
		expiry = data.ExpiryTime
	}
	var total int64
	if data.Total > 0 {
		total = data.Total
	}

	c := panel.Client{
		ID:         user.SubID,
		Flow:       defaultFlow,
		Email:      emailFor(user.ID),
		LimitIP:    devices,
		TotalGB:    total,
		ExpiryTime: expiry,
		Enable:     expiry == 0 || expiry > nowMillis(),
		SubID:      user.SubID,
	}

	inboundID, err := firstInboundID(ctx, conn)
	if err != nil {
		return err
	}
	if err := conn.API.AddClient(ctx, inboundID, c); err != nil {
		return fmt.Errorf("vpn: replaying client %d to %s: %w", user.ID, conn.Server.Name, err)
	}
	s.logger.Info("vpn: client replayed to new server", "user", user.ID, "server", conn.Server.Name)
	return nil
}

func firstInboundID(ctx context.Context, conn *pool.Connection) (int, error) {
	inbounds, err := conn.API.ListInbounds(ctx)
	if err != nil {
		return 0, fmt.Errorf("vpn: listing inbounds on %s: %w", conn.Server.Name, err)
	}
	if len(inbounds) == 0 {
		return 0, fmt.Errorf("vpn: no inbounds on %s", conn.Server.Name)
	}
	return inbounds[0].ID, nil
}
