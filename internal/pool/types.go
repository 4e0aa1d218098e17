package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/panel"
	"github.com/blikh/xui-fleet/internal/store"
)

// PanelAPI is the slice of the remote panel API the pool and the VPN
// service operate through.
type PanelAPI interface {
	ListInbounds(ctx context.Context) ([]panel.Inbound, error)
	AddClient(ctx context.Context, inboundID int, c panel.Client) error
	UpdateClient(ctx context.Context, clientID string, inboundID int, c panel.Client) error
	DeleteClient(ctx context.Context, inboundID int, clientID string) error
}

// Authenticator opens an authenticated panel session for a server host.
type Authenticator interface {
	Login(ctx context.Context, host string) (PanelAPI, error)
}

type panelAuthenticator struct {
	creds   panel.Credentials
	timeout time.Duration
	logger  *slog.Logger
}

// NewAuthenticator returns the default authenticator, which logs in with
// the fleet-wide credentials from the config.
func NewAuthenticator(cfg config.PanelConfig, logger *slog.Logger) Authenticator {
	return &panelAuthenticator{
		creds: panel.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
			Token:    cfg.Token,
		},
		timeout: time.Duration(cfg.Timeout) * time.Second,
		logger:  logger,
	}
}

func (a *panelAuthenticator) Login(ctx context.Context, host string) (PanelAPI, error) {
	return panel.Login(ctx, host, a.creds, a.timeout, a.logger)
}

// Connection pairs a server snapshot with its authenticated panel handle.
// A Connection is immutable once published: refreshes replace the pool's
// entry wholesale, so a borrowed connection never changes under its
// holder, it only goes stale. API is nil while the server is tracked but
// offline.
type Connection struct {
	Server store.Server
	API    PanelAPI
}

// Usable reports whether the connection holds a live authenticated handle.
func (c *Connection) Usable() bool {
	return c != nil && c.API != nil && c.Server.Online
}

// Provisioner is the narrow view of the VPN service the pool needs: it is
// wired in after construction to break the pool/service construction cycle.
type Provisioner interface {
	// LocateClient reports whether the user has a client entry on the
	// given connection.
	LocateClient(ctx context.Context, conn *Connection, userID int64) bool
	// EnsureExistsOnServer replays the user's client entry onto the given
	// server if it is missing there.
	EnsureExistsOnServer(ctx context.Context, user store.User, serverID int64) error
}

// Event signals an online/offline transition for a tracked server.
type Event struct {
	ServerID int64
	Name     string
	Online   bool
	Error    string
}
