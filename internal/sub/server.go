package sub

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/metrics"
	"github.com/blikh/xui-fleet/internal/pool"
	"github.com/blikh/xui-fleet/internal/store"
	"github.com/blikh/xui-fleet/internal/vpn"
)

// Server serves aggregated subscriptions to VPN client applications.
type Server struct {
	listen      string
	title       string
	updateHours int
	store       *store.Store
	pool        *pool.Pool
	vpn         *vpn.Service
	agg         *Aggregator
	logger      *slog.Logger
}

func NewServer(cfg config.SubscriptionConfig, st *store.Store, pl *pool.Pool, svc *vpn.Service, logger *slog.Logger) *Server {
	return &Server{
		listen:      cfg.Listen,
		title:       cfg.Title,
		updateHours: cfg.UpdateHours,
		store:       st,
		pool:        pl,
		vpn:         svc,
		agg:         NewAggregator(cfg, logger),
		logger:      logger,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sub/", s.handleSub)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("sub: listen %s: %w", s.listen, err)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("sub: subscription server started", "listen", s.listen)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("sub: serve: %w", err)
	}
	return nil
}

func (s *Server) handleSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	subID := strings.TrimPrefix(r.URL.Path, "/sub/")
	if subID == "" || strings.Contains(subID, "/") {
		s.fail(w, http.StatusBadRequest, "subscription id is missing")
		return
	}

	ctx := r.Context()

	user, ok, err := s.store.GetUserBySubID(ctx, subID)
	if err != nil {
		s.logger.Error("sub: resolving subscription", "err", err)
		s.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.fail(w, http.StatusNotFound, "subscription not found")
		return
	}

	// Zero usage is fine here: a user hosted nowhere still gets headers,
	// the body decides the real outcome below.
	data, _ := s.vpn.AggregatedData(ctx, user)

	servers := s.pool.ListAvailable()
	if len(servers) == 0 {
		s.fail(w, http.StatusServiceUnavailable, "no available servers")
		return
	}

	lines := s.agg.Collect(ctx, servers, subID)
	if len(lines) == 0 {
		s.fail(w, http.StatusInternalServerError, "could not fetch any valid configuration")
		return
	}

	bundle := base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n")))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Profile-Title", "base64:"+base64.StdEncoding.EncodeToString([]byte(s.title)))
	w.Header().Set("Profile-Update-Interval", strconv.Itoa(s.updateHours))
	w.Header().Set("Subscription-Userinfo", userinfoHeader(data))
	metrics.SubRequestsTotal.WithLabelValues("200").Inc()
	w.Write([]byte(bundle))
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	metrics.SubRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	http.Error(w, msg, code)
}

// userinfoHeader encodes the aggregated usage for client apps:
// `upload=..; download=..; total=..[; expire=..]`. total 0 encodes
// unlimited; expire (unix seconds) is omitted when unset.
func userinfoHeader(data vpn.AggregatedData) string {
	total := data.Total
	if total < 0 {
		total = 0
	}
	header := fmt.Sprintf("upload=%d; download=%d; total=%d", data.Up, data.Down, total)
	if data.ExpiryTime > 0 {
		header += fmt.Sprintf("; expire=%d", data.ExpiryTime/1000)
	}
	return header
}
