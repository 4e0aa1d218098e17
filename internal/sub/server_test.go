package sub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/panel"
	"github.com/blikh/xui-fleet/internal/pool"
	"github.com/blikh/xui-fleet/internal/store"
	"github.com/blikh/xui-fleet/internal/vpn"
)

// stubAPI serves one inbound hosting the given clients; enough for the
// usage aggregation the subscription handler performs.
type stubAPI struct {
	clients []panel.Client
	stats   []panel.ClientStat
}

func (s *stubAPI) ListInbounds(ctx context.Context) ([]panel.Inbound, error) {
	settings, err := json.Marshal(struct {
		Clients []panel.Client `json:"clients"`
	}{s.clients})
	if err != nil {
		return nil, err
	}
	return []panel.Inbound{{ID: 1, Settings: string(settings), ClientStats: s.stats}}, nil
}

func (s *stubAPI) AddClient(ctx context.Context, inboundID int, c panel.Client) error {
	return errors.New("not supported")
}

func (s *stubAPI) UpdateClient(ctx context.Context, clientID string, inboundID int, c panel.Client) error {
	return errors.New("not supported")
}

func (s *stubAPI) DeleteClient(ctx context.Context, inboundID int, clientID string) error {
	return errors.New("not supported")
}

type stubAuth struct {
	apis map[string]pool.PanelAPI
}

func (a *stubAuth) Login(ctx context.Context, host string) (pool.PanelAPI, error) {
	api, ok := a.apis[host]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return api, nil
}

type serverEnv struct {
	store  *store.Store
	pool   *pool.Pool
	server *Server
}

// newServerEnv builds a subscription server over a store and pool; each
// upstream pairs a subscription payload source with a stub panel.
func newServerEnv(t *testing.T, upstreams map[string]pool.PanelAPI) *serverEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), testLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	auth := &stubAuth{apis: upstreams}
	pl := pool.New(st, auth, testLogger())
	cfg := &config.Config{}
	svc := vpn.New(cfg, st, pl, testLogger())
	pl.SetProvisioner(svc)

	ctx := context.Background()
	i := 0
	for host := range upstreams {
		srv := store.Server{Name: "s" + string(rune('1'+i)), Host: host, MaxClients: 100}
		if err := st.CreateServer(ctx, &srv); err != nil {
			t.Fatal(err)
		}
		pl.Add(ctx, srv)
		i++
	}

	sub := NewServer(config.SubscriptionConfig{
		Listen:      ":0",
		RemotePath:  "/sub/",
		Title:       "fleet",
		UpdateHours: 12,
		Timeout:     5,
	}, st, pl, svc, testLogger())
	return &serverEnv{store: st, pool: pl, server: sub}
}

func get(env *serverEnv, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	env.server.handleSub(rec, req)
	return rec
}

func TestHandleSubBadRequests(t *testing.T) {
	env := newServerEnv(t, nil)

	if rec := get(env, "/sub/"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id: got %d", rec.Code)
	}
	if rec := get(env, "/sub/a/b"); rec.Code != http.StatusBadRequest {
		t.Fatalf("nested path: got %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	env.server.handleSub(rec, httptest.NewRequest(http.MethodPost, "/sub/abc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST: got %d", rec.Code)
	}
}

func TestHandleSubUnknownID(t *testing.T) {
	env := newServerEnv(t, nil)
	if rec := get(env, "/sub/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestHandleSubNoAvailableServers(t *testing.T) {
	env := newServerEnv(t, nil)
	if err := env.store.UpsertUser(context.Background(), store.User{ID: 1001, SubID: "sid"}); err != nil {
		t.Fatal(err)
	}
	if rec := get(env, "/sub/sid"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestHandleSubAllSourcesFail(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer src.Close()

	env := newServerEnv(t, map[string]pool.PanelAPI{src.URL: &stubAPI{}})
	if err := env.store.UpsertUser(context.Background(), store.User{ID: 1001, SubID: "sid"}); err != nil {
		t.Fatal(err)
	}

	if rec := get(env, "/sub/sid"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestHandleSubBundle(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vless://aaa#old\nvless://bbb#old"))
	}))
	defer src.Close()

	api := &stubAPI{
		clients: []panel.Client{{ID: "sid", Email: "1001", TotalGB: 1000, ExpiryTime: 1_700_000_000_000, SubID: "sid"}},
		stats:   []panel.ClientStat{{Email: "1001", Up: 10, Down: 20}},
	}
	env := newServerEnv(t, map[string]pool.PanelAPI{src.URL: api})
	if err := env.store.UpsertUser(context.Background(), store.User{ID: 1001, SubID: "sid"}); err != nil {
		t.Fatal(err)
	}

	rec := get(env, "/sub/sid")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	decoded, err := base64.StdEncoding.DecodeString(rec.Body.String())
	if err != nil {
		t.Fatalf("body not base64: %v", err)
	}
	lines := strings.Split(string(decoded), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for _, line := range lines {
		if !strings.HasSuffix(line, "#s1") {
			t.Fatalf("line not tagged: %q", line)
		}
	}

	if got := rec.Header().Get("Subscription-Userinfo"); got != "upload=10; download=20; total=1000; expire=1700000000" {
		t.Fatalf("userinfo header: %q", got)
	}
	title := rec.Header().Get("Profile-Title")
	if !strings.HasPrefix(title, "base64:") {
		t.Fatalf("profile title: %q", title)
	}
	name, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(title, "base64:"))
	if err != nil || string(name) != "fleet" {
		t.Fatalf("profile title decodes to %q (%v)", name, err)
	}
	if got := rec.Header().Get("Profile-Update-Interval"); got != "12" {
		t.Fatalf("update interval: %q", got)
	}
}

func TestUserinfoHeader(t *testing.T) {
	tests := []struct {
		name string
		data vpn.AggregatedData
		want string
	}{
		{
			"limited with expiry",
			vpn.AggregatedData{Up: 1, Down: 2, Total: 100, ExpiryTime: 5_000},
			"upload=1; download=2; total=100; expire=5",
		},
		{
			"unlimited",
			vpn.AggregatedData{Up: 1, Down: 2, Total: -1, ExpiryTime: -1},
			"upload=1; download=2; total=0",
		},
		{
			"zero value",
			vpn.AggregatedData{},
			"upload=0; download=0; total=0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userinfoHeader(tt.data); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
