// Package sub assembles one consumable subscription bundle per user from
// every available server in the fleet and serves it over HTTP to VPN
// client applications.
package sub

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/metrics"
	"github.com/blikh/xui-fleet/internal/store"
)

// Aggregator fetches per-server subscription payloads and merges them
// into one line set. Each fetch is bounded by the client timeout so one
// unreachable server cannot stall the aggregate response; there is no
// fleet-wide deadline beyond the per-server bound.
type Aggregator struct {
	client     *http.Client
	remotePort int
	remotePath string
	logger     *slog.Logger
}

func NewAggregator(cfg config.SubscriptionConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		remotePort: cfg.RemotePort,
		remotePath: cfg.RemotePath,
		logger:     logger,
	}
}

// Collect fetches every server's raw subscription payload concurrently
// and merges the usable lines, each re-tagged with its server's name.
// Servers that error out or return nothing are skipped with a warning and
// contribute no lines; the merged order follows the server listing order.
func (a *Aggregator) Collect(ctx context.Context, servers []store.Server, subID string) []string {
	results := make([][]string, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func(i int, srv store.Server) {
			defer wg.Done()
			lines, err := a.fetch(ctx, srv, subID)
			if err != nil {
				metrics.SubSourceFailures.Inc()
				a.logger.Warn("sub: skipping server", "server", srv.Name, "err", err)
				return
			}
			results[i] = lines
		}(i, srv)
	}
	wg.Wait()

	var all []string
	for _, lines := range results {
		all = append(all, lines...)
	}
	return all
}

func (a *Aggregator) fetch(ctx context.Context, srv store.Server, subID string) ([]string, error) {
	u, err := a.subURL(srv.Host, subID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sub: creating request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sub: fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sub: %s returned status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("sub: reading %s: %w", u, err)
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, fmt.Errorf("sub: %s returned an empty body", u)
	}

	content := raw
	if decoded, ok := tryBase64(raw); ok {
		content = strings.TrimSpace(decoded)
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, a.retag(line, srv.Name))
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("sub: %s yielded no usable lines", u)
	}
	return lines, nil
}

// retag replaces the line's display fragment with the originating
// server's name, rewriting structured vmess descriptors first.
func (a *Aggregator) retag(line, serverName string) string {
	if strings.HasPrefix(line, "vmess://") {
		rewritten, err := rewriteVMess(line)
		if err != nil {
			a.logger.Warn("sub: keeping vmess line as-is", "server", serverName, "err", err)
		} else {
			line = rewritten
		}
	}
	base, _, _ := strings.Cut(line, "#")
	return base + "#" + serverName
}

// subURL builds the per-server subscription URL from the server's panel
// host. remotePort 0 keeps whatever port the host carries.
func (a *Aggregator) subURL(host, subID string) (string, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("sub: parsing host %q: %w", host, err)
	}
	if a.remotePort > 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(a.remotePort)
	}
	u.Path = a.remotePath + subID
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
