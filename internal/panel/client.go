// Package panel is a minimal HTTP client for the remote proxy-panel
// management API: login, list inbounds, add/update/delete a client entry.
// Calls are single-attempt; retries are the caller's concern.
package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/blikh/xui-fleet/internal/metrics"
)

// Credentials are the fleet-wide panel credentials.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Session is an authenticated handle to one panel. The session cookie
// lives in the jar; panels commonly sit behind self-signed certificates,
// so verification is skipped.
type Session struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Login authenticates against the panel at host and returns a session.
func Login(ctx context.Context, host string, creds Credentials, timeout time.Duration, logger *slog.Logger) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("panel: cookie jar: %w", err)
	}

	s := &Session{
		baseURL: strings.TrimRight(host, "/"),
		token:   creds.Token,
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger,
	}

	form := url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	}
	if creds.Token != "" {
		form.Set("loginSecret", creds.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("panel: login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("panel: login %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("panel: login %s: decoding response: %w", s.baseURL, err)
	}
	if !api.Success {
		metrics.PanelRequestsTotal.WithLabelValues("login", "rejected").Inc()
		return nil, fmt.Errorf("panel: login %s rejected: %s", s.baseURL, api.Msg)
	}

	metrics.PanelRequestsTotal.WithLabelValues("login", "ok").Inc()
	return s, nil
}

// ListInbounds returns every inbound configured on the panel.
func (s *Session) ListInbounds(ctx context.Context) ([]Inbound, error) {
	api, err := s.do(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("list_inbounds", "error").Inc()
		return nil, err
	}

	var inbounds []Inbound
	if len(api.Obj) > 0 {
		if err := json.Unmarshal(api.Obj, &inbounds); err != nil {
			metrics.PanelRequestsTotal.WithLabelValues("list_inbounds", "error").Inc()
			return nil, fmt.Errorf("panel: decoding inbounds: %w", err)
		}
	}
	metrics.PanelRequestsTotal.WithLabelValues("list_inbounds", "ok").Inc()
	return inbounds, nil
}

type clientPayload struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

func encodeClientPayload(inboundID int, c Client) (clientPayload, error) {
	settings, err := json.Marshal(inboundSettings{Clients: []Client{c}})
	if err != nil {
		return clientPayload{}, fmt.Errorf("panel: encoding client settings: %w", err)
	}
	return clientPayload{ID: inboundID, Settings: string(settings)}, nil
}

// AddClient creates a client entry on the given inbound.
func (s *Session) AddClient(ctx context.Context, inboundID int, c Client) error {
	payload, err := encodeClientPayload(inboundID, c)
	if err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient", payload); err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("add_client", "error").Inc()
		return err
	}
	metrics.PanelRequestsTotal.WithLabelValues("add_client", "ok").Inc()
	return nil
}

// UpdateClient rewrites the client entry identified by its internal id.
func (s *Session) UpdateClient(ctx context.Context, clientID string, inboundID int, c Client) error {
	payload, err := encodeClientPayload(inboundID, c)
	if err != nil {
		return err
	}
	path := "/panel/api/inbounds/updateClient/" + url.PathEscape(clientID)
	if _, err := s.do(ctx, http.MethodPost, path, payload); err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("update_client", "error").Inc()
		return err
	}
	metrics.PanelRequestsTotal.WithLabelValues("update_client", "ok").Inc()
	return nil
}

// DeleteClient removes the client entry identified by inbound and internal id.
func (s *Session) DeleteClient(ctx context.Context, inboundID int, clientID string) error {
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, url.PathEscape(clientID))
	if _, err := s.do(ctx, http.MethodPost, path, nil); err != nil {
		metrics.PanelRequestsTotal.WithLabelValues("delete_client", "error").Inc()
		return err
	}
	metrics.PanelRequestsTotal.WithLabelValues("delete_client", "ok").Inc()
	return nil
}

func (s *Session) do(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("panel: marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("panel: creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("panel: %s %s: status %d, body: %s", method, path, resp.StatusCode, string(respBody))
	}

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("panel: %s %s: decoding response: %w", method, path, err)
	}
	if !api.Success {
		return nil, fmt.Errorf("panel: %s %s: %s", method, path, api.Msg)
	}
	return &api, nil
}
