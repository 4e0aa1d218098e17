package panel

import (
	"encoding/json"
	"fmt"
)

// Client is a client entry inside an inbound's settings blob. ExpiryTime
// is unix milliseconds, 0 = unlimited. LimitIP is the device limit,
// 0 = unlimited. TotalGB is the traffic quota in bytes despite the name
// (the panel reuses the field for raw byte counts).
type Client struct {
	ID         string `json:"id"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}

// ClientStat is the per-client traffic record the panel keeps alongside
// an inbound, separate from the client's static config.
type ClientStat struct {
	ID         int    `json:"id"`
	InboundID  int    `json:"inboundId"`
	Enable     bool   `json:"enable"`
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	ExpiryTime int64  `json:"expiryTime"`
}

// Inbound is one traffic-routing config on a panel. Settings is a nested
// JSON document holding the client list.
type Inbound struct {
	ID          int          `json:"id"`
	Remark      string       `json:"remark"`
	Enable      bool         `json:"enable"`
	Port        int          `json:"port"`
	Protocol    string       `json:"protocol"`
	Settings    string       `json:"settings"`
	ClientStats []ClientStat `json:"clientStats"`
}

type inboundSettings struct {
	Clients []Client `json:"clients"`
}

// Clients parses the inbound's settings blob and returns its client entries.
func (i *Inbound) Clients() ([]Client, error) {
	if i.Settings == "" {
		return nil, nil
	}
	var s inboundSettings
	if err := json.Unmarshal([]byte(i.Settings), &s); err != nil {
		return nil, fmt.Errorf("panel: parse inbound %d settings: %w", i.ID, err)
	}
	return s.Clients, nil
}

// StatFor returns the traffic record for the given email, if any.
func (i *Inbound) StatFor(email string) (ClientStat, bool) {
	for _, st := range i.ClientStats {
		if st.Email == email {
			return st, true
		}
	}
	return ClientStat{}, false
}

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}
