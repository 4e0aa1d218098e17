package sub

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// vmessConfig mirrors the JSON descriptor embedded in vmess:// links.
// The field order here fixes the key order of re-encoded links, so
// repeated aggregation yields byte-identical output.
type vmessConfig struct {
	V             string `json:"v"`
	PS            string `json:"ps"`
	Add           string `json:"add"`
	Port          string `json:"port"`
	ID            string `json:"id"`
	Aid           string `json:"aid"`
	Scy           string `json:"scy"`
	Net           string `json:"net"`
	Type          string `json:"type"`
	Host          string `json:"host"`
	Path          string `json:"path"`
	TLS           string `json:"tls"`
	SNI           string `json:"sni"`
	Alpn          string `json:"alpn"`
	Fp            string `json:"fp"`
	AllowInsecure bool   `json:"allowInsecure"`
}

// rewriteVMess normalizes a vmess:// link before it is handed to a
// client: certificate verification is forced off (panels sit behind
// self-signed certificates), the port becomes a string, missing fields
// get their defaults, and keys come out in canonical order.
func rewriteVMess(line string) (string, error) {
	payload := strings.TrimPrefix(line, "vmess://")
	raw, ok := tryBase64(payload)
	if !ok {
		return "", fmt.Errorf("sub: vmess payload is not base64")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("sub: decoding vmess descriptor: %w", err)
	}

	cfg := vmessConfig{
		V:             stringField(fields, "v"),
		PS:            stringField(fields, "ps"),
		Add:           stringField(fields, "add"),
		Port:          stringField(fields, "port"),
		ID:            stringField(fields, "id"),
		Aid:           stringField(fields, "aid"),
		Scy:           stringField(fields, "scy"),
		Net:           stringField(fields, "net"),
		Type:          stringField(fields, "type"),
		Host:          stringField(fields, "host"),
		Path:          stringField(fields, "path"),
		TLS:           stringField(fields, "tls"),
		SNI:           stringField(fields, "sni"),
		Alpn:          stringField(fields, "alpn"),
		Fp:            stringField(fields, "fp"),
		AllowInsecure: true,
	}
	if cfg.V == "" {
		cfg.V = "2"
	}
	if cfg.Aid == "" {
		cfg.Aid = "0"
	}
	if cfg.Scy == "" {
		cfg.Scy = "auto"
	}
	if cfg.Type == "" {
		cfg.Type = "none"
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("sub: encoding vmess descriptor: %w", err)
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(data), nil
}

// stringField reads a descriptor value that panels emit either as a
// string or as a bare number.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// tryBase64 decodes s as base64 if possible, accepting both padded and
// raw encodings.
func tryBase64(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return string(decoded), true
		}
	}
	return "", false
}
