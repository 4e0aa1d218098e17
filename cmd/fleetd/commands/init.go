package commands

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

func Init(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "configs/fleet.yaml", "path to config file")
	username := fs.String("username", "", "panel username shared by the fleet")
	password := fs.String("password", "", "panel password shared by the fleet")
	listen := fs.String("listen", ":8080", "subscription listen address")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: -username and -password are required")
		fs.Usage()
		os.Exit(1)
	}

	content := fmt.Sprintf(`log_level: info

database:
  path: fleet.sqlite

panel:
  username: "%s"
  password: "%s"
  timeout: 15

subscription:
  listen: "%s"
  remote_port: 2096
  remote_path: /sub/
  title: xui-fleet
  update_hours: 12
  timeout: 10

sync:
  interval: 600

shop:
  bonus_devices: 1

telegram:
  enabled: false
  token: ""
  chat_id: 0

observability:
  addr: ""
  metrics: true
  pprof: false
`, *username, *password, *listen)

	dir := filepath.Dir(*configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("failed to create config directory", "err", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*configPath, []byte(content), 0o600); err != nil {
		logger.Error("failed to write config", "err", err)
		os.Exit(1)
	}

	fmt.Println("=== Config initialized ===")
	fmt.Printf("Config: %s\n", *configPath)
	fmt.Println()
	fmt.Println("Add servers to the database, then run 'fleetd run'.")
}
