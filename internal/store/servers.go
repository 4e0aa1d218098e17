package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateServer inserts a server row and fills in the assigned ID.
func (s *Store) CreateServer(ctx context.Context, srv *Server) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (name, host, max_clients, location, online, current_clients)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		srv.Name, srv.Host, srv.MaxClients, srv.Location, srv.Online, srv.CurrentClients,
	)
	if err != nil {
		return fmt.Errorf("store: create server %q: %w", srv.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create server %q: %w", srv.Name, err)
	}
	srv.ID = id
	return nil
}

// GetServer returns the server row with the given id. The second return
// value is false when no such row exists.
func (s *Store) GetServer(ctx context.Context, id int64) (Server, bool, error) {
	return s.scanServer(s.db.QueryRowContext(ctx,
		`SELECT id, name, host, max_clients, location, online, current_clients
		 FROM servers WHERE id = ?`, id))
}

// GetServerByName returns the server row with the given unique name.
func (s *Store) GetServerByName(ctx context.Context, name string) (Server, bool, error) {
	return s.scanServer(s.db.QueryRowContext(ctx,
		`SELECT id, name, host, max_clients, location, online, current_clients
		 FROM servers WHERE name = ?`, name))
}

func (s *Store) scanServer(row *sql.Row) (Server, bool, error) {
	var srv Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.MaxClients,
		&srv.Location, &srv.Online, &srv.CurrentClients)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, false, nil
	}
	if err != nil {
		return Server{}, false, fmt.Errorf("store: scan server: %w", err)
	}
	return srv, true, nil
}

// ListServers returns all server rows ordered by id.
func (s *Store) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, host, max_clients, location, online, current_clients
		 FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list servers: %w", err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		var srv Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.MaxClients,
			&srv.Location, &srv.Online, &srv.CurrentClients); err != nil {
			return nil, fmt.Errorf("store: scan server: %w", err)
		}
		out = append(out, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate servers: %w", err)
	}
	return out, nil
}

// UpdateServer rewrites all mutable fields of a server row.
func (s *Store) UpdateServer(ctx context.Context, srv Server) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET name = ?, host = ?, max_clients = ?, location = ?,
		        online = ?, current_clients = ?
		 WHERE id = ?`,
		srv.Name, srv.Host, srv.MaxClients, srv.Location,
		srv.Online, srv.CurrentClients, srv.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update server %d: %w", srv.ID, err)
	}
	return nil
}

// DeleteServer removes a server row.
func (s *Store) DeleteServer(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete server %d: %w", id, err)
	}
	return nil
}

// SetServerOnline persists the liveness flag. The write is conditional on
// the flag actually changing, so repeated no-op flips skip the disk write.
// It reports whether a row was updated.
func (s *Store) SetServerOnline(ctx context.Context, id int64, online bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET online = ? WHERE id = ? AND online != ?`,
		online, id, online,
	)
	if err != nil {
		return false, fmt.Errorf("store: set server %d online=%v: %w", id, online, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: set server %d online=%v: %w", id, online, err)
	}
	return n > 0, nil
}
