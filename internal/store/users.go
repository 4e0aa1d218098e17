package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUser returns the user row with the given numeric identity.
func (s *Store) GetUser(ctx context.Context, id int64) (User, bool, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, server_id, sub_id FROM users WHERE id = ?`, id))
}

// GetUserBySubID resolves a subscription identifier to its user.
func (s *Store) GetUserBySubID(ctx context.Context, subID string) (User, bool, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, server_id, sub_id FROM users WHERE sub_id = ?`, subID))
}

func (s *Store) scanUser(row *sql.Row) (User, bool, error) {
	var u User
	err := row.Scan(&u.ID, &u.ServerID, &u.SubID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("store: scan user: %w", err)
	}
	return u, true, nil
}

// ListSubscribers returns every user holding a subscription identifier,
// ordered by id. These are the users the convergence pass replays onto
// newly added servers.
func (s *Store) ListSubscribers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, sub_id FROM users WHERE sub_id != '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list subscribers: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ServerID, &u.SubID); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return out, nil
}

// UpsertUser inserts the user row or updates its placement and
// subscription identifier if it already exists.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, server_id, sub_id) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET server_id = excluded.server_id, sub_id = excluded.sub_id`,
		u.ID, u.ServerID, u.SubID,
	)
	if err != nil {
		return fmt.Errorf("store: upsert user %d: %w", u.ID, err)
	}
	return nil
}

// ReassignSub replaces the user's subscription identifier and clears the
// primary server assignment. sub_id carries a NOT NULL constraint, so
// deletion rotates the identifier to a throwaway value instead of
// clearing it; any previously issued subscription URL stops resolving.
func (s *Store) ReassignSub(ctx context.Context, userID int64, newSubID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET sub_id = ?, server_id = 0 WHERE id = ?`,
		newSubID, userID,
	)
	if err != nil {
		return fmt.Errorf("store: reassign sub for user %d: %w", userID, err)
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete user %d: %w", id, err)
	}
	return nil
}
