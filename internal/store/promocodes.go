package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreatePromocode inserts a new promocode.
func (s *Store) CreatePromocode(ctx context.Context, p Promocode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promocodes (code, duration_days, activated, activated_by)
		 VALUES (?, ?, ?, ?)`,
		p.Code, p.DurationDays, p.Activated, p.ActivatedBy,
	)
	if err != nil {
		return fmt.Errorf("store: create promocode %q: %w", p.Code, err)
	}
	return nil
}

// GetPromocode returns the promocode with the given code.
func (s *Store) GetPromocode(ctx context.Context, code string) (Promocode, bool, error) {
	var p Promocode
	err := s.db.QueryRowContext(ctx,
		`SELECT code, duration_days, activated, activated_by
		 FROM promocodes WHERE code = ?`, code,
	).Scan(&p.Code, &p.DurationDays, &p.Activated, &p.ActivatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Promocode{}, false, nil
	}
	if err != nil {
		return Promocode{}, false, fmt.Errorf("store: get promocode %q: %w", code, err)
	}
	return p, true, nil
}

// ActivatePromocode marks the code activated by userID. The update is
// conditional on the code not being activated yet, which makes it the
// optimistic lock against double redemption: it reports false when the
// code was already taken.
func (s *Store) ActivatePromocode(ctx context.Context, code string, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE promocodes SET activated = 1, activated_by = ?
		 WHERE code = ? AND activated = 0`,
		userID, code,
	)
	if err != nil {
		return false, fmt.Errorf("store: activate promocode %q: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: activate promocode %q: %w", code, err)
	}
	return n > 0, nil
}

// DeactivatePromocode is the compensating write for a failed grant: the
// code becomes redeemable again.
func (s *Store) DeactivatePromocode(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE promocodes SET activated = 0, activated_by = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("store: deactivate promocode %q: %w", code, err)
	}
	return nil
}
