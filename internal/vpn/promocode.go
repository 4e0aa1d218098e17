package vpn

import (
	"context"

	"github.com/blikh/xui-fleet/internal/store"
)

// ActivatePromocode redeems a promocode for the user. The code is marked
// activated first (a conditional update acting as the optimistic lock
// against double redemption), then the bonus days are granted through the
// regular extend-or-create path. When the grant fails the activation is
// rolled back best-effort; a crash between the failed grant and the
// rollback leaves the code activated with no benefit granted, which is an
// accepted risk of this compensating-action scheme.
func (s *Service) ActivatePromocode(ctx context.Context, user store.User, code string) bool {
	promo, ok, err := s.store.GetPromocode(ctx, code)
	if err != nil {
		s.logger.Error("vpn: loading promocode", "code", code, "err", err)
		return false
	}
	if !ok {
		s.logger.Warn("vpn: unknown promocode", "code", code, "user", user.ID)
		return false
	}

	activated, err := s.store.ActivatePromocode(ctx, code, user.ID)
	if err != nil {
		s.logger.Error("vpn: activating promocode", "code", code, "err", err)
		return false
	}
	if !activated {
		s.logger.Warn("vpn: promocode already activated", "code", code, "user", user.ID)
		return false
	}

	s.logger.Info("vpn: applying promocode", "code", code, "user", user.ID, "days", promo.DurationDays)

	if s.grantBonusDays(ctx, user, promo.DurationDays) {
		return true
	}

	if err := s.store.DeactivatePromocode(ctx, code); err != nil {
		s.logger.Error("vpn: rolling back promocode activation", "code", code, "err", err)
	}
	s.logger.Warn("vpn: promocode not applied due to provisioning failure", "code", code, "user", user.ID)
	return false
}

// grantBonusDays extends an existing client or creates a new one with the
// configured bonus device count.
func (s *Service) grantBonusDays(ctx context.Context, user store.User, days int) bool {
	if _, _, ok := s.ExistsAnywhere(ctx, user); ok {
		return s.UpdateClient(ctx, user, ClientUpdate{DurationDays: intPtr(days)})
	}
	_, ok := s.CreateClient(ctx, user, s.cfg.Shop.BonusDevices, days)
	return ok
}
