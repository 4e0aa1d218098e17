package vpn

import (
	"context"
	"testing"
	"time"

	"github.com/blikh/xui-fleet/internal/panel"
	"github.com/blikh/xui-fleet/internal/store"
)

func TestActivatePromocodeExtendsExistingClient(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	expiry := time.Now().UnixMilli() + 10*dayMillis
	env.seedClient(0, panel.Client{ID: "uid", Email: "1001", ExpiryTime: expiry, SubID: "uid", Enable: true})
	user := store.User{ID: 1001, SubID: "uid"}

	if err := env.store.CreatePromocode(ctx, store.Promocode{Code: "BONUS7", DurationDays: 7}); err != nil {
		t.Fatal(err)
	}

	if !env.svc.ActivatePromocode(ctx, user, "BONUS7") {
		t.Fatal("activation failed")
	}

	c, _ := env.apis[0].clientFor("1001")
	if c.ExpiryTime != expiry+7*dayMillis {
		t.Fatalf("expiry: got %d, want %d", c.ExpiryTime, expiry+7*dayMillis)
	}

	p, _, _ := env.store.GetPromocode(ctx, "BONUS7")
	if !p.Activated || p.ActivatedBy != 1001 {
		t.Fatalf("promocode state: %+v", p)
	}
}

func TestActivatePromocodeCreatesClientForNewUser(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	if err := env.store.CreatePromocode(ctx, store.Promocode{Code: "TRIAL3", DurationDays: 3}); err != nil {
		t.Fatal(err)
	}

	if !env.svc.ActivatePromocode(ctx, store.User{ID: 1001}, "TRIAL3") {
		t.Fatal("activation failed")
	}

	c, found := env.apis[0].clientFor("1001")
	if !found {
		t.Fatal("no client entry created")
	}
	if c.LimitIP != 1 {
		t.Fatalf("bonus device count: got %d, want 1", c.LimitIP)
	}
}

func TestActivatePromocodeSecondRedemptionRejected(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	env.seedClient(0, panel.Client{ID: "uid", Email: "1001", SubID: "uid"})
	env.seedClient(0, panel.Client{ID: "uid2", Email: "1002", SubID: "uid2"})
	if err := env.store.CreatePromocode(ctx, store.Promocode{Code: "ONCE", DurationDays: 7}); err != nil {
		t.Fatal(err)
	}

	if !env.svc.ActivatePromocode(ctx, store.User{ID: 1001, SubID: "uid"}, "ONCE") {
		t.Fatal("first activation failed")
	}
	if env.svc.ActivatePromocode(ctx, store.User{ID: 1002, SubID: "uid2"}, "ONCE") {
		t.Fatal("second activation should be rejected")
	}
}

func TestActivatePromocodeUnknownCode(t *testing.T) {
	env := newTestEnv(t, 1)
	if env.svc.ActivatePromocode(context.Background(), store.User{ID: 1001}, "NOPE") {
		t.Fatal("unknown code should not activate")
	}
}

func TestActivatePromocodeRollsBackOnGrantFailure(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	env.seedClient(0, panel.Client{ID: "uid", Email: "1001", SubID: "uid"})
	env.apis[0].failWrite = true
	if err := env.store.CreatePromocode(ctx, store.Promocode{Code: "DOOMED", DurationDays: 7}); err != nil {
		t.Fatal(err)
	}

	if env.svc.ActivatePromocode(ctx, store.User{ID: 1001, SubID: "uid"}, "DOOMED") {
		t.Fatal("activation should fail when the grant fails")
	}

	// The compensating write made the code redeemable again.
	p, _, _ := env.store.GetPromocode(ctx, "DOOMED")
	if p.Activated {
		t.Fatalf("activation not rolled back: %+v", p)
	}
}
