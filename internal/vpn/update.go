package vpn

import (
	"time"

	"github.com/blikh/xui-fleet/internal/panel"
)

const dayMillis = 24 * 60 * 60 * 1000

// ClientUpdate is a typed change set applied to a user's client entries
// during an update fan-out. Nil fields are left untouched.
type ClientUpdate struct {
	// Devices sets the device limit (0 = unlimited).
	Devices *int
	// DurationDays adjusts the expiry: 0 clears it to unlimited, a
	// positive value extends by that many days.
	DurationDays *int
	// ReplaceDuration extends from now instead of from the current
	// expiry (whichever of the two is later).
	ReplaceDuration bool
	// Enable toggles the entry.
	Enable *bool
}

// Apply mutates the client entry in place. The same change set is applied
// both to entries found on a server and to a fresh template when a server
// is missing the entry and it has to be recreated.
func (u ClientUpdate) Apply(c *panel.Client, now time.Time) {
	if u.Devices != nil {
		c.LimitIP = *u.Devices
	}
	if u.DurationDays != nil {
		if d := *u.DurationDays; d == 0 {
			c.ExpiryTime = 0
		} else {
			base := now.UnixMilli()
			if !u.ReplaceDuration && c.ExpiryTime > base {
				base = c.ExpiryTime
			}
			c.ExpiryTime = base + int64(d)*dayMillis
		}
	}
	if u.Enable != nil {
		c.Enable = *u.Enable
	}
}

func timeNow() time.Time { return time.Now() }

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
