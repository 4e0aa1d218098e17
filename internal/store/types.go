package store

// Server is one remote panel endpoint in the fleet. Name is unique;
// CurrentClients is maintained by administrative tooling and used only
// as a placement hint (occupancy <= MaxClients is a soft target).
type Server struct {
	ID             int64
	Name           string
	Host           string
	MaxClients     int
	Location       string
	Online         bool
	CurrentClients int
}

// HasCapacity reports whether the server still has free client slots.
func (s Server) HasCapacity() bool {
	return s.CurrentClients < s.MaxClients
}

// User is a subscriber. ServerID is the primary placement hint
// (0 = unassigned); a user's client entry may additionally exist on other
// servers. SubID is the opaque subscription identifier used both as the
// external URL token and as the remote client entry identifier. It is
// NOT NULL by schema: deletion rotates it to a fresh throwaway value
// instead of clearing it.
type User struct {
	ID       int64
	ServerID int64
	SubID    string
}

// Promocode grants bonus subscription days once.
type Promocode struct {
	Code         string
	DurationDays int
	Activated    bool
	ActivatedBy  int64
}
