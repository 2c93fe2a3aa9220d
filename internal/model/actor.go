package model

// Roles carried in access tokens.
const (
	RoleGuest = "GUEST"
	RoleAdmin = "ADMIN"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Owns reports whether the actor may act on a resource belonging to
// guestID.  Admins own everything.
func (a Actor) Owns(guestID string) bool { return a.IsAdmin() || (a.ID != "" && a.ID == guestID) }
