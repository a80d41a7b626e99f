package authz

// Mode selects the authorization backend.
type Mode string

const (
	// ModeNone disables authorization checks (dev only).
	ModeNone Mode = "none"
	// ModeRoles uses role-based authorization from the request identity.
	ModeRoles Mode = "roles"
)
