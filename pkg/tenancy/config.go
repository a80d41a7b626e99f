// Package tenancy provides client-scope resolution and middleware for the
// reducer server. It supports a single-client mode and a per-request
// client-scoped mode for installations serving several client organizations.
package tenancy

// Mode controls how client scope is resolved.
type Mode string

const (
	// ModeSingle uses the "default" client for all requests.
	ModeSingle Mode = "single"
	// ModeClient requires a client ID per request.
	ModeClient Mode = "client"
)
