package tenancy

import (
	"fmt"
	"net/http"
	"regexp"
)

// maxClientIDLen bounds the client identifier length.
const maxClientIDLen = 63

// clientIDRe validates client ID format: lowercase alphanumeric and hyphens,
// must start and end with an alphanumeric character.
var clientIDRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ClientQueryParam is the query parameter name used for client resolution.
const ClientQueryParam = "clientId"

// ClientHeader is the HTTP header used for client resolution.
const ClientHeader = "X-Client-Id"

// ClientResolver resolves the client scope from an HTTP request.
type ClientResolver interface {
	Resolve(r *http.Request) (ClientContext, error)
}

// SingleClientResolver always returns the "default" client.
type SingleClientResolver struct{}

// Resolve always returns a ClientContext with ClientID "default".
func (s SingleClientResolver) Resolve(_ *http.Request) (ClientContext, error) {
	return ClientContext{ClientID: "default"}, nil
}

// HeaderClientResolver reads the client ID from the request query parameter
// or header. In client-scoped mode a client ID is always required.
type HeaderClientResolver struct{}

// Resolve extracts the client ID from the request. It checks the query
// parameter first, then falls back to the X-Client-Id header. Returns an
// error if the client ID is missing or invalid.
func (h HeaderClientResolver) Resolve(r *http.Request) (ClientContext, error) {
	id := r.URL.Query().Get(ClientQueryParam)
	if id == "" {
		id = r.Header.Get(ClientHeader)
	}

	if id == "" {
		return ClientContext{}, fmt.Errorf("client ID is required in client-scoped mode (use ?clientId= query param or X-Client-Id header)")
	}

	if err := validateClientID(id); err != nil {
		return ClientContext{}, err
	}

	return ClientContext{ClientID: id}, nil
}

// validateClientID checks that a client ID is lowercase alphanumeric with
// hyphens, 1-63 characters, starting and ending with an alphanumeric.
func validateClientID(id string) error {
	if len(id) > maxClientIDLen {
		return fmt.Errorf("client ID %q exceeds maximum length of %d characters", id, maxClientIDLen)
	}
	if !clientIDRe.MatchString(id) {
		return fmt.Errorf("client ID %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", id)
	}
	return nil
}
