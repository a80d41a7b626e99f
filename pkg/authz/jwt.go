package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT identity middleware.
type JWTConfig struct {
	// RolesClaim is the JWT claim path containing the user's roles.
	// Supports dot-notation for nested claims (e.g., "realm_access.roles").
	// Default: "roles"
	RolesClaim string

	// PublicKeyPEM is the PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed but NOT verified (suitable only behind a
	// trusted proxy that already validated them).
	PublicKeyPEM []byte

	// Issuer is the expected token issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected token audience (aud claim). If empty, audience is not validated.
	Audience string

	// Logger for debugging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// JWTIdentityMiddleware returns middleware that reads identity from a JWT
// Bearer token. The subject claim becomes the user and the roles claim the
// groups. Requests without a valid token get the anonymous identity with no
// groups; authorization decides what anonymous may do.
func JWTIdentityMiddleware(cfg JWTConfig) (func(http.Handler) http.Handler, error) {
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if len(cfg.PublicKeyPEM) > 0 {
		block, _ := pem.Decode(cfg.PublicKeyPEM)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block for JWT public key")
		}
		parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
		rsaKey, ok := parsedKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("JWT public key is not RSA (got %T)", parsedKey)
		}
		publicKey = rsaKey
		cfg.Logger.Info("JWT identity: using RS256 verification")
	} else {
		cfg.Logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{User: "anonymous"}

			if token := extractBearerToken(r); token != "" {
				claims, err := parseJWTClaims(token, publicKey, cfg)
				if err != nil {
					cfg.Logger.Debug("JWT parse failed, using anonymous identity", "error", err)
				} else {
					if sub, _ := claims.GetSubject(); sub != "" {
						id.User = sub
					}
					id.Groups = rolesFromClaims(claims, cfg.RolesClaim)
				}
			}

			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseJWTClaims parses and optionally verifies a JWT token.
func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, parserOpts...)
	} else {
		// Trusted proxy mode: parse without verification
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}

	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	return claims, nil
}

// rolesFromClaims extracts role names from the claims. Supports dot-notation
// for nested claims and both string and string-array claim values.
func rolesFromClaims(claims jwt.MapClaims, claimPath string) []string {
	parts := strings.Split(claimPath, ".")
	var current interface{} = map[string]interface{}(claims)

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}

	if strVal, ok := current.(string); ok {
		return []string{strVal}
	}

	if arrVal, ok := current.([]interface{}); ok {
		var roles []string
		for _, v := range arrVal {
			if s, ok := v.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	}

	return nil
}
