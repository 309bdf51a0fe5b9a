package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Sentinel errors for scope enforcement.
var (
	// ErrMissingCredential indicates the request carried no credential.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential indicates the credential failed validation.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInsufficientScope indicates the credential does not grant every
	// required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// ScopeVerifier checks that a request's credential grants a set of
// scopes. The token validation engine behind it is pluggable.
type ScopeVerifier interface {
	// Check returns nil when the request's credential grants every scope
	// in the set, ErrMissingCredential / ErrInvalidCredential /
	// ErrInsufficientScope (possibly wrapped) otherwise.
	Check(r *http.Request, scopes []string) error
}

// JWTScopeVerifier verifies bearer tokens and enforces scopes from the
// token's scope claim. The claim may be a space-separated string
// ("scope", per RFC 8693) or a string list ("scopes").
type JWTScopeVerifier struct {
	parseOptions []jwt.ParseOption
}

// NewJWTScopeVerifier creates a verifier for HS256-signed tokens.
func NewJWTScopeVerifier(secret []byte) *JWTScopeVerifier {
	return &JWTScopeVerifier{
		parseOptions: []jwt.ParseOption{
			jwt.WithKey(jwa.HS256, secret),
			jwt.WithValidate(true),
		},
	}
}

// NewJWTScopeVerifierWithKeySet creates a verifier validating signatures
// against a JWKS.
func NewJWTScopeVerifierWithKeySet(set jwk.Set) *JWTScopeVerifier {
	return &JWTScopeVerifier{
		parseOptions: []jwt.ParseOption{
			jwt.WithKeySet(set),
			jwt.WithValidate(true),
		},
	}
}

// Check implements ScopeVerifier.
func (v *JWTScopeVerifier) Check(r *http.Request, scopes []string) error {
	raw, err := extractBearerToken(r)
	if err != nil {
		return err
	}

	token, err := jwt.Parse([]byte(raw), v.parseOptions...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	granted := grantedScopes(token)
	for _, required := range scopes {
		if !granted[required] {
			return fmt.Errorf("%w: %s", ErrInsufficientScope, required)
		}
	}

	return nil
}

// extractBearerToken pulls the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredential
	}

	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidCredential)
	}

	return header[len(prefix):], nil
}

// grantedScopes collects the scope grants from a validated token.
func grantedScopes(token jwt.Token) map[string]bool {
	granted := make(map[string]bool)

	if v, ok := token.Get("scope"); ok {
		if s, ok := v.(string); ok {
			for _, scope := range strings.Fields(s) {
				granted[scope] = true
			}
		}
	}

	if v, ok := token.Get("scopes"); ok {
		if list, ok := v.([]interface{}); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					granted[s] = true
				}
			}
		}
	}

	return granted
}
