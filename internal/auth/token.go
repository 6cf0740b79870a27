package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenVerifier checks presented bearer tokens against the configured set.
// Every configured token is compared so verification time does not depend on
// which token (if any) matched.
type TokenVerifier struct {
	Tokens []string
}

func (v TokenVerifier) Verify(token string) error {
	if token == "" || len(v.Tokens) == 0 {
		return ErrInvalidCredentials
	}
	matched := 0
	for _, known := range v.Tokens {
		matched |= subtle.ConstantTimeCompare([]byte(token), []byte(known))
	}
	if matched != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// BearerFromHeader extracts the token from an Authorization header value.
// The scheme match is case-sensitive lowercase "bearer", matching the
// existing clients of this service.
func BearerFromHeader(header string) (string, error) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "bearer" || token == "" {
		return "", ErrInvalidCredentials
	}
	return token, nil
}
