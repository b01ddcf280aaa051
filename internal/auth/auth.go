// Package auth checks the shared token that guards the control API's
// mutating routes.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrMissingToken = errors.New("auth: missing bearer token")
)

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one configured token. An empty Token denies
// everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Check validates the Authorization header against v.
func Check(v Validator, header string) error {
	token, err := BearerToken(header)
	if err != nil {
		return err
	}
	return v.Validate(token)
}
