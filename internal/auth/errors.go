package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNoTokens         = errors.New("no tokens found; run `xposter auth login` first")
	ErrExpiredNoRefresh = errors.New("token expired and no refresh_token found; run `xposter auth login` again")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNoAccessToken    = errors.New("access token missing; run `xposter auth login` again")
)

// AuthError means no usable access token could be produced. Kind is one of
// the Err* sentinels; Err carries the underlying cause, if any.
type AuthError struct {
	Kind error
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.Error()
	}
	return fmt.Sprintf("auth: %v: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
