package wix

import (
	"context"
	"errors"
)

// ErrNoCredential is returned when no access token is configured.
var ErrNoCredential = errors.New("wix access token not configured")

// TokenSource supplies a ready-to-use credential. Acquiring and refreshing it
// is the job of whatever implements this interface.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}
