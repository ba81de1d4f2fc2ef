package nbi

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/astrogator/internal/sim/state"
)

const (
	authorizationMetadataKey = "authorization"
	bearerPrefix             = "Bearer "
)

// TokenValidator checks an account token. *state.Registry satisfies it.
type TokenValidator interface {
	ValidateToken(id, token string) bool
}

// BearerToken returns the token from an "authorization: Bearer <token>"
// header in the incoming metadata, or "".
func BearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(authorizationMetadataKey) {
		if len(v) > len(bearerPrefix) && strings.HasPrefix(v, bearerPrefix) {
			return v[len(bearerPrefix):]
		}
	}
	return ""
}

// WithBearerToken attaches token to outgoing calls made with the returned
// context.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationMetadataKey, bearerPrefix+token)
}

// authorize checks the caller's bearer token against account id.
func authorize(ctx context.Context, v TokenValidator, id string) error {
	token := BearerToken(ctx)
	if token == "" {
		return fmt.Errorf("%w: bearer token required", ErrUnauthorized)
	}
	if !v.ValidateToken(id, token) {
		return fmt.Errorf("%w: token rejected for %q", ErrUnauthorized, id)
	}
	return nil
}

// authorizeAdmin requires the administrator's token. A missing token is
// unauthorized; any other token is forbidden.
func authorizeAdmin(ctx context.Context, v TokenValidator) error {
	token := BearerToken(ctx)
	if token == "" {
		return fmt.Errorf("%w: bearer token required", ErrUnauthorized)
	}
	if !v.ValidateToken(state.AdminID, token) {
		return fmt.Errorf("%w: admin access required", ErrForbidden)
	}
	return nil
}
