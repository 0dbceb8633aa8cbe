package port

import (
	"context"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// IdentityProvider resolves a bearer credential to a stable caller identity.
type IdentityProvider interface {
	ResolveCaller(ctx context.Context, token string) (domain.Caller, error)
}
