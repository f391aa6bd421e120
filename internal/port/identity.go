package port

import (
	"context"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

type IdentityProvider interface {
	// Current returns the authenticated actor, false when there is none
	Current(ctx context.Context) (domain.Actor, bool)
}
