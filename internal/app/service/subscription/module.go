package subscription

import (
	"go.uber.org/fx"

	"github.com/handbok-org/handbok/internal/store"
)

// Module exposes the subscription service via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *store.Store) Repository { return s }),
)
