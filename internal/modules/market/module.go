package market

import (
	"go.uber.org/fx"

	"signal_bot/internal/modules/market/service"
)

func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			service.NewClient,
		),
	)
}
