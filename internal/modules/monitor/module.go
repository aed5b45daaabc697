package monitor

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/journal"
	"signal_bot/internal/modules/config"
	marketsvc "signal_bot/internal/modules/market/service"
	"signal_bot/internal/modules/monitor/service"
	"signal_bot/internal/signal"
	"signal_bot/pkg/logger"
)

func newStore(cfg *config.Config) *signal.Store {
	return signal.NewStore(signal.Thresholds{
		Oversold:   cfg.Monitor.Oversold,
		Overbought: cfg.Monitor.Overbought,
	})
}

func newRecorder(cfg *config.Config) journal.Recorder {
	if cfg.Journal.DSN == "" {
		return journal.Noop{}
	}
	rec, err := journal.NewPostgres(context.Background(), cfg.Journal.DSN)
	if err != nil {
		logger.Error("[JOURNAL] disabled: %v", err)
		return journal.Noop{}
	}
	logger.Info("[JOURNAL] postgres journal enabled")
	return rec
}

func asMarketData(c *marketsvc.Client) service.MarketData     { return c }
func asCandleStream(c *marketsvc.Client) service.CandleStream { return c }

func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(
			newStore,
			newRecorder,
			asMarketData,
			asCandleStream,
			service.NewPoller,
		),

		fx.Invoke(func(lc fx.Lifecycle, p *service.Poller, cfg *config.Config, rec journal.Recorder) {
			var cancel context.CancelFunc
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					runCtx, c := context.WithCancel(context.Background())
					cancel = c
					if cfg.Monitor.Stream {
						go p.RunStream(runCtx)
					} else {
						go p.Run(runCtx)
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					// ограниченный грейс: ждём инфлайт-запросы не дольше стоп-таймаута fx
					select {
					case <-p.Done():
					case <-ctx.Done():
					}
					rec.Close()
					return nil
				},
			})
		}),
	)
}
