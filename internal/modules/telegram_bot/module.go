package telegram_bot

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	monitorsvc "signal_bot/internal/modules/monitor/service"
	"signal_bot/internal/modules/telegram_bot/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/signal"
	"signal_bot/pkg/logger"
)

// newNotifier: без телеграм-креденшелов падаем в stdout-заглушку.
func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err == nil {
			return tg
		}
		logger.Error("[BOT] telegram init failed, falling back to stdout: %v", err)
	}
	return notify.NewStdout()
}

func asReadings(p *monitorsvc.Poller) service.Readings { return p }
func asStates(s *signal.Store) service.States          { return s }

func Module() fx.Option {
	return fx.Module("telegram_bot",
		fx.Provide(
			newNotifier,
			asReadings,
			asStates,
		),

		fx.Invoke(func(lc fx.Lifecycle, n notify.Notifier, cfg *config.Config, r service.Readings, st service.States) {
			tg, ok := n.(*notify.Telegram)
			if !ok {
				logger.Info("[BOT] telegram token not set, command surface disabled")
				return
			}

			bot := service.NewBot(tg.API(), cfg.Telegram.ChatID, r, st)
			var cancel context.CancelFunc
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					runCtx, c := context.WithCancel(context.Background())
					cancel = c
					go bot.Start(runCtx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
