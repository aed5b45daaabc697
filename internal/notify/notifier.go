package notify

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"signal_bot/pkg/logger"
)

// ErrDelivery — не доставили сообщение. Одна попытка, без ретраев:
// переход состояния уже закоммичен и назад не откатывается.
var ErrDelivery = errors.New("notify: delivery failed")

type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Telegram — пассивный нотифайер, шлёт в один настроенный чат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot init")
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
	}, nil
}

// API отдаёт низкоуровневый клиент для командной поверхности бота.
func (t *Telegram) API() *tgbot.BotAPI {
	return t.bot
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ErrDelivery, "context: %v", err)
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		return errors.Wrapf(ErrDelivery, "%v", err)
	}
	return nil
}

// Stdout — заглушка для локального запуска без телеграм-токена.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(_ context.Context, text string) error {
	logger.Info("%s", text)
	return nil
}
