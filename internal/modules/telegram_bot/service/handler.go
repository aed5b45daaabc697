package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

// Readings — on-demand запрос чтения, мимо стора (read path отделён от write path).
type Readings interface {
	Reading(ctx context.Context, inst models.Instrument) (models.PriceSample, models.IndicatorReading, error)
	Watch(inst models.Instrument)
}

// States — синхронизированное чтение состояний для /status.
type States interface {
	States() map[models.Instrument]models.Direction
}

// Bot — командная поверхность: long-polling, команды только из своего чата.
type Bot struct {
	api    *tgbot.BotAPI
	chatID int64
	r      Readings
	st     States
}

func NewBot(api *tgbot.BotAPI, chatID int64, r Readings, st States) *Bot {
	return &Bot{
		api:    api,
		chatID: chatID,
		r:      r,
		st:     st,
	}
}

// Start крутит update-цикл до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := b.api.GetUpdatesChan(u)
	logger.Info("[BOT] command loop started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logger.Info("[BOT] command loop stopped")
			return
		case upd := <-updates:
			if upd.Message == nil || upd.Message.Chat == nil || !upd.Message.IsCommand() {
				continue
			}
			if upd.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(ctx, upd.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbot.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.reply("Команды:\n/rsi <symbol> — текущая цена и RSI\n/status — состояния сигналов\n/watch <symbol> — добавить символ\n/id — id этого чата")
	case "id":
		b.reply(fmt.Sprintf("chat id: %d", msg.Chat.ID))
	case "rsi":
		if arg == "" {
			b.reply("Укажи символ: /rsi BTCUSDT")
			return
		}
		go b.handleReading(ctx, models.Instrument(strings.ToUpper(arg)))
	case "status":
		b.handleStatus()
	case "watch":
		if arg == "" {
			b.reply("Укажи символ: /watch BTCUSDT")
			return
		}
		inst := models.Instrument(strings.ToUpper(arg))
		b.r.Watch(inst)
		b.reply(fmt.Sprintf("👀 %s добавлен в отслеживание", inst))
	}
}

func (b *Bot) handleReading(ctx context.Context, inst models.Instrument) {
	sample, reading, err := b.r.Reading(ctx, inst)
	if err != nil {
		b.reply(fmt.Sprintf("❗️ %s: %v", inst, err))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (%s%% за 24ч)\n", inst.Base(), sample.Price, sample.ChangePercent)
	if reading.RSIValid {
		fmt.Fprintf(&sb, "RSI %.2f", indicator.Round2(reading.RSI))
	} else {
		sb.WriteString("RSI: мало истории")
	}
	if reading.MACDValid {
		fmt.Fprintf(&sb, "\nMACD %.4f / signal %.4f / hist %.4f",
			reading.MACD.Line, reading.MACD.Signal, reading.MACD.Histogram)
	}
	b.reply(sb.String())
}

func (b *Bot) handleStatus() {
	states := b.st.States()
	if len(states) == 0 {
		b.reply("📭 Нет отслеживаемых инструментов")
		return
	}

	symbols := make([]string, 0, len(states))
	for inst := range states {
		symbols = append(symbols, string(inst))
	}
	sort.Strings(symbols)

	var sb strings.Builder
	sb.WriteString("📊 Состояния сигналов:\n")
	for _, s := range symbols {
		fmt.Fprintf(&sb, "- %s: %s\n", s, states[models.Instrument(s)])
	}
	b.reply(sb.String())
}

func (b *Bot) reply(text string) {
	if _, err := b.api.Send(tgbot.NewMessage(b.chatID, text)); err != nil {
		logger.Error("[BOT] reply: %v", err)
	}
}
