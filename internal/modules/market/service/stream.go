package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

// StreamKlines подписывается на combined-стрим клайнов и отдаёт только
// закрытые свечи. Переподключается сам с экспоненциальным бэкоффом;
// канал закрывается при отмене ctx.
func (c *Client) StreamKlines(ctx context.Context, symbols []models.Instrument, interval string) <-chan ClosedCandle {
	out := make(chan ClosedCandle, 256)

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(string(sym)) + "@kline_" + interval
	}
	endpoint := c.streamURL + "/stream?streams=" + strings.Join(streams, "/")

	go func() {
		defer close(out)

		backoff := time.Second
		const maxBackoff = 30 * time.Second

		for {
			if ctx.Err() != nil {
				return
			}
			err := c.consumeKlineStream(ctx, endpoint, out)
			if ctx.Err() != nil {
				return
			}
			logger.Error("[MARKET] kline stream disconnected: %v, retry in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
		}
	}()

	return out
}

func (c *Client) consumeKlineStream(ctx context.Context, endpoint string, out chan<- ClosedCandle) error {
	conn, _, err := c.wsDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("[MARKET] kline stream connected")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		candle, ok, err := parseKlineMessage(message)
		if err != nil {
			logger.Error("[MARKET] bad kline message: %v", err)
			continue
		}
		if !ok {
			// свеча ещё не закрыта
			continue
		}

		select {
		case out <- candle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseKlineMessage разбирает сообщение стрима. ok=false для незакрытых свечей.
func parseKlineMessage(message []byte) (ClosedCandle, bool, error) {
	var env klineEnvelope
	if err := sonic.Unmarshal(message, &env); err != nil {
		return ClosedCandle{}, false, err
	}
	if !env.Data.Kline.Final {
		return ClosedCandle{}, false, nil
	}

	closePx, err := decimal.NewFromString(env.Data.Kline.Close)
	if err != nil {
		return ClosedCandle{}, false, err
	}

	return ClosedCandle{
		Instrument: models.Instrument(strings.ToUpper(env.Data.Symbol)),
		Candle: models.Candle{
			OpenTime: time.UnixMilli(env.Data.Kline.StartMs),
			Close:    closePx,
		},
		ReceivedAt: time.Now(),
	}, true, nil
}
