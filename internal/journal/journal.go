package journal

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"signal_bot/internal/models"
)

// Recorder пишет отправленные сигналы для последующего разбора.
// Это журнал событий, а не состояние стора: после рестарта все
// инструменты снова стартуют с NEUTRAL.
type Recorder interface {
	Record(ctx context.Context, ev models.SignalEvent) error
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS signal_events (
    id         BIGSERIAL PRIMARY KEY,
    symbol     TEXT        NOT NULL,
    direction  TEXT        NOT NULL,
    price      NUMERIC     NOT NULL,
    rsi        DOUBLE PRECISION NOT NULL,
    emitted_at TIMESTAMPTZ NOT NULL
)`

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "journal: connect")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "journal: ensure schema")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Record(ctx context.Context, ev models.SignalEvent) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO signal_events (symbol, direction, price, rsi, emitted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(ev.Instrument),
		string(ev.Direction),
		ev.Price,
		ev.RSI,
		ev.EmittedAt,
	)
	return errors.Wrap(err, "journal: insert event")
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Noop — журнал выключен (нет DSN).
type Noop struct{}

func (Noop) Record(context.Context, models.SignalEvent) error { return nil }
func (Noop) Close()                                           {}
