package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"signal_bot/internal/indicator"
	"signal_bot/internal/journal"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	marketsvc "signal_bot/internal/modules/market/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/signal"
	"signal_bot/pkg/logger"
)

// MarketData — read-only источник котировок. Оба вызова идемпотентны
// и ограничены таймаутом клиента; ретраи живут здесь, в поллере.
type MarketData interface {
	Snapshot(ctx context.Context, inst models.Instrument) (models.PriceSample, error)
	Candles(ctx context.Context, inst models.Instrument, interval string, count int) ([]models.Candle, error)
}

// CandleStream — опциональный стрим закрытых свечей для stream-режима.
type CandleStream interface {
	StreamKlines(ctx context.Context, symbols []models.Instrument, interval string) <-chan marketsvc.ClosedCandle
}

// Poller гоняет цикл мониторинга: снапшот + свечи -> индикаторы ->
// переход состояния -> алерт. Ошибки одного инструмента не трогают
// остальные и не валят цикл.
type Poller struct {
	cfg    *config.Config
	md     MarketData
	stream CandleStream
	store  *signal.Store
	n      notify.Notifier
	rec    journal.Recorder

	mu       sync.Mutex
	symbols  []models.Instrument
	inFlight map[models.Instrument]bool

	sem   chan struct{}
	cycle atomic.Uint64

	done chan struct{}
}

func NewPoller(
	cfg *config.Config,
	md MarketData,
	stream CandleStream,
	store *signal.Store,
	n notify.Notifier,
	rec journal.Recorder,
) *Poller {
	p := &Poller{
		cfg:      cfg,
		md:       md,
		stream:   stream,
		store:    store,
		n:        n,
		rec:      rec,
		inFlight: make(map[models.Instrument]bool),
		sem:      make(chan struct{}, cfg.Monitor.Parallelism),
		done:     make(chan struct{}),
	}
	for _, s := range cfg.Monitor.Symbols {
		p.addSymbol(models.Instrument(s))
	}
	return p
}

// Done закрывается, когда цикл полностью остановился (все
// инфлайт-запросы завершены) — для ограниченного грейса на остановке.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Watch добавляет инструмент в отслеживаемый набор на лету.
func (p *Poller) Watch(inst models.Instrument) {
	p.addSymbol(inst)
	logger.Info("[MONITOR] watching %s", inst)
}

func (p *Poller) addSymbol(inst models.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.symbols {
		if s == inst {
			return
		}
	}
	p.symbols = append(p.symbols, inst)
	p.store.Track(inst)
}

func (p *Poller) Symbols() []models.Instrument {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Instrument, len(p.symbols))
	copy(out, p.symbols)
	return out
}

// Run — режим опроса по тикеру. Останавливается только отменой ctx.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	logger.Info("[MONITOR] poll loop started: %d symbols, interval %s",
		len(p.Symbols()), p.cfg.Monitor.Interval)

	ticker := time.NewTicker(p.cfg.Monitor.Interval)
	defer ticker.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[MONITOR] poll loop stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// RunStream — режим, где оценку символа триггерит закрытие его свечи.
func (p *Poller) RunStream(ctx context.Context) {
	defer close(p.done)

	logger.Info("[MONITOR] stream loop started: %d symbols, candle %s",
		len(p.Symbols()), p.cfg.Monitor.CandleInterval)

	candles := p.stream.StreamKlines(ctx, p.Symbols(), p.cfg.Monitor.CandleInterval)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[MONITOR] stream loop stopped")
			return
		case cc, ok := <-candles:
			if !ok {
				logger.Info("[MONITOR] candle stream closed")
				return
			}
			if !p.begin(cc.Instrument) {
				continue
			}
			wg.Add(1)
			go func(inst models.Instrument) {
				defer wg.Done()
				defer p.end(inst)
				p.sem <- struct{}{}
				defer func() { <-p.sem }()

				cctx, cancel := context.WithTimeout(ctx, p.cycleBudget())
				defer cancel()
				p.evaluate(cctx, inst)
			}(cc.Instrument)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n := p.cycle.Add(1)

	span := opentracing.StartSpan("poll_cycle")
	span.SetTag("cycle", n)
	defer span.Finish()
	ctx = opentracing.ContextWithSpan(ctx, span)

	var wg sync.WaitGroup
	for _, inst := range p.Symbols() {
		// один инфлайт-цикл на инструмент: если прошлый не успел — скипаем
		if !p.begin(inst) {
			logger.Info("[MONITOR] %s: previous cycle still running, skip", inst)
			continue
		}
		wg.Add(1)
		go func(inst models.Instrument) {
			defer wg.Done()
			defer p.end(inst)
			p.sem <- struct{}{}
			defer func() { <-p.sem }()

			cctx, cancel := context.WithTimeout(ctx, p.cycleBudget())
			defer cancel()
			p.evaluate(cctx, inst)
		}(inst)
	}
	wg.Wait()

	if every := p.cfg.Monitor.HealthEvery; every > 0 && n%uint64(every) == 0 {
		p.logHealth(n)
	}
}

func (p *Poller) cycleBudget() time.Duration {
	budget := p.cfg.Monitor.Interval
	if budget < p.cfg.Market.Timeout {
		budget = p.cfg.Market.Timeout
	}
	return budget
}

func (p *Poller) begin(inst models.Instrument) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[inst] {
		return false
	}
	p.inFlight[inst] = true
	return true
}

func (p *Poller) end(inst models.Instrument) {
	p.mu.Lock()
	delete(p.inFlight, inst)
	p.mu.Unlock()
}

// evaluate — один инструмент за один цикл: единственный писатель его состояния.
func (p *Poller) evaluate(ctx context.Context, inst models.Instrument) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "evaluate")
	span.SetTag("symbol", string(inst))
	defer span.Finish()

	var sample models.PriceSample
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		sample, err = p.md.Snapshot(ctx, inst)
		return err
	})
	if err != nil {
		logger.Error("[MONITOR] %s: snapshot: %v", inst, err)
		return
	}

	var candles []models.Candle
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		candles, err = p.md.Candles(ctx, inst, p.cfg.Monitor.CandleInterval, p.cfg.CandleCount())
		return err
	})
	if err != nil {
		if errors.Is(err, marketsvc.ErrInsufficientData) {
			// молодой листинг: данных ещё нет, пропуск без перехода
			logger.Info("[MONITOR] %s: %v", inst, err)
		} else {
			logger.Error("[MONITOR] %s: candles: %v", inst, err)
		}
		return
	}

	reading := p.computeReading(candles)
	ev := p.store.Transition(inst, reading, sample)
	if ev == nil {
		return
	}

	logger.Info("[SIGNAL] %s %s @ %s rsi=%.2f",
		ev.Instrument, ev.Direction, ev.Price, indicator.Round2(ev.RSI))

	if err := p.rec.Record(ctx, *ev); err != nil {
		logger.Error("[JOURNAL] %s: %v", inst, err)
	}
	// одна попытка: фейл доставки не откатывает переход
	if err := p.n.Send(ctx, notify.FormatAlert(*ev)); err != nil {
		logger.Error("[NOTIFY] %s: %v", inst, err)
	}
}

func (p *Poller) computeReading(candles []models.Candle) models.IndicatorReading {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}

	var reading models.IndicatorReading
	reading.RSI, reading.RSIValid = indicator.RSI(closes, p.cfg.Monitor.RSIPeriod)

	if p.cfg.Monitor.WithMACD && len(closes) > 0 {
		line, sig, hist := indicator.MACD(closes, indicator.MACDFast, indicator.MACDSlow, indicator.MACDSignal)
		reading.MACD = models.MACDValue{Line: line, Signal: sig, Histogram: hist}
		reading.MACDValid = true
	}
	return reading
}

// withRetry ретраит только транзиентные ошибки источника.
func (p *Poller) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := p.cfg.Monitor.RetryBackoff
	var err error
	for attempt := 0; attempt <= p.cfg.Monitor.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, marketsvc.ErrFetch) {
			return err
		}
	}
	return err
}

// Reading — синхронный запрос текущего чтения для командной поверхности.
// Только клиент + индикаторы, стор не трогаем.
func (p *Poller) Reading(ctx context.Context, inst models.Instrument) (models.PriceSample, models.IndicatorReading, error) {
	sample, err := p.md.Snapshot(ctx, inst)
	if err != nil {
		return models.PriceSample{}, models.IndicatorReading{}, err
	}
	candles, err := p.md.Candles(ctx, inst, p.cfg.Monitor.CandleInterval, p.cfg.CandleCount())
	if err != nil {
		return models.PriceSample{}, models.IndicatorReading{}, err
	}
	return sample, p.computeReading(candles), nil
}

func (p *Poller) logHealth(cycle uint64) {
	states := p.store.States()
	long, short := 0, 0
	for _, d := range states {
		switch d {
		case models.DirectionLong:
			long++
		case models.DirectionShort:
			short++
		}
	}
	logger.Info("[HEALTH] cycle=%d symbols=%d long=%d short=%d", cycle, len(states), long, short)
}
