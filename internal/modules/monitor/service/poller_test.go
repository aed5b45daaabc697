package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/journal"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	marketsvc "signal_bot/internal/modules/market/service"
	"signal_bot/internal/signal"
)

// fakeMarket проигрывает заранее заданные серии закрытий по циклам.
type fakeMarket struct {
	mu           sync.Mutex
	snapshotErrs map[models.Instrument]int // сколько первых Snapshot зафейлить
	candleErr    map[models.Instrument]error
	series       map[models.Instrument][][]float64
	cursor       map[models.Instrument]int
	candleCalls  map[models.Instrument]int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		snapshotErrs: make(map[models.Instrument]int),
		candleErr:    make(map[models.Instrument]error),
		series:       make(map[models.Instrument][][]float64),
		cursor:       make(map[models.Instrument]int),
		candleCalls:  make(map[models.Instrument]int),
	}
}

func (f *fakeMarket) Snapshot(_ context.Context, inst models.Instrument) (models.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.snapshotErrs[inst]; n > 0 {
		f.snapshotErrs[inst] = n - 1
		return models.PriceSample{}, errors.Wrap(marketsvc.ErrFetch, "fake outage")
	}
	return models.PriceSample{
		Instrument: inst,
		Price:      decimal.NewFromInt(100),
		ObservedAt: time.Now(),
	}, nil
}

func (f *fakeMarket) Candles(_ context.Context, inst models.Instrument, _ string, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls[inst]++

	if err := f.candleErr[inst]; err != nil {
		return nil, err
	}
	seq := f.series[inst]
	if len(seq) == 0 {
		return nil, errors.Wrap(marketsvc.ErrInsufficientData, "no series")
	}
	i := f.cursor[inst]
	if i >= len(seq) {
		i = len(seq) - 1 // последняя серия повторяется
	}
	f.cursor[inst]++

	closes := seq[i]
	candles := make([]models.Candle, len(closes))
	base := time.UnixMilli(1700000000000)
	for j, c := range closes {
		candles[j] = models.Candle{
			OpenTime: base.Add(time.Duration(j) * time.Minute),
			Close:    decimal.NewFromFloat(c),
		}
	}
	return candles, nil
}

func (f *fakeMarket) candleCallCount(inst models.Instrument) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candleCalls[inst]
}

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSink) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.SignalEvent
}

func (r *fakeRecorder) Record(_ context.Context, ev models.SignalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRecorder) Close() {}

type fakeStream struct {
	ch chan marketsvc.ClosedCandle
}

func (f *fakeStream) StreamKlines(context.Context, []models.Instrument, string) <-chan marketsvc.ClosedCandle {
	return f.ch
}

// downCloses — строго падающая серия, RSI = 0.
func downCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 200 - float64(i)
	}
	return out
}

// neutralCloses — чередование, RSI около 50.
func neutralCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i%2)
	}
	return out
}

func testConfig(symbols ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.Symbols = symbols
	cfg.Monitor.Interval = 50 * time.Millisecond
	cfg.Monitor.CandleInterval = "1m"
	cfg.Monitor.RSIPeriod = 14
	cfg.Monitor.Oversold = 30
	cfg.Monitor.Overbought = 70
	cfg.Monitor.Parallelism = 4
	cfg.Monitor.RetryBackoff = time.Millisecond
	cfg.Market.Timeout = time.Second
	return cfg
}

func newTestPoller(cfg *config.Config, fm *fakeMarket, stream CandleStream, sink *fakeSink, rec journal.Recorder) (*Poller, *signal.Store) {
	store := signal.NewStore(signal.Thresholds{
		Oversold:   cfg.Monitor.Oversold,
		Overbought: cfg.Monitor.Overbought,
	})
	if rec == nil {
		rec = journal.Noop{}
	}
	return NewPoller(cfg, fm, stream, store, sink, rec), store
}

func TestPoller_EmitsOnceThenResets(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{
		downCloses(cfg.CandleCount()),    // цикл 1: RSI в зоне перепроданности
		neutralCloses(cfg.CandleCount()), // цикл 2: RSI нейтральный
	}
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	p, store := newTestPoller(cfg, fm, nil, sink, rec)

	ctx := context.Background()
	p.runCycle(ctx)
	require.Equal(t, 1, sink.count(), "ровно один алерт после первого цикла")
	assert.Equal(t, models.DirectionLong, store.State("BTCUSDT"))

	p.runCycle(ctx)
	assert.Equal(t, 1, sink.count(), "нейтральный цикл не шлёт ничего")
	assert.Equal(t, models.DirectionNeutral, store.State("BTCUSDT"))

	require.Len(t, rec.events, 1)
	assert.Equal(t, models.DirectionLong, rec.events[0].Direction)
	assert.Contains(t, sink.sent[0], "LONG")
}

func TestPoller_PersistentZoneEmitsOnce(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{downCloses(cfg.CandleCount())} // повторяется
	sink := &fakeSink{}
	p, _ := newTestPoller(cfg, fm, nil, sink, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.runCycle(ctx)
	}
	assert.Equal(t, 1, sink.count(), "условие держится — алерт один")
}

func TestPoller_FaultIsolation(t *testing.T) {
	cfg := testConfig("AAAUSDT", "BBBUSDT")
	fm := newFakeMarket()
	fm.snapshotErrs["AAAUSDT"] = 1000 // A лежит все циклы
	fm.series["BBBUSDT"] = [][]float64{
		downCloses(cfg.CandleCount()),
		neutralCloses(cfg.CandleCount()),
	}
	sink := &fakeSink{}
	p, store := newTestPoller(cfg, fm, nil, sink, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.runCycle(ctx)
	}

	// фейлы A не трогают B и не валят цикл
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, models.DirectionNeutral, store.State("BBBUSDT"))
	assert.Equal(t, models.DirectionNeutral, store.State("AAAUSDT"))
	assert.Equal(t, 3, fm.candleCallCount("BBBUSDT"))
}

func TestPoller_RetriesTransientFetch(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	cfg.Monitor.RetryAttempts = 2
	fm := newFakeMarket()
	fm.snapshotErrs["BTCUSDT"] = 2 // две неудачи, третья попытка проходит
	fm.series["BTCUSDT"] = [][]float64{downCloses(cfg.CandleCount())}
	sink := &fakeSink{}
	p, _ := newTestPoller(cfg, fm, nil, sink, nil)

	p.runCycle(context.Background())
	assert.Equal(t, 1, sink.count())
}

func TestPoller_NoRetryOnInsufficientData(t *testing.T) {
	cfg := testConfig("NEWUSDT")
	cfg.Monitor.RetryAttempts = 3
	fm := newFakeMarket()
	fm.candleErr["NEWUSDT"] = errors.Wrap(marketsvc.ErrInsufficientData, "young listing")
	sink := &fakeSink{}
	p, store := newTestPoller(cfg, fm, nil, sink, nil)

	p.runCycle(context.Background())

	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, fm.candleCallCount("NEWUSDT"), "нехватка истории не ретраится")
	assert.Equal(t, models.DirectionNeutral, store.State("NEWUSDT"))
}

func TestPoller_DeliveryFailureDoesNotRollback(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{downCloses(cfg.CandleCount())}
	sink := &fakeSink{err: errors.New("telegram down")}
	p, store := newTestPoller(cfg, fm, nil, sink, nil)

	ctx := context.Background()
	p.runCycle(ctx)
	assert.Equal(t, models.DirectionLong, store.State("BTCUSDT"))

	// доставка не ретраится: следующий цикл в той же зоне молчит
	sink.err = nil
	p.runCycle(ctx)
	assert.Equal(t, 0, sink.count())
}

func TestPoller_InFlightGuard(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	sink := &fakeSink{}
	p, _ := newTestPoller(cfg, fm, nil, sink, nil)

	require.True(t, p.begin("BTCUSDT"))
	assert.False(t, p.begin("BTCUSDT"), "второй цикл по тому же символу не стартует")
	p.end("BTCUSDT")
	assert.True(t, p.begin("BTCUSDT"))
}

func TestPoller_Watch(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	p, store := newTestPoller(cfg, fm, nil, &fakeSink{}, nil)

	p.Watch("ETHUSDT")
	p.Watch("ETHUSDT") // дубль игнорируется

	assert.Equal(t, []models.Instrument{"BTCUSDT", "ETHUSDT"}, p.Symbols())
	assert.Equal(t, models.DirectionNeutral, store.State("ETHUSDT"))
	assert.Len(t, store.States(), 2)
}

func TestPoller_ReadingDoesNotTouchStore(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{downCloses(cfg.CandleCount())}
	p, store := newTestPoller(cfg, fm, nil, &fakeSink{}, nil)

	sample, reading, err := p.Reading(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, sample.Price.Equal(decimal.NewFromInt(100)))
	require.True(t, reading.RSIValid)
	assert.Equal(t, 0.0, reading.RSI)

	// read path не пишет состояние
	assert.Equal(t, models.DirectionNeutral, store.State("BTCUSDT"))
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{neutralCloses(cfg.CandleCount())}
	p, _ := newTestPoller(cfg, fm, nil, &fakeSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

func TestPoller_StreamMode(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	cfg.Monitor.Stream = true
	fm := newFakeMarket()
	fm.series["BTCUSDT"] = [][]float64{downCloses(cfg.CandleCount())}
	stream := &fakeStream{ch: make(chan marketsvc.ClosedCandle, 1)}
	sink := &fakeSink{}
	p, store := newTestPoller(cfg, fm, stream, sink, nil)

	go p.RunStream(context.Background())

	stream.ch <- marketsvc.ClosedCandle{
		Instrument: "BTCUSDT",
		Candle:     models.Candle{OpenTime: time.Now(), Close: decimal.NewFromInt(100)},
	}
	close(stream.ch)

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream poller did not stop after channel close")
	}

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, models.DirectionLong, store.State("BTCUSDT"))
}
