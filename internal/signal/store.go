package signal

import (
	"sync"
	"time"

	"signal_bot/internal/models"
)

// Thresholds — границы RSI. Ровно 30/70 считаем нейтралью (без сигнала).
type Thresholds struct {
	Oversold   float64
	Overbought float64
}

// Store хранит последний отправленный сигнал по каждому инструменту
// и гасит повторы, пока условие держится (гистерезис).
// Единственный писатель — поллер, по одному на инструмент за цикл.
type Store struct {
	th Thresholds

	mu     sync.RWMutex
	states map[models.Instrument]models.Direction
}

func NewStore(th Thresholds) *Store {
	return &Store{
		th:     th,
		states: make(map[models.Instrument]models.Direction),
	}
}

// Track регистрирует инструмент в состоянии NEUTRAL.
func (s *Store) Track(inst models.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[inst]; !ok {
		s.states[inst] = models.DirectionNeutral
	}
}

func (s *Store) State(inst models.Instrument) models.Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.states[inst]; ok {
		return d
	}
	return models.DirectionNeutral
}

// States — копия карты состояний для статусных команд.
func (s *Store) States() map[models.Instrument]models.Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Instrument]models.Direction, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Transition применяет чистую функцию перехода (prevState, rsi) -> state
// и возвращает событие только на смене направления:
//
//	rsi < oversold   и state != LONG  -> LONG, событие
//	rsi > overbought и state != SHORT -> SHORT, событие
//	oversold <= rsi <= overbought     -> NEUTRAL, тихий сброс
//	rsi невалиден                     -> без изменений
func (s *Store) Transition(inst models.Instrument, reading models.IndicatorReading, sample models.PriceSample) *models.SignalEvent {
	if !reading.RSIValid {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.states[inst]
	switch {
	case reading.RSI < s.th.Oversold:
		if prev == models.DirectionLong {
			return nil
		}
		s.states[inst] = models.DirectionLong
		return s.event(inst, models.DirectionLong, reading, sample)

	case reading.RSI > s.th.Overbought:
		if prev == models.DirectionShort {
			return nil
		}
		s.states[inst] = models.DirectionShort
		return s.event(inst, models.DirectionShort, reading, sample)

	default:
		s.states[inst] = models.DirectionNeutral
		return nil
	}
}

func (s *Store) event(inst models.Instrument, dir models.Direction, reading models.IndicatorReading, sample models.PriceSample) *models.SignalEvent {
	return &models.SignalEvent{
		Instrument: inst,
		Direction:  dir,
		Price:      sample.Price,
		RSI:        reading.RSI,
		EmittedAt:  time.Now(),
	}
}
