// Package events публикует события исполнения сигналов (Kafka, WebSocket).
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"tvtrader/internal/models"
)

// Type - тип события исполнения
type Type string

const (
	// ExecutionCompleted - вход открыт (успех, возможно без стопов)
	ExecutionCompleted Type = "execution.completed"
	// ExecutionFailed - сделка не открыта
	ExecutionFailed Type = "execution.failed"
	// StopsPending - лимитный вход ждёт исполнения, SL/TP будут прикреплены позже
	StopsPending Type = "stops.pending"
	// StopsAttached - наблюдатель прикрепил SL/TP после исполнения лимитного входа
	StopsAttached Type = "stops.attached"
	// StopsAbandoned - наблюдатель прекратил ожидание (отмена ордера, таймаут, остановка)
	StopsAbandoned Type = "stops.abandoned"
)

// Event - событие исполнения
type Event struct {
	Type      Type                  `json:"type"`
	Time      time.Time             `json:"time"`
	RequestID string                `json:"request_id,omitempty"`
	Exchange  string                `json:"exchange"`
	Symbol    string                `json:"symbol"`
	OrderID   string                `json:"order_id,omitempty"`
	Stops     models.StopsAttached  `json:"stops_attached,omitempty"`
	Message   string                `json:"message,omitempty"`
	Response  *models.OrderResponse `json:"response,omitempty"`
}

// Key - ключ партиционирования (события одного символа идут по порядку)
func (e Event) Key() string {
	return e.Exchange + ":" + e.Symbol
}

// FromResponse строит событие по итогу исполнения
func FromResponse(requestID string, resp *models.OrderResponse) Event {
	t := ExecutionCompleted
	if !resp.Success {
		t = ExecutionFailed
	}
	return Event{
		Type:      t,
		Time:      time.Now().UTC(),
		RequestID: requestID,
		Exchange:  resp.Exchange,
		Symbol:    resp.Symbol,
		OrderID:   resp.OrderID,
		Stops:     resp.StopsAttached,
		Message:   resp.Message,
		Response:  resp,
	}
}

// Publisher - получатель событий
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop - Publisher, который ничего не делает
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi рассылает событие всем получателям. Ошибка одного не мешает остальным.
type Multi struct {
	mu   sync.RWMutex
	pubs []Publisher
}

func NewMulti(pubs ...Publisher) *Multi {
	m := &Multi{}
	for _, p := range pubs {
		m.Add(p)
	}
	return m
}

// Add добавляет получателя (nil игнорируется)
func (m *Multi) Add(p Publisher) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.pubs = append(m.pubs, p)
	m.mu.Unlock()
}

func (m *Multi) Publish(ctx context.Context, e Event) error {
	m.mu.RLock()
	pubs := m.pubs
	m.mu.RUnlock()

	var err error
	for _, p := range pubs {
		err = multierr.Append(err, p.Publish(ctx, e))
	}
	return err
}

func (m *Multi) Close() error {
	m.mu.Lock()
	pubs := m.pubs
	m.pubs = nil
	m.mu.Unlock()

	var err error
	for _, p := range pubs {
		err = multierr.Append(err, p.Close())
	}
	return err
}
