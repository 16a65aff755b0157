package websocket

import (
	"time"

	"tvtrader/internal/events"
	"tvtrader/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

const (
	// MessageTypeExecution - итог исполнения сигнала (успех или отказ)
	MessageTypeExecution MessageType = "execution"

	// MessageTypeStops - исход наблюдателя лимитного входа (SL/TP прикреплены или брошены)
	MessageTypeStops MessageType = "stops"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExecutionMessage - событие исполнения для подписчиков /ws/executions
type ExecutionMessage struct {
	BaseMessage
	Event     events.Type           `json:"event"`
	RequestID string                `json:"request_id,omitempty"`
	Exchange  string                `json:"exchange"`
	Symbol    string                `json:"symbol"`
	OrderID   string                `json:"order_id,omitempty"`
	Stops     models.StopsAttached  `json:"stops_attached,omitempty"`
	Message   string                `json:"message,omitempty"`
	Response  *models.OrderResponse `json:"response,omitempty"`
}

// NewExecutionMessage строит сообщение по событию
func NewExecutionMessage(e events.Event) *ExecutionMessage {
	t := MessageTypeExecution
	switch e.Type {
	case events.StopsAttached, events.StopsAbandoned:
		t = MessageTypeStops
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &ExecutionMessage{
		BaseMessage: BaseMessage{Type: t, Timestamp: ts},
		Event:       e.Type,
		RequestID:   e.RequestID,
		Exchange:    e.Exchange,
		Symbol:      e.Symbol,
		OrderID:     e.OrderID,
		Stops:       e.Stops,
		Message:     e.Message,
		Response:    e.Response,
	}
}
