package models

import "strings"

// Direction - направление сигнала
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection принимает LONG/SHORT, BUY/SELL и up/down в любом регистре
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY", "UP":
		return DirectionLong, true
	case "SHORT", "SELL", "DOWN":
		return DirectionShort, true
	}
	return "", false
}

// Side переводит направление сигнала в сторону ордера
func (d Direction) Side() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// TradeSignal - разобранный торговый сигнал. Не изменяется после разбора.
type TradeSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size,omitempty"`     // номинал в USDT, 0 = из конфигурации
	Leverage   int       `json:"leverage,omitempty"` // 0 = из конфигурации
	Exchange   string    `json:"exchange,omitempty"` // пусто = из конфигурации
}
