package bot

import (
	"context"
	"fmt"
	"time"

	"tvtrader/internal/events"
	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/pkg/utils"
)

// ============================================================
// Наблюдатель неисполненных лимитных входов
// ============================================================
//
// Лимитный вход, не исполненный при первой проверке, остаётся без SL/TP.
// Наблюдатель опрашивает статус ордера каждые PendingPollInterval:
// - filled: прикрепляет SL/TP на исполненное количество
// - cancelled/rejected: прикрепляет на частичное исполнение или сдаётся
// - PendingTimeout: снимает остаток ордера, прикрепляет на исполненное или сдаётся
// Каждый исход публикуется событием StopsAttached или StopsAbandoned.

// pendingEntry - лимитный вход, ожидающий исполнения
type pendingEntry struct {
	requestID string
	orderID   string
	ex        exchange.Exchange
	plan      protectivePlan
	log       *utils.Logger
}

// watchPending запускает наблюдатель. false - исполнитель уже остановлен.
func (e *Executor) watchPending(p pendingEntry) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.watchers.Add(1)
	e.mu.Unlock()

	PendingStopWatchers.Inc()
	p.log.Info("limit entry not filled, watching for fill",
		utils.OrderID(p.orderID),
		utils.Dur("poll_interval", e.cfg.PendingPollInterval),
		utils.Dur("timeout", e.cfg.PendingTimeout),
	)

	go func() {
		defer e.watchers.Done()
		defer PendingStopWatchers.Dec()
		e.monitorPending(p)
	}()
	return true
}

func (e *Executor) monitorPending(p pendingEntry) {
	ticker := time.NewTicker(e.cfg.PendingPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.cfg.PendingTimeout)
	defer deadline.Stop()

	var last *exchange.Order
	for {
		select {
		case <-e.watchCtx.Done():
			e.abandonPending(p, "executor stopped before limit entry filled")
			return

		case <-deadline.C:
			e.expirePending(p, last)
			return

		case <-ticker.C:
			order, err := callResult(e.watchCtx, p.ex, "fetch_order_status", e.readRetry(), func(ctx context.Context) (*exchange.Order, error) {
				return p.ex.FetchOrderStatus(ctx, p.orderID, p.plan.Symbol)
			})
			if err != nil {
				p.log.Warn("pending entry status check failed", utils.OrderID(p.orderID), utils.Err(err))
				continue
			}
			last = order

			switch {
			case order.Status == exchange.OrderStatusFilled:
				e.attachPending(p, filledOr(order, p.plan.Quantity), "")
				return
			case exchange.IsFinal(order.Status):
				if order.Filled > 0 {
					e.attachPending(p, order.Filled, "")
					return
				}
				e.abandonPending(p, fmt.Sprintf("limit entry %s without fill", order.Status))
				return
			}
		}
	}
}

// expirePending снимает остаток входа по таймауту: иначе поздние исполнения
// останутся без SL/TP. Защищается количество, исполненное к моменту отмены.
func (e *Executor) expirePending(p pendingEntry, last *exchange.Order) {
	ctx := context.WithoutCancel(e.watchCtx)
	var filled float64
	if last != nil {
		filled = last.Filled
	}

	_, err := callResult(ctx, p.ex, "cancel_order", e.protectiveRetry(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.ex.CancelOrder(ctx, p.orderID, p.plan.Symbol)
	})
	if err != nil {
		p.log.Error("failed to cancel limit entry remainder after timeout",
			utils.OrderID(p.orderID),
			utils.Dur("timeout", e.cfg.PendingTimeout),
			utils.Err(err),
		)
		note := fmt.Sprintf("limit entry %s still open after %s (cancel failed: %v); later fills are unprotected",
			p.orderID, e.cfg.PendingTimeout, err)
		if filled > 0 {
			e.attachPending(p, filled, note)
			return
		}
		e.abandonPending(p, note)
		return
	}

	// после отмены исполненное количество уже не изменится
	final, err := callResult(ctx, p.ex, "fetch_order_status", e.readRetry(), func(ctx context.Context) (*exchange.Order, error) {
		return p.ex.FetchOrderStatus(ctx, p.orderID, p.plan.Symbol)
	})
	if err == nil && final != nil {
		if final.Status == exchange.OrderStatusFilled {
			filled = filledOr(final, p.plan.Quantity)
		} else if final.Filled > filled {
			filled = final.Filled
		}
	}

	if filled > 0 {
		e.attachPending(p, filled, fmt.Sprintf("unfilled remainder cancelled after %s", e.cfg.PendingTimeout))
		return
	}
	p.log.Error("limit entry not filled within timeout, order cancelled",
		utils.OrderID(p.orderID),
		utils.Dur("timeout", e.cfg.PendingTimeout),
	)
	e.abandonPending(p, fmt.Sprintf("limit entry not filled within %s, order cancelled", e.cfg.PendingTimeout))
}

func (e *Executor) attachPending(p pendingEntry, qty float64, note string) {
	plan := p.plan
	plan.Quantity = qty

	// остановка исполнителя не должна обрывать выставление SL/TP на середине
	res := e.attachStops(context.WithoutCancel(e.watchCtx), p.ex, p.log, plan)
	StopsOutcome.WithLabelValues(p.ex.GetName(), string(res.Attached)).Inc()

	ev := e.pendingEvent(p, events.StopsAttached, res.Attached)
	ev.Message = fmt.Sprintf("protective orders attached after fill: sl=%s tp=%s", res.StopLossID, res.TakeProfitID)
	if res.Attached == models.StopsNone {
		ev.Type = events.StopsAbandoned
		ev.Message = "limit entry filled but protective orders failed"
	}
	if note != "" {
		ev.Message += "; " + note
	}
	p.log.Info("pending entry resolved",
		utils.OrderID(p.orderID),
		utils.StopsAttached(string(res.Attached)),
		utils.Amount(qty),
	)
	e.publish(context.Background(), ev)
}

func (e *Executor) abandonPending(p pendingEntry, reason string) {
	StopsOutcome.WithLabelValues(p.ex.GetName(), string(models.StopsNone)).Inc()
	p.log.Warn("pending entry abandoned", utils.OrderID(p.orderID), utils.String("reason", reason))

	ev := e.pendingEvent(p, events.StopsAbandoned, models.StopsNone)
	ev.Message = reason
	e.publish(context.Background(), ev)
}

func (e *Executor) pendingEvent(p pendingEntry, t events.Type, stops models.StopsAttached) events.Event {
	return events.Event{
		Type:      t,
		Time:      time.Now().UTC(),
		RequestID: p.requestID,
		Exchange:  p.ex.GetName(),
		Symbol:    p.plan.Symbol,
		OrderID:   p.orderID,
		Stops:     stops,
	}
}

// Shutdown останавливает наблюдатели и ждёт их завершения (или отмены ctx).
// Новые лимитные входы после этого уходят без наблюдателя.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stopWatch()

	done := make(chan struct{})
	go func() {
		e.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
