package bot

import (
	"context"

	"github.com/go-faster/errors"

	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/pkg/utils"
)

// errNoLevel - уровень не положителен, ордер не отправлялся
var errNoLevel = errors.New("protective level is not positive")

// protectivePlan - SL/TP для открытой позиции
type protectivePlan struct {
	Symbol     string
	EntrySide  string // сторона входа; закрывающие ордера идут в обратную
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// protectiveResult - итог прикрепления SL/TP
type protectiveResult struct {
	StopLossID   string
	TakeProfitID string
	Attached     models.StopsAttached
}

// LegResult - результат одного защитного ордера
type LegResult struct {
	Order *exchange.Order
	Error error
}

// attachStops прикрепляет SL/TP к позиции.
//
// Сначала пробует стопы уровня позиции одним вызовом (если биржа умеет),
// при отказе ставит два независимых ордера ПАРАЛЛЕЛЬНО: стоп и reduce-only лимит
// на противоположной стороне. Ошибка одного не мешает второму.
func (e *Executor) attachStops(ctx context.Context, ex exchange.Exchange, log *utils.Logger, plan protectivePlan) protectiveResult {
	if plan.Quantity <= 0 {
		log.Error("no quantity to protect, skipping protective orders")
		return protectiveResult{Attached: models.StopsNone}
	}

	hasSL, hasTP := plan.StopLoss > 0, plan.TakeProfit > 0
	if !hasSL || !hasTP {
		log.Error("non-positive protective level is not sent",
			utils.Float64("stop_loss", plan.StopLoss),
			utils.Float64("take_profit", plan.TakeProfit),
		)
	}
	if !hasSL && !hasTP {
		return protectiveResult{Attached: models.StopsNone}
	}

	if ex.SupportsPositionStops() {
		stops := exchange.PositionStops{PositionSide: plan.EntrySide}
		if hasSL {
			stops.StopLoss = plan.StopLoss
		}
		if hasTP {
			stops.TakeProfit = plan.TakeProfit
		}
		res, err := callResult(ctx, ex, "set_position_stops", e.protectiveRetry(), func(ctx context.Context) (*exchange.PositionStopsResult, error) {
			return ex.SetPositionStops(ctx, plan.Symbol, stops)
		})
		if err == nil {
			var id string
			if res != nil {
				id = res.ID
			}
			log.Info("position stops attached",
				utils.Float64("stop_loss", stops.StopLoss),
				utils.Float64("take_profit", stops.TakeProfit),
			)
			out := protectiveResult{Attached: models.StopsFull}
			if hasSL {
				out.StopLossID = id
			}
			if hasTP {
				out.TakeProfitID = id
			}
			if !hasSL || !hasTP {
				out.Attached = models.StopsPartial
			}
			return out
		}
		log.Warn("position stops failed, falling back to separate orders", utils.Err(err))
	}

	return e.placeSeparateStops(ctx, ex, log, plan)
}

// placeSeparateStops выставляет стоп и тейк параллельно и ждёт оба результата
func (e *Executor) placeSeparateStops(ctx context.Context, ex exchange.Exchange, log *utils.Logger, plan protectivePlan) protectiveResult {
	closeSide := exchange.OppositeSide(plan.EntrySide)
	slParams := exchange.OrderParams{ClientOrderID: newClientOrderID(), ReduceOnly: true, PositionSide: plan.EntrySide}
	tpParams := exchange.OrderParams{ClientOrderID: newClientOrderID(), ReduceOnly: true, PositionSide: plan.EntrySide}

	slCh := make(chan LegResult, 1)
	tpCh := make(chan LegResult, 1)

	// повтор идёт с тем же client order id: биржа отбросит дубликат
	if plan.StopLoss > 0 {
		go func() {
			order, err := callResult(ctx, ex, "create_stop_order", e.protectiveRetry(), func(ctx context.Context) (*exchange.Order, error) {
				return ex.CreateStopOrder(ctx, plan.Symbol, closeSide, plan.Quantity, plan.StopLoss, slParams)
			})
			slCh <- LegResult{Order: order, Error: err}
		}()
	} else {
		slCh <- LegResult{Error: errNoLevel}
	}

	if plan.TakeProfit > 0 {
		go func() {
			order, err := callResult(ctx, ex, "create_take_profit_order", e.protectiveRetry(), func(ctx context.Context) (*exchange.Order, error) {
				return ex.CreateTakeProfitOrder(ctx, plan.Symbol, closeSide, plan.Quantity, plan.TakeProfit, tpParams)
			})
			tpCh <- LegResult{Order: order, Error: err}
		}()
	} else {
		tpCh <- LegResult{Error: errNoLevel}
	}

	var slRes, tpRes LegResult
	var slReceived, tpReceived bool
	for !slReceived || !tpReceived {
		select {
		case slRes = <-slCh:
			slReceived = true
		case tpRes = <-tpCh:
			tpReceived = true
		}
	}

	var res protectiveResult
	placed := 0
	if slRes.Error == nil && slRes.Order != nil {
		res.StopLossID = slRes.Order.ID
		placed++
		log.Info("stop-loss order placed", utils.OrderID(slRes.Order.ID), utils.Price(plan.StopLoss))
	} else {
		log.Error("stop-loss order failed", utils.Price(plan.StopLoss), utils.Err(slRes.Error))
	}
	if tpRes.Error == nil && tpRes.Order != nil {
		res.TakeProfitID = tpRes.Order.ID
		placed++
		log.Info("take-profit order placed", utils.OrderID(tpRes.Order.ID), utils.Price(plan.TakeProfit))
	} else {
		log.Error("take-profit order failed", utils.Price(plan.TakeProfit), utils.Err(tpRes.Error))
	}

	switch placed {
	case 2:
		res.Attached = models.StopsFull
	case 1:
		res.Attached = models.StopsPartial
	default:
		res.Attached = models.StopsNone
	}
	return res
}
