package bot

import "github.com/go-faster/errors"

// Stage - этап исполнения одного сигнала
type Stage string

const (
	StageStarted         Stage = "started"
	StageClientReady     Stage = "client_ready"
	StageSymbolResolved  Stage = "symbol_resolved"
	StageLeverageApplied Stage = "leverage_applied"
	StagePriceResolved   Stage = "price_resolved"
	StageRiskComputed    Stage = "risk_computed"
	StageEntryPlaced     Stage = "entry_placed"
	StageStopsAttached   Stage = "stops_attached"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// ValidTransitions определяет допустимые переходы между этапами.
// Отказ до EntryPlaced терминален (сделка не открыта),
// после EntryPlaced исполнение всегда доходит до Completed.
var ValidTransitions = map[Stage][]Stage{
	StageStarted:         {StageClientReady, StageFailed},
	StageClientReady:     {StageSymbolResolved, StageFailed},
	StageSymbolResolved:  {StageLeverageApplied, StageFailed},
	StageLeverageApplied: {StagePriceResolved, StageFailed},
	StagePriceResolved:   {StageRiskComputed, StageFailed},
	StageRiskComputed:    {StageEntryPlaced, StageFailed},
	StageEntryPlaced:     {StageStopsAttached},
	StageStopsAttached:   {StageCompleted},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to Stage) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal - дальше переходов нет
func IsTerminal(s Stage) bool {
	return s == StageCompleted || s == StageFailed
}

// EntryOpened - вход уже выставлен на бирже, откат невозможен
func EntryOpened(s Stage) bool {
	return s == StageEntryPlaced || s == StageStopsAttached || s == StageCompleted
}

// tracker ведёт текущий этап одного исполнения
type tracker struct {
	stage Stage
}

func newTracker() *tracker {
	return &tracker{stage: StageStarted}
}

func (t *tracker) advance(to Stage) error {
	if !CanTransition(t.stage, to) {
		return errors.Errorf("invalid stage transition %s -> %s", t.stage, to)
	}
	t.stage = to
	return nil
}
