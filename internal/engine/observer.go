package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Observer is notified as runs and steps start and finish. Implementations
// must be safe for concurrent use; overlapping runs share observers.
type Observer interface {
	RunStarted(workflow, runID string)
	RunFinished(workflow, runID string, status schema.RunStatus, elapsed time.Duration)
	StepStarted(workflow, runID, stepID string)
	StepFinished(workflow, runID, stepID string, status schema.StepStatus, elapsed time.Duration)
}

// observers fans notifications out to every registered Observer. A panic in
// one observer is logged and does not reach the run or the other observers.
type observers struct {
	list   []Observer
	logger *slog.Logger
}

func (o observers) each(notify func(Observer)) {
	for _, ob := range o.list {
		o.call(ob, notify)
	}
}

func (o observers) call(ob Observer, notify func(Observer)) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Warn("observer panicked",
				slog.String("observer", fmt.Sprintf("%T", ob)),
				slog.String("error", fmt.Sprint(rec)),
			)
		}
	}()
	notify(ob)
}

func (o observers) RunStarted(workflow, runID string) {
	o.each(func(ob Observer) { ob.RunStarted(workflow, runID) })
}

func (o observers) RunFinished(workflow, runID string, status schema.RunStatus, elapsed time.Duration) {
	o.each(func(ob Observer) { ob.RunFinished(workflow, runID, status, elapsed) })
}

func (o observers) StepStarted(workflow, runID, stepID string) {
	o.each(func(ob Observer) { ob.StepStarted(workflow, runID, stepID) })
}

func (o observers) StepFinished(workflow, runID, stepID string, status schema.StepStatus, elapsed time.Duration) {
	o.each(func(ob Observer) { ob.StepFinished(workflow, runID, stepID, status, elapsed) })
}
