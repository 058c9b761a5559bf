package tasks

import (
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
)

// Deps carries what the task handlers need
type Deps struct {
	Orders  PendingOrders
	Gateway StatusChecker
	Queue   Enqueuer
	Clock   clock.Clock
	Log     *logrus.Logger
}

// Definitions holds the task definitions built from Deps
type Definitions struct {
	LogInfo   *LogInfoTaskDef
	Reconcile *ReconcilePendingOrdersTaskDef
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) *Definitions {
	defs := &Definitions{
		LogInfo: &LogInfoTaskDef{log: deps.Log},
		Reconcile: &ReconcilePendingOrdersTaskDef{
			orders:  deps.Orders,
			gateway: deps.Gateway,
			queue:   deps.Queue,
			clock:   deps.Clock,
			log:     deps.Log,
		},
	}

	// Register general tasks
	r.Register(defs.LogInfo.TaskID(), defs.LogInfo.HandleExecution)

	// Register order tasks
	r.Register(defs.Reconcile.TaskID(), defs.Reconcile.HandleExecution)

	return defs
}
