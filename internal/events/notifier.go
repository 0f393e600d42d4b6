package events

import (
	"fmt"
	"log/slog"
)

// Notifier turns consumed domain events into operator-visible notifications
// on the worker log. Budget overruns are surfaced at warning level so they
// stand out from ordinary expense traffic.
type Notifier struct {
	log *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

// Handle processes one consumed event. Unknown event types are logged and
// acknowledged rather than rejected: requeueing them would loop forever.
func (n *Notifier) Handle(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}

	switch msg.Type {
	case TypeExpenseCreated:
		n.log.Info("Expense recorded",
			"owner_id", msg.OwnerID,
			"expense_id", msg.ExpenseID,
			"category", msg.Category)
	case TypeBudgetExceeded:
		n.log.Warn("Budget exceeded",
			"owner_id", msg.OwnerID,
			"category", msg.Category,
			"month", msg.Month,
			"year", msg.Year)
	default:
		n.log.Warn("Ignoring unknown event type", "type", msg.Type)
	}

	return nil
}
