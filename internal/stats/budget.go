package stats

import (
	"math"

	"pocketexpense/internal/core"
)

// BudgetStatus joins a budget with the spend of its period.
type BudgetStatus struct {
	core.Budget
	Spent      core.Money
	Remaining  core.Money // limit minus spent, may be negative
	Percentage int        // rounded for display
	Exceeded   bool       // strictly spent > limit
}

// Statuses computes the status of every budget against the category spend of
// its period. Budget limits are validated positive at creation time, so no
// division-by-zero guard is needed.
func Statuses(budgets []core.Budget, spentByCategory map[core.Category]core.Money) []BudgetStatus {
	out := make([]BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		spent := spentByCategory[b.Category]
		out = append(out, BudgetStatus{
			Budget:     b,
			Spent:      spent,
			Remaining:  core.Money{Cents: b.Limit.Cents - spent.Cents},
			Percentage: int(math.Round(float64(spent.Cents) / float64(b.Limit.Cents) * 100)),
			Exceeded:   spent.Cents > b.Limit.Cents,
		})
	}
	return out
}
