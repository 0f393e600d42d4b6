package stats

import (
	"fmt"
	"math"
)

// Insights derives the ordered natural-language observations for a month.
// Rules fire independently; the fallback fires only when nothing else did.
func Insights(m Monthly, budgets []BudgetStatus) []string {
	var insights []string

	if m.ChangePct != nil {
		change := *m.ChangePct
		if change > 10 {
			insights = append(insights, fmt.Sprintf(
				"Your spending increased by %d%% compared to last month", int(math.Round(change))))
		} else if change < -10 {
			insights = append(insights, fmt.Sprintf(
				"Great! Your spending decreased by %d%% compared to last month", int(math.Round(math.Abs(change)))))
		}
	}

	if len(m.Categories) > 0 {
		top := m.Categories[0]
		insights = append(insights, fmt.Sprintf(
			"%s is your top spending category (%d%% of total)", top.Category, top.Percentage))
	}

	exceeded := 0
	for _, b := range budgets {
		if b.Exceeded {
			exceeded++
		}
	}
	if exceeded == 1 {
		insights = append(insights, "You've exceeded your budget in 1 category")
	} else if exceeded > 1 {
		insights = append(insights, fmt.Sprintf("You've exceeded your budget in %d categories", exceeded))
	}

	if len(insights) == 0 {
		insights = append(insights, "Keep tracking your expenses to get personalized insights!")
	}

	return insights
}

// DailyInsights returns the current-month feed shown on the insights screen:
// the trend line (5% threshold), the average daily spend and the top category.
func DailyInsights(m Monthly) []string {
	var insights []string

	if m.ChangePct != nil && math.Abs(*m.ChangePct) > 5 {
		direction := "up"
		if *m.ChangePct < 0 {
			direction = "down"
		}
		insights = append(insights, fmt.Sprintf(
			"This month's spending is %s %d%% from last month", direction, int(math.Round(math.Abs(*m.ChangePct)))))
	}

	insights = append(insights, fmt.Sprintf(
		"You're spending an average of %.2f per day this month", m.AvgDaily.Float()))

	if len(m.Categories) > 0 {
		top := m.Categories[0]
		insights = append(insights, fmt.Sprintf(
			"Most spending is on %s (%.2f)", top.Category, top.Total.Float()))
	}

	return insights
}
