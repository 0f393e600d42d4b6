// Package stats computes derived monthly statistics from expense and budget
// records. Everything here is derived fresh on every query and never stored.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"pocketexpense/internal/core"
)

// ExpenseSource provides the expense records a computation is scoped to.
type ExpenseSource interface {
	ListExpensesByMonth(ctx context.Context, ownerID string, year, month int) ([]core.Expense, error)
}

// BudgetSource provides the budgets for a (owner, month, year) scope.
type BudgetSource interface {
	ListBudgets(ctx context.Context, ownerID string, month, year int) ([]core.Budget, error)
}

// CategoryTotal is one category's share of a month, percentage rounded
// independently. Percentages are not guaranteed to sum to exactly 100.
type CategoryTotal struct {
	Category   core.Category
	Total      core.Money
	Percentage int
}

// CategoryChange compares one category across two adjacent months.
type CategoryChange struct {
	Category  core.Category
	Current   core.Money
	Last      core.Money
	ChangePct int // 0 when the category had no spend last month
}

// Monthly is the aggregated view of one (owner, month, year) scope.
type Monthly struct {
	OwnerID       string
	Year          int
	Month         int
	Total         core.Money
	Categories    []CategoryTotal // descending by total, stable on ties
	PreviousTotal core.Money
	ChangePct     *float64 // nil when the previous month had no spend
	AvgDaily      core.Money
	Insights      []string
}

// Engine derives monthly statistics from a record store.
type Engine struct {
	expenses ExpenseSource
	budgets  BudgetSource
}

func NewEngine(expenses ExpenseSource, budgets BudgetSource) *Engine {
	return &Engine{expenses: expenses, budgets: budgets}
}

// Monthly computes the full statistics for a scope, including the
// period-over-period comparison and insights.
func (e *Engine) Monthly(ctx context.Context, ownerID string, year, month int) (Monthly, error) {
	current, err := e.expenses.ListExpensesByMonth(ctx, ownerID, year, month)
	if err != nil {
		return Monthly{}, fmt.Errorf("list expenses (year=%d, month=%d): %w", year, month, err)
	}

	prevYear, prevMonth := PreviousPeriod(year, month)
	previous, err := e.expenses.ListExpensesByMonth(ctx, ownerID, prevYear, prevMonth)
	if err != nil {
		return Monthly{}, fmt.Errorf("list previous expenses (year=%d, month=%d): %w", prevYear, prevMonth, err)
	}

	m := Aggregate(ownerID, year, month, current, sumAmounts(previous))

	statuses, err := e.BudgetStatuses(ctx, ownerID, month, year)
	if err != nil {
		return Monthly{}, err
	}

	m.Insights = Insights(m, statuses)

	slog.DebugContext(ctx, "Monthly stats computed",
		"owner_id", ownerID,
		"year", year,
		"month", month,
		"total_cents", m.Total.Cents,
		"categories", len(m.Categories))

	return m, nil
}

// BudgetStatuses joins each budget in scope with the current-period spend.
func (e *Engine) BudgetStatuses(ctx context.Context, ownerID string, month, year int) ([]BudgetStatus, error) {
	budgets, err := e.budgets.ListBudgets(ctx, ownerID, month, year)
	if err != nil {
		return nil, fmt.Errorf("list budgets (month=%d, year=%d): %w", month, year, err)
	}
	if len(budgets) == 0 {
		return nil, nil
	}

	expenses, err := e.expenses.ListExpensesByMonth(ctx, ownerID, year, month)
	if err != nil {
		return nil, fmt.Errorf("list expenses (year=%d, month=%d): %w", year, month, err)
	}

	return Statuses(budgets, CategoryTotals(expenses)), nil
}

// Changes computes the per-category month-over-month breakdown.
func (e *Engine) Changes(ctx context.Context, ownerID string, year, month int) (core.Money, []CategoryChange, error) {
	current, err := e.expenses.ListExpensesByMonth(ctx, ownerID, year, month)
	if err != nil {
		return core.Money{}, nil, fmt.Errorf("list expenses (year=%d, month=%d): %w", year, month, err)
	}
	prevYear, prevMonth := PreviousPeriod(year, month)
	previous, err := e.expenses.ListExpensesByMonth(ctx, ownerID, prevYear, prevMonth)
	if err != nil {
		return core.Money{}, nil, fmt.Errorf("list previous expenses (year=%d, month=%d): %w", prevYear, prevMonth, err)
	}
	return sumAmounts(current), CompareCategories(current, previous), nil
}

// Aggregate computes a Monthly from the raw records. Pure; insights are
// attached separately so budget data stays optional.
func Aggregate(ownerID string, year, month int, expenses []core.Expense, previousTotal core.Money) Monthly {
	m := Monthly{
		OwnerID:       ownerID,
		Year:          year,
		Month:         month,
		Total:         sumAmounts(expenses),
		PreviousTotal: previousTotal,
	}

	totals, order := categoryTotalsOrdered(expenses)
	for _, cat := range order {
		ct := CategoryTotal{Category: cat, Total: totals[cat]}
		if m.Total.Cents > 0 {
			ct.Percentage = roundPct(totals[cat].Cents, m.Total.Cents)
		}
		m.Categories = append(m.Categories, ct)
	}
	// Descending by total; ties keep first-encountered order.
	sort.SliceStable(m.Categories, func(i, j int) bool {
		return m.Categories[i].Total.Cents > m.Categories[j].Total.Cents
	})

	if previousTotal.Cents > 0 {
		change := float64(m.Total.Cents-previousTotal.Cents) / float64(previousTotal.Cents) * 100
		m.ChangePct = &change
	}

	days := DaysInMonth(year, month)
	m.AvgDaily = core.Money{Cents: int64(math.Round(float64(m.Total.Cents) / float64(days)))}

	return m
}

// CategoryTotals sums amounts grouped by category.
func CategoryTotals(expenses []core.Expense) map[core.Category]core.Money {
	totals, _ := categoryTotalsOrdered(expenses)
	return totals
}

// CompareCategories builds the per-category change list for every category
// with spend in the current month.
func CompareCategories(current, previous []core.Expense) []CategoryChange {
	curTotals, order := categoryTotalsOrdered(current)
	prevTotals := CategoryTotals(previous)

	var out []CategoryChange
	for _, cat := range order {
		cc := CategoryChange{Category: cat, Current: curTotals[cat], Last: prevTotals[cat]}
		if cc.Last.Cents > 0 {
			cc.ChangePct = int(math.Round(float64(cc.Current.Cents-cc.Last.Cents) / float64(cc.Last.Cents) * 100))
		}
		out = append(out, cc)
	}
	return out
}

// PreviousPeriod returns the immediately preceding calendar month, rolling
// the year back across the January boundary.
func PreviousPeriod(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// DaysInMonth returns the calendar length of a month (28-31).
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthInterval returns the closed aggregation window for a scope:
// first day 00:00:00 through last day 23:59:59.
func MonthInterval(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.Month(month), DaysInMonth(year, month), 23, 59, 59, 0, time.UTC)
	return start, end
}

func sumAmounts(expenses []core.Expense) core.Money {
	var total int64
	for _, e := range expenses {
		total += e.Amount.Cents
	}
	return core.Money{Cents: total}
}

// categoryTotalsOrdered groups amounts by category, remembering the order in
// which categories were first encountered so tie-breaks stay deterministic
// for a given record ordering.
func categoryTotalsOrdered(expenses []core.Expense) (map[core.Category]core.Money, []core.Category) {
	totals := make(map[core.Category]core.Money)
	var order []core.Category
	for _, e := range expenses {
		if _, seen := totals[e.Category]; !seen {
			order = append(order, e.Category)
		}
		totals[e.Category] = core.Money{Cents: totals[e.Category].Cents + e.Amount.Cents}
	}
	return totals, order
}

func roundPct(part, whole int64) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}
