package http

import (
	"log/slog"
	"net/http"
	"time"

	"pocketexpense/internal/core"
	"pocketexpense/internal/events"
	"pocketexpense/internal/storage"
)

type expenseRequest struct {
	ClientID      string  `json:"client_id"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"payment_method"`
	Date          string  `json:"date"`
	Note          string  `json:"note"`
}

type expensePayload struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id,omitempty"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"payment_method"`
	Date          string    `json:"date"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toExpensePayload(e core.Expense) expensePayload {
	return expensePayload{
		ID:            e.ID,
		ClientID:      e.ClientID,
		Amount:        e.Amount.Float(),
		Category:      string(e.Category),
		PaymentMethod: string(e.PaymentMethod),
		Date:          e.Date.Format(dateLayout),
		Note:          e.Note,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func (req expenseRequest) toExpense(ownerID string) (core.Expense, error) {
	amount, err := core.MoneyFromFloat(req.Amount)
	if err != nil {
		return core.Expense{}, err
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return core.Expense{}, core.ErrInvalidDate
	}

	e := core.Expense{
		OwnerID:       ownerID,
		ClientID:      req.ClientID,
		Amount:        amount,
		Category:      core.Category(req.Category),
		PaymentMethod: core.PaymentMethod(req.PaymentMethod),
		Date:          core.Date{Time: date},
		Note:          req.Note,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	expense, err := req.toExpense(ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := s.repo.CreateExpense(r.Context(), expense)
	if err != nil {
		slog.ErrorContext(r.Context(), "Create expense failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	s.invalidateStats(ownerID)
	s.publishExpenseEvents(r, created)

	writeJSON(w, http.StatusCreated, toExpensePayload(created))
}

// publishExpenseEvents emits expense.created and, when the create pushed the
// category past its monthly budget, budget.exceeded. Event failures are
// logged, never surfaced to the API caller.
func (s *Server) publishExpenseEvents(r *http.Request, e core.Expense) {
	// No publisher configured: skip the budget lookup entirely.
	if s.publisher == nil {
		return
	}
	ctx := r.Context()

	if err := s.publisher.Publish(ctx, events.NewExpenseCreatedMessage(e.OwnerID, e.ID, string(e.Category))); err != nil {
		slog.ErrorContext(ctx, "Publish expense.created failed", "error", err, "expense_id", e.ID)
	}

	month, year := e.Date.Month(), e.Date.Year()
	statuses, err := s.statsEngine.BudgetStatuses(ctx, e.OwnerID, month, year)
	if err != nil {
		slog.ErrorContext(ctx, "Budget status check failed", "error", err, "owner_id", e.OwnerID)
		return
	}
	for _, status := range statuses {
		if status.Category == e.Category && status.Exceeded {
			msg := events.NewBudgetExceededMessage(e.OwnerID, string(e.Category), month, year)
			if err := s.publisher.Publish(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Publish budget.exceeded failed", "error", err, "owner_id", e.OwnerID)
			}
		}
	}
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	var filter storage.ExpenseFilter
	from, err := parseDateParam(r.URL.Query().Get("start_date"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter.From = from

	to, err := parseDateParam(r.URL.Query().Get("end_date"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter.To = to

	if v := r.URL.Query().Get("category"); v != "" {
		cat := core.Category(v)
		if !cat.Valid() {
			writeDomainError(w, core.ErrInvalidCategory)
			return
		}
		filter.Category = &cat
	}

	list, err := s.repo.ListExpenses(r.Context(), ownerID, filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	payload := make([]expensePayload, 0, len(list))
	for _, e := range list {
		payload = append(payload, toExpensePayload(e))
	}
	writeJSON(w, http.StatusOK, payload)
}

type categoryChangePayload struct {
	Category string  `json:"category"`
	Current  float64 `json:"current"`
	Last     float64 `json:"last"`
	Change   int     `json:"change"`
}

type expenseStatsResponse struct {
	Total             float64                 `json:"total"`
	CategoryBreakdown map[string]float64      `json:"category_breakdown"`
	Insights          []categoryChangePayload `json:"insights"`
}

func (s *Server) handleExpenseStats(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	month, year, err := monthYearParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	total, changes, err := s.statsEngine.Changes(r.Context(), ownerID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense stats failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	resp := expenseStatsResponse{
		Total:             total.Float(),
		CategoryBreakdown: make(map[string]float64, len(changes)),
		Insights:          make([]categoryChangePayload, 0, len(changes)),
	}
	for _, c := range changes {
		resp.CategoryBreakdown[string(c.Category)] = c.Current.Float()
		resp.Insights = append(resp.Insights, categoryChangePayload{
			Category: string(c.Category),
			Current:  c.Current.Float(),
			Last:     c.Last.Float(),
			Change:   c.ChangePct,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	expense, err := s.repo.GetExpense(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpensePayload(expense))
}

type expensePatchRequest struct {
	Amount        *float64 `json:"amount"`
	Category      *string  `json:"category"`
	PaymentMethod *string  `json:"payment_method"`
	Date          *string  `json:"date"`
	Note          *string  `json:"note"`
}

func (req expensePatchRequest) toPatch() (core.ExpensePatch, error) {
	var patch core.ExpensePatch

	if req.Amount != nil {
		amount, err := core.MoneyFromFloat(*req.Amount)
		if err != nil {
			return core.ExpensePatch{}, err
		}
		patch.Amount = &amount
	}
	if req.Category != nil {
		cat := core.Category(*req.Category)
		patch.Category = &cat
	}
	if req.PaymentMethod != nil {
		pm := core.PaymentMethod(*req.PaymentMethod)
		patch.PaymentMethod = &pm
	}
	if req.Date != nil {
		parsed, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			return core.ExpensePatch{}, core.ErrInvalidDate
		}
		date := core.Date{Time: parsed}
		patch.Date = &date
	}
	patch.Note = req.Note

	if err := patch.Validate(); err != nil {
		return core.ExpensePatch{}, err
	}
	return patch, nil
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	var req expensePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := s.repo.UpdateExpense(r.Context(), ownerID, r.PathValue("id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.invalidateStats(ownerID)
	writeJSON(w, http.StatusOK, toExpensePayload(updated))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	if err := s.repo.DeleteExpense(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}

	s.invalidateStats(ownerID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Expense deleted"})
}
