package http

import (
	"log/slog"
	"net/http"

	"pocketexpense/internal/core"
	"pocketexpense/internal/stats"
)

type budgetRequest struct {
	Category string  `json:"category"`
	Limit    float64 `json:"limit"`
	Month    int     `json:"month"`
	Year     int     `json:"year"`
}

type budgetPayload struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Limit    float64 `json:"limit"`
	Month    int     `json:"month"`
	Year     int     `json:"year"`
}

type budgetStatusPayload struct {
	budgetPayload
	Spent      float64 `json:"spent"`
	Remaining  float64 `json:"remaining"`
	Percentage int     `json:"percentage"`
	Exceeded   bool    `json:"exceeded"`
}

func toBudgetPayload(b core.Budget) budgetPayload {
	return budgetPayload{
		ID:       b.ID,
		Category: string(b.Category),
		Limit:    b.Limit.Float(),
		Month:    b.Month,
		Year:     b.Year,
	}
}

func toBudgetStatusPayload(s stats.BudgetStatus) budgetStatusPayload {
	return budgetStatusPayload{
		budgetPayload: toBudgetPayload(s.Budget),
		Spent:         s.Spent.Float(),
		Remaining:     s.Remaining.Float(),
		Percentage:    s.Percentage,
		Exceeded:      s.Exceeded,
	}
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	limit, err := core.MoneyFromFloat(req.Limit)
	if err != nil {
		writeDomainError(w, core.ErrInvalidLimit)
		return
	}

	budget := core.Budget{
		OwnerID:  ownerID,
		Category: core.Category(req.Category),
		Limit:    limit,
		Month:    req.Month,
		Year:     req.Year,
	}
	if err := budget.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	saved, err := s.repo.UpsertBudget(r.Context(), budget)
	if err != nil {
		slog.ErrorContext(r.Context(), "Upsert budget failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	s.invalidateStats(ownerID)
	writeJSON(w, http.StatusOK, toBudgetPayload(saved))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	month, year, err := monthYearParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	statuses, err := s.statsEngine.BudgetStatuses(r.Context(), ownerID, month, year)
	if err != nil {
		slog.ErrorContext(r.Context(), "List budget statuses failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	payload := make([]budgetStatusPayload, 0, len(statuses))
	for _, status := range statuses {
		payload = append(payload, toBudgetStatusPayload(status))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	if err := s.repo.DeleteBudget(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}

	s.invalidateStats(ownerID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Budget deleted"})
}
