package http

import (
	"log/slog"
	"net/http"
	"time"

	"pocketexpense/internal/stats"
)

type categoryTotalPayload struct {
	Category   string  `json:"category"`
	Total      float64 `json:"total"`
	Percentage int     `json:"percentage"`
}

type monthlyAnalyticsResponse struct {
	TotalSpent     float64                `json:"total_spent"`
	CategoryTotals []categoryTotalPayload `json:"category_totals"`
	Insights       []string               `json:"insights"`
}

func toMonthlyResponse(m stats.Monthly) monthlyAnalyticsResponse {
	resp := monthlyAnalyticsResponse{
		TotalSpent:     m.Total.Float(),
		CategoryTotals: make([]categoryTotalPayload, 0, len(m.Categories)),
		Insights:       m.Insights,
	}
	for _, ct := range m.Categories {
		resp.CategoryTotals = append(resp.CategoryTotals, categoryTotalPayload{
			Category:   string(ct.Category),
			Total:      ct.Total.Float(),
			Percentage: ct.Percentage,
		})
	}
	return resp
}

func (s *Server) handleMonthlyAnalytics(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	month, year, err := monthYearParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := s.cachedMonthly(r, ownerID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Monthly analytics failed", "error", err, "owner_id", ownerID, "year", year, "month", month)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMonthlyResponse(m))
}

type insightFeedResponse struct {
	Insights []string `json:"insights"`
}

// handleInsightFeed serves the current-month insight lines, including the
// average daily spend.
func (s *Server) handleInsightFeed(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwnerID(r)

	now := time.Now()
	m, err := s.cachedMonthly(r, ownerID, now.Year(), int(now.Month()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Insight feed failed", "error", err, "owner_id", ownerID)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, insightFeedResponse{Insights: stats.DailyInsights(m)})
}

func (s *Server) cachedMonthly(r *http.Request, ownerID string, year, month int) (stats.Monthly, error) {
	key := statsCacheKey(ownerID, year, month)

	if m, found := s.statsCache.Get(key); found {
		slog.DebugContext(r.Context(), "Stats cache hit", "owner_id", ownerID, "year", year, "month", month)
		return m, nil
	}

	m, err := s.statsEngine.Monthly(r.Context(), ownerID, year, month)
	if err != nil {
		return stats.Monthly{}, err
	}

	s.statsCache.Set(key, m)
	return m, nil
}
