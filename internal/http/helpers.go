package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pocketexpense/internal/auth"
	"pocketexpense/internal/core"
)

const dateLayout = "2006-01-02"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// writeDomainError maps the shared sentinels to HTTP statuses. Anything
// unclassified is a 500 with a generic body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, core.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrInvalidCategory) ||
		errors.Is(err, core.ErrInvalidPaymentMethod) ||
		errors.Is(err, core.ErrInvalidDate) ||
		errors.Is(err, core.ErrInvalidMonth) ||
		errors.Is(err, core.ErrInvalidLimit)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body", core.ErrInvalidInput)
	}
	return nil
}

// monthYearParams reads ?month and ?year, defaulting to the current period.
func monthYearParams(r *http.Request) (month, year int, err error) {
	now := time.Now()
	month = int(now.Month())
	year = now.Year()

	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		m, convErr := strconv.Atoi(v)
		if convErr != nil || m < 1 || m > 12 {
			return 0, 0, fmt.Errorf("%w: invalid month %q", core.ErrInvalidInput, v)
		}
		month = m
	}
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		y, convErr := strconv.Atoi(v)
		if convErr != nil || y < 1970 || y > 9999 {
			return 0, 0, fmt.Errorf("%w: invalid year %q", core.ErrInvalidInput, v)
		}
		year = y
	}
	return month, year, nil
}

// mustOwnerID reads the authenticated user id. Handlers behind the auth
// middleware always have one; the empty string only reaches storage queries
// that then match nothing.
func mustOwnerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func parseDateParam(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", core.ErrInvalidInput, value)
	}
	return &t, nil
}
